package ioplex

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/ioplex/ioplex/internal/poller"
	"github.com/ioplex/ioplex/log"
)

// transportState is the readiness Transport's lifecycle state (spec §4.3).
type transportState int32

const (
	stateUnattached transportState = iota
	stateAttached
	stateClosed
)

// Transport wraps a file descriptor with interest flags, a listener, and a
// weak back-reference to the Poller it is attached to. A Transport is
// attached to at most one Poller during its lifetime (spec §3).
type Transport struct {
	mu    sync.Mutex
	fd    int
	flags TransportFlags
	state atomic.Int32

	listener Listener
	p        *Poller
	slot     *poller.Slot
}

// NewTransportFromDescriptor wraps an existing descriptor. It does not
// take ownership of fd for any purpose other than eventually closing it,
// unless flags includes NoAutoClose.
func NewTransportFromDescriptor(fd int, flags TransportFlags) (*Transport, error) {
	if fd < 0 {
		return nil, NewLogicalError("descriptor must be non-negative")
	}
	return &Transport{fd: fd, flags: flags}, nil
}

// FD returns the underlying descriptor, or -1 if the Transport is closed.
func (t *Transport) FD() int {
	if transportState(t.state.Load()) == stateClosed {
		return -1
	}
	return t.fd
}

// Flags returns the interest flags last installed for this transport.
func (t *Transport) Flags() TransportFlags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags
}

// Closed reports whether Close has been called (or was triggered
// internally by a hangup/error).
func (t *Transport) Closed() bool {
	return transportState(t.state.Load()) == stateClosed
}

// Close detaches the transport from its poller (if attached) and, unless
// NoAutoClose is set, closes the underlying descriptor. Idempotent (spec
// §4.3 Closed → Closed).
func (t *Transport) Close() error {
	if !t.state.CompareAndSwap(int32(stateAttached), int32(stateClosed)) &&
		!t.state.CompareAndSwap(int32(stateUnattached), int32(stateClosed)) {
		return nil // already closed
	}

	t.mu.Lock()
	slot := t.slot
	noAutoClose := t.flags.Has(NoAutoClose)
	fd := t.fd
	t.mu.Unlock()

	var closeErr error
	if slot != nil {
		closeErr = slot.Close()
		poller.FreeSlot(slot)
	}
	if !noAutoClose && fd >= 0 {
		if err := closeDescriptor(fd); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

// attach binds the transport to p's backend slot, installs the given
// interest flags in the kernel, and wires the slot's callbacks back to the
// listener. Called only by Poller.Attach.
func (t *Transport) attach(p *Poller, listener Listener, flags TransportFlags) error {
	if !t.state.CompareAndSwap(int32(stateUnattached), int32(stateAttached)) {
		return NewLogicalError("transport already attached or closed")
	}

	slot := poller.NewSlot()
	slot.FD = t.fd
	slot.Data = t
	slot.OnReadReady = func(data interface{}) { listener.OnReadReady(data.(*Transport)) }
	slot.OnWriteReady = func(data interface{}) { listener.OnWriteReady(data.(*Transport)) }
	slot.OnHangup = func(data interface{}) {
		tr := data.(*Transport)
		tr.markClosed()
		listener.OnHangup(tr)
	}
	slot.OnError = func(data interface{}, code int) {
		tr := data.(*Transport)
		tr.markClosed()
		listener.OnError(tr, NewPlatformError("poll", code, errors.Errorf("errno %d", code)))
	}

	if err := slot.Bind(p.backend); err != nil {
		t.state.Store(int32(stateUnattached))
		poller.FreeSlot(slot)
		return NewLogicalError(err.Error())
	}

	want := toPollerFlags(flags)
	if err := slot.Control(want); err != nil {
		t.state.Store(int32(stateUnattached))
		poller.FreeSlot(slot)
		if errors.Is(err, poller.ErrDescriptorTooLarge) {
			return NewLogicalError(err.Error())
		}
		return NewPlatformError("attach", 0, err)
	}

	t.mu.Lock()
	t.listener = listener
	t.p = p
	t.slot = slot
	t.flags = flags
	t.mu.Unlock()
	return nil
}

// ChangeEvents mutates the transport's interest flags, installing the
// minimum kernel operation to get there (spec §4.1 ChangeEvents). A no-op
// on a transport that has already auto-detached.
func (t *Transport) ChangeEvents(flags TransportFlags) error {
	t.mu.Lock()
	slot := t.slot
	t.mu.Unlock()
	if slot == nil || t.Closed() {
		return nil
	}
	if err := slot.Control(toPollerFlags(flags)); err != nil {
		return NewPlatformError("change_events", 0, err)
	}
	t.mu.Lock()
	t.flags = flags
	t.mu.Unlock()
	return nil
}

// markClosed transitions the transport to stateClosed on an auto-detach
// path (hangup/error). The poller backend has already uninstalled the
// kernel-side interest by the time this runs, so only the slot object and
// the descriptor itself still need releasing. Guarded by CompareAndSwap so
// a concurrent explicit Close() and an auto-detach never both run teardown.
func (t *Transport) markClosed() {
	if !t.state.CompareAndSwap(int32(stateAttached), int32(stateClosed)) {
		return
	}

	t.mu.Lock()
	slot := t.slot
	noAutoClose := t.flags.Has(NoAutoClose)
	fd := t.fd
	t.mu.Unlock()

	if slot != nil {
		poller.FreeSlot(slot)
	}
	if !noAutoClose && fd >= 0 {
		if err := closeDescriptor(fd); err != nil {
			log.Debugf("ioplex: close on auto-detach failed: %v", err)
		}
	}
}

func toPollerFlags(f TransportFlags) poller.Flags {
	var out poller.Flags
	if f.Has(Reading) {
		out |= poller.Read
	}
	if f.Has(Writing) {
		out |= poller.Write
	}
	if f.Has(EdgeTriggered) {
		out |= poller.EdgeTriggered
	}
	return out
}
