package ioplex

import (
	"sync"

	"go.uber.org/atomic"
)

// CompletionTransport wraps an OS handle for the completion family (IOCP):
// it owns the set of IOContexts currently in flight against that handle
// (spec §3 Entity: Transport (completion)).
type CompletionTransport struct {
	mu    sync.Mutex
	fd    int
	flags TransportFlags
	state atomic.Int32

	listener IOListener
	p        *CompletionPoller
	inFlight map[*IOContext]struct{}
}

// NewCompletionTransportFromHandle wraps an existing OS handle.
func NewCompletionTransportFromHandle(fd int, flags TransportFlags) (*CompletionTransport, error) {
	if fd < 0 {
		return nil, NewLogicalError("handle must be non-negative")
	}
	return &CompletionTransport{fd: fd, flags: flags, inFlight: make(map[*IOContext]struct{})}, nil
}

// FD returns the underlying handle, or -1 if closed.
func (t *CompletionTransport) FD() int {
	if transportState(t.state.Load()) == stateClosed {
		return -1
	}
	return t.fd
}

// Closed reports whether Close has been called.
func (t *CompletionTransport) Closed() bool {
	return transportState(t.state.Load()) == stateClosed
}

// Close marks the handle invalid and, unless NoAutoClose is set, closes it.
// In-flight contexts are not force-cancelled: the poller drains their
// completions and discards them (spec §4.3).
func (t *CompletionTransport) Close() error {
	if !t.state.CompareAndSwap(int32(stateAttached), int32(stateClosed)) &&
		!t.state.CompareAndSwap(int32(stateUnattached), int32(stateClosed)) {
		return nil
	}
	t.mu.Lock()
	noAutoClose := t.flags.Has(NoAutoClose)
	fd := t.fd
	t.mu.Unlock()
	if !noAutoClose && fd >= 0 {
		return closeDescriptor(fd)
	}
	return nil
}

func (t *CompletionTransport) attach(p *CompletionPoller, listener IOListener) error {
	if !t.state.CompareAndSwap(int32(stateUnattached), int32(stateAttached)) {
		return NewLogicalError("completion transport already attached or closed")
	}
	if err := p.associate(t); err != nil {
		t.state.Store(int32(stateUnattached))
		return err
	}
	t.mu.Lock()
	t.listener = listener
	t.p = p
	t.mu.Unlock()
	return nil
}

func (t *CompletionTransport) addInFlight(c *IOContext) {
	t.mu.Lock()
	t.inFlight[c] = struct{}{}
	t.mu.Unlock()
}

func (t *CompletionTransport) removeInFlight(c *IOContext) {
	t.mu.Lock()
	delete(t.inFlight, c)
	t.mu.Unlock()
}

// inFlightCount reports the number of contexts currently linked to this
// transport, used by WaitAndDiscardPendingEvents to decide when draining is
// complete.
func (t *CompletionTransport) inFlightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}
