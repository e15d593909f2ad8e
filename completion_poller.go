package ioplex

import (
	"time"
	"unsafe"

	"github.com/cornelk/hashmap"

	"github.com/ioplex/ioplex/internal/iocp"
	"github.com/ioplex/ioplex/log"
	"github.com/ioplex/ioplex/metrics"
)

// CompletionPoller is the completion-family multiplexer (IOCP, component F).
// It resolves each completion's overlapped pointer back to the IOContext
// that issued it via a lock-free registry, matching §4.2's "resolves the
// owning Transport + IOContext via the overlapped pointer".
type CompletionPoller struct {
	port              iocp.Port
	registry          *hashmap.HashMap
	immediateRequired bool
}

// NewCompletionPoller constructs a completion-family poller. Unavailable off
// Windows.
func NewCompletionPoller(opts ...Option) (*CompletionPoller, error) {
	port, err := iocp.New()
	if err != nil {
		return nil, NewPlatformError("new_completion_poller", 0, err)
	}
	return &CompletionPoller{port: port, registry: &hashmap.HashMap{}}, nil
}

// Attach associates t's handle with the completion port. Once attached, all
// I/O on that handle must be initiated through Read/Write below.
func (p *CompletionPoller) Attach(t *CompletionTransport, listener IOListener) error {
	if t == nil || listener == nil {
		return NewLogicalError("attach requires a non-nil transport and listener")
	}
	if p.immediateRequired && !p.EnableImmediateDelivery(t) {
		return NewLogicalError("immediate delivery is required but unavailable for this handle")
	}
	if err := t.attach(p, listener); err != nil {
		return err
	}
	metrics.Add(metrics.AttachCalls, 1)
	return nil
}

func (p *CompletionPoller) associate(t *CompletionTransport) error {
	if err := p.port.Associate(uintptr(t.fd), uintptr(unsafe.Pointer(t))); err != nil {
		return NewPlatformError("associate", 0, err)
	}
	return nil
}

// EnableImmediateDelivery attempts to set the per-handle flag that
// suppresses a completion-port notification when an operation finishes
// synchronously. Returns false where the platform cannot support it.
func (p *CompletionPoller) EnableImmediateDelivery(t *CompletionTransport) bool {
	if !setImmediateDelivery(t.fd) {
		return false
	}
	t.mu.Lock()
	t.flags |= ImmediateDelivery
	t.mu.Unlock()
	return true
}

// RequireImmediateDelivery causes subsequent Attach calls on transports that
// cannot support immediate delivery to fail, instead of silently behaving
// like EnableImmediateDelivery returning false.
func (p *CompletionPoller) RequireImmediateDelivery() {
	p.immediateRequired = true
}

// Poll dequeues up to one completion, resolving the owning transport and
// context and invoking the listener's OnRead/OnWrite (spec §4.2 Poll).
// timeoutMs follows Poller.Poll's convention: -1 infinite, 0 non-blocking.
func (p *CompletionPoller) Poll(timeoutMs int) error {
	bytes, key, overlapped, err := p.port.GetQueued(timeoutMs)
	metrics.Add(metrics.PollWait, 1)
	if overlapped == 0 {
		if err != nil {
			return NewPlatformError("poll", 0, err)
		}
		return nil // spurious wakeup (e.g. Interrupt's synthetic completion)
	}
	metrics.Add(metrics.PollEvents, 1)

	v, ok := p.registry.Get(overlapped)
	if !ok {
		// Completion for a context that was already unlinked and possibly
		// reused; nothing to deliver.
		return nil
	}
	p.registry.Del(overlapped)
	metrics.Add(metrics.CompletionContextsUnlinked, 1)

	ctx := v.(*IOContext)
	t := (*CompletionTransport)(unsafe.Pointer(key))
	ctx.unlink()

	if t.Closed() {
		return nil
	}

	result := &IOResult{Bytes: int(bytes)}
	classifyCompletionStatus(result, err)

	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()
	if listener == nil {
		return nil
	}
	switch ctx.kind {
	case opRead:
		listener.OnRead(t, result)
	case opWrite:
		listener.OnWrite(t, result)
	}
	return nil
}

// Interrupt wakes a blocked Poll with a synthetic, zero-length completion.
func (p *CompletionPoller) Interrupt() error {
	if err := p.port.Post(0, 0, 0); err != nil {
		return NewPlatformError("interrupt", 0, err)
	}
	return nil
}

// WaitAndDiscardPendingEvents drains the completion port until transport has
// no contexts still linked, or deadline elapses. Used before destruction so
// a Transport is never freed while the kernel still holds a reference to one
// of its contexts (spec §4.2).
func (p *CompletionPoller) WaitAndDiscardPendingEvents(t *CompletionTransport, deadline time.Duration) error {
	var cutoff time.Time
	if deadline > 0 {
		cutoff = time.Now().Add(deadline)
	}
	for t.inFlightCount() > 0 {
		if deadline > 0 && time.Now().After(cutoff) {
			log.Debugf("ioplex: WaitAndDiscardPendingEvents gave up with %d contexts still in flight", t.inFlightCount())
			return NewLogicalError("timed out draining in-flight completions")
		}
		if err := p.Poll(100); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the completion port, causing a blocked Poll to return an
// error.
func (p *CompletionPoller) Close() error {
	if err := p.port.Close(); err != nil {
		return NewPlatformError("close", 0, err)
	}
	return nil
}

// Read issues an overlapped read of ctx against t (spec §4.2 per-operation
// protocol). ctx is linked before the syscall so a fast completion on
// another thread cannot race the context out from under this call.
func (p *CompletionPoller) Read(t *CompletionTransport, ctx *IOContext, buf []byte) (*IOResult, error) {
	return p.issue(t, ctx, opRead, buf)
}

// Write issues an overlapped write of buf via ctx against t, symmetric with
// Read.
func (p *CompletionPoller) Write(t *CompletionTransport, ctx *IOContext, buf []byte) (*IOResult, error) {
	return p.issue(t, ctx, opWrite, buf)
}

func (p *CompletionPoller) issue(t *CompletionTransport, ctx *IOContext, kind opKind, buf []byte) (*IOResult, error) {
	if t.Closed() {
		return nil, NewLogicalError("transport is closed")
	}
	if err := ctx.link(t, kind); err != nil {
		return nil, err
	}

	overlapped := uintptr(unsafe.Pointer(&ctx.overlapped))
	p.registry.Insert(overlapped, ctx)

	bytes, completed, err := platformIssue(t.fd, kind, buf, &ctx.overlapped)
	result := &IOResult{Bytes: int(bytes)}
	classifyCompletionStatus(result, err)

	switch {
	case result.Error != nil && !result.Ended && !result.MoreData:
		p.registry.Del(overlapped)
		ctx.unlink()
		metrics.Add(metrics.CompletionContextsUnlinked, 1)
		result.Context = ctx
		return result, result.Error
	case completed:
		result.Completed = true
		if t.flags.Has(ImmediateDelivery) {
			p.registry.Del(overlapped)
			ctx.unlink()
			metrics.Add(metrics.CompletionContextsUnlinked, 1)
			result.Context = ctx
		}
		// Without ImmediateDelivery, a synchronously completed operation
		// still posts to the port (classic IOCP behavior); leave ctx
		// linked so Poll delivers it exactly once, matching scenario (5).
		return result, nil
	default:
		// Pending: ctx stays linked, caller must not reuse it until the
		// listener callback surfaces it.
		return &IOResult{Completed: false}, nil
	}
}

// classifyCompletionStatus folds a raw completion error into the IOResult's
// Ended/MoreData/Error fields, per spec §4.2 step 4.
func classifyCompletionStatus(result *IOResult, err error) {
	if err == nil {
		return
	}
	switch {
	case isHandleEOF(err):
		result.Ended = true
	case isMoreData(err):
		result.MoreData = true
	default:
		result.Error = err
	}
}
