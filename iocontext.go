package ioplex

import (
	"go.uber.org/atomic"

	"github.com/ioplex/ioplex/metrics"
)

// opKind distinguishes the two completion-family operations.
type opKind int

const (
	opRead opKind = iota
	opWrite
)

// IOContext is the per-operation opaque state for the completion family: it
// carries caller-supplied user data and tracks the link/unlink ownership
// hand-off between user space and the kernel's completion queue (spec §3
// Entity: IOContext, §4.2 Ownership & lifetime).
//
// At most one operation may be in flight on a given IOContext at a time; a
// context becomes reusable only after its completion surfaces back to the
// caller, either synchronously in an IOResult or via a listener callback.
type IOContext struct {
	// UserData is an opaque machine word the caller may use to correlate a
	// completion back to application state.
	UserData uintptr

	kind      opKind
	linked    atomic.Bool
	transport *CompletionTransport
	overlapped overlappedHeader
}

// NewIOContext allocates a reusable IOContext. A single IOContext may be
// reused for any number of operations, serially, once each prior operation
// has surfaced its completion.
func NewIOContext(userData uintptr) *IOContext {
	return &IOContext{UserData: userData}
}

// inFlight reports whether this context is currently linked to a transport,
// i.e. owned by the kernel's completion queue rather than the caller.
func (c *IOContext) inFlight() bool {
	return c.linked.Load()
}

// link transfers ownership of c from the caller to the in-flight set,
// recording which transport and operation kind it belongs to. It MUST be
// called before the syscall that could complete it, per spec §4.2 step 1.
func (c *IOContext) link(t *CompletionTransport, kind opKind) error {
	if !c.linked.CompareAndSwap(false, true) {
		return NewLogicalError("io context already has an operation in flight")
	}
	c.kind = kind
	c.transport = t
	t.addInFlight(c)
	metrics.Add(metrics.CompletionContextsLinked, 1)
	return nil
}

// unlink transfers ownership of c back to the caller: when the syscall
// failed synchronously, when the operation completed immediately under
// ImmediateDelivery and no kernel completion will arrive, or when Poll
// dequeues its completion.
func (c *IOContext) unlink() {
	if !c.linked.CompareAndSwap(true, false) {
		return
	}
	t := c.transport
	c.transport = nil
	if t != nil {
		t.removeInFlight(c)
	}
}
