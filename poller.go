package ioplex

import (
	"github.com/ioplex/ioplex/internal/poller"
	"github.com/ioplex/ioplex/internal/safejob"
	"github.com/ioplex/ioplex/log"
	"github.com/ioplex/ioplex/metrics"
)

// options holds the functional-options configuration surface for NewPoller.
// There are no config files or environment variables (spec §6); this struct
// is the only configuration surface in the package.
type options struct {
	ignoreCallbackError bool
}

// Option configures a Poller at construction time.
type Option func(*options)

// WithIgnoreCallbackError keeps a transport attached even if its listener
// callback panics, logging the recovered panic at Debug instead of
// auto-detaching the transport as if it were a kernel-reported error.
func WithIgnoreCallbackError(ignore bool) Option {
	return func(o *options) { o.ignoreCallbackError = ignore }
}

// Poller is the readiness-family multiplexer. NewPoller picks epoll on Linux
// (poll on kernels that predate it) and kqueue on the BSD family;
// NewSocketPollPoller and NewSocketSelectPoller force the poll and select
// backends. A Poller owns exactly one kernel polling object and dispatches
// listener callbacks for every Transport attached to it.
type Poller struct {
	backend poller.Poller

	// runGuard and closeGuard are each a single-use safejob.OnceJob: Run
	// and Close must each take effect at most once, and Attach needs to
	// check closeGuard's state without taking any lock.
	runGuard   safejob.OnceJob
	closeGuard safejob.OnceJob
}

// NewPoller picks the best readiness backend for the current platform and
// constructs a Poller around it (component G, spec §4.4). On Linux this is
// epoll, falling back to poll when the running kernel predates epoll
// (internal/poller.New makes that capability check).
func NewPoller(opts ...Option) (*Poller, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := poller.New(o.ignoreCallbackError)
	if err != nil {
		return nil, NewPlatformError("new_poller", 0, err)
	}
	return &Poller{backend: backend}, nil
}

// NewSocketPollPoller forces the poll backend instead of letting NewPoller
// auto-select (spec §4.4 "Socket-only fallback: CreateSocketPoll"). The poll
// backend exists only on Linux; elsewhere this returns a PlatformError.
// Unlike epoll/kqueue it needs no kernel-side registration, at the cost of
// an O(n) rebuild of its watch list on every wait.
func NewSocketPollPoller(opts ...Option) (*Poller, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := poller.NewPoll(o.ignoreCallbackError)
	if err != nil {
		return nil, NewPlatformError("new_socket_poll_poller", 0, err)
	}
	return &Poller{backend: backend}, nil
}

// NewSocketSelectPoller forces the select backend (spec §4.4 "Socket-only
// fallback: ... CreateSocketSelect"). Attach fails with a LogicalError for
// any descriptor at or above FD_SETSIZE (spec §8 Boundary behaviors).
func NewSocketSelectPoller(opts ...Option) (*Poller, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := poller.NewSelect(o.ignoreCallbackError)
	if err != nil {
		return nil, NewPlatformError("new_socket_select_poller", 0, err)
	}
	return &Poller{backend: backend}, nil
}

// Run starts the poller's dispatch loop in its own goroutine. It is safe to
// call Run multiple times; only the first call has any effect. Attach may be
// called before or after Run.
func (p *Poller) Run() {
	if !p.runGuard.Begin() {
		return
	}
	go func() {
		if err := p.backend.Wait(); err != nil && !p.closeGuard.Closed() {
			log.Errorf("ioplex: poller dispatch loop exited: %v", err)
		}
	}()
}

// Attach assigns a slot to transport, installs flags in the kernel, and
// wires listener to receive readiness callbacks (spec §4.1 Attach). Run must
// have been called, or be called afterward, for events to be dispatched.
func (p *Poller) Attach(t *Transport, listener Listener, flags TransportFlags) error {
	if t == nil || listener == nil {
		return NewLogicalError("attach requires a non-nil transport and listener")
	}
	if p.closeGuard.Closed() {
		return NewLogicalError("poller is closed")
	}
	if err := t.attach(p, listener, flags); err != nil {
		return err
	}
	metrics.Add(metrics.AttachCalls, 1)
	return nil
}

// Interrupt wakes a blocked dispatch loop. If the loop is not currently
// blocked in the kernel wait, the wakeup stays pending and the next wait
// returns at once.
func (p *Poller) Interrupt() error {
	if err := p.backend.Trigger(nil); err != nil {
		return NewPlatformError("interrupt", 0, err)
	}
	return nil
}

// Close closes the poller's kernel object, which causes the dispatch loop
// started by Run to return. It does not close or detach any Transport still
// attached; callers are responsible for closing transports first.
func (p *Poller) Close() error {
	if !p.closeGuard.Begin() {
		return nil
	}
	if err := p.backend.Close(); err != nil {
		return NewPlatformError("close", 0, err)
	}
	return nil
}
