package ioplex

// Listener receives readiness-family notifications for a Transport. All
// methods are invoked with the owning Poller's main lock released; a
// listener is free to call Close, ChangeEvents or even Attach on other
// transports from within a callback.
type Listener interface {
	// OnReadReady is invoked when the Transport's descriptor is readable
	// (or, for edge-triggered transports, became readable since the last
	// notification). The listener is responsible for reading until
	// EAGAIN/EWOULDBLOCK under edge-triggered delivery.
	OnReadReady(t *Transport)

	// OnWriteReady is invoked symmetrically with OnReadReady for the
	// Writing interest flag.
	OnWriteReady(t *Transport)

	// OnHangup is invoked once when the peer performs an orderly shutdown
	// (POLLHUP/EPOLLRDHUP/EV_EOF). The transport is auto-detached before
	// this callback runs.
	OnHangup(t *Transport)

	// OnError is invoked once when the kernel reports an error condition
	// on the descriptor (EPOLLERR, EV_ERROR). The transport is
	// auto-detached before this callback runs.
	OnError(t *Transport, err error)
}

// IOListener receives completion-family notifications.
type IOListener interface {
	// OnRead is invoked when a Read IOContext surfaces its completion via
	// Poll rather than immediately to the initiating caller.
	OnRead(t *CompletionTransport, result *IOResult)

	// OnWrite is invoked symmetrically with OnRead for Write operations.
	OnWrite(t *CompletionTransport, result *IOResult)
}
