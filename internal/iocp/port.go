// Package iocp wraps the Windows completion port syscalls behind a small
// interface, mirroring the shape of internal/poller for the readiness
// family: it has no knowledge of transports, contexts or listeners, only of
// the kernel completion port itself.
package iocp

// Port is the completion-port contract implemented on Windows.
type Port interface {
	// Associate registers handle with the port, tagging every completion
	// for it with key (the CompletionTransport's identity).
	Associate(handle uintptr, key uintptr) error

	// GetQueued blocks up to timeoutMs (-1 infinite, 0 non-blocking) for a
	// completion and returns the transferred byte count, the key supplied
	// at Associate time, and the overlapped pointer that was passed to the
	// originating ReadFile/WriteFile/WSARecv/WSASend call.
	GetQueued(timeoutMs int) (bytes uint32, key uintptr, overlapped uintptr, err error)

	// Post queues a synthetic completion, used by Interrupt-equivalent
	// wakeups.
	Post(bytes uint32, key uintptr, overlapped uintptr) error

	// Close closes the port, causing a blocked GetQueued to return an
	// error.
	Close() error
}
