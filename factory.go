package ioplex

import (
	"syscall"

	"github.com/ioplex/ioplex/internal/netutil"
)

// TransportFactory builds readiness-family Transports (component G, spec
// §4.4, §6). The zero value is ready to use.
type TransportFactory struct{}

// NewTransportFactory returns a ready-to-use TransportFactory.
func NewTransportFactory() *TransportFactory {
	return &TransportFactory{}
}

// CreateFromDescriptor wraps an existing, already non-blocking descriptor.
// The factory does not set the descriptor non-blocking itself: the caller
// is expected to have done so, matching a net.Conn's SetNonblock or an
// os.File opened O_NONBLOCK.
func (f *TransportFactory) CreateFromDescriptor(fd int, flags TransportFlags) (*Transport, error) {
	return NewTransportFromDescriptor(fd, flags)
}

// syscallConner is satisfied by *net.TCPConn, *net.UDPConn, *net.UnixConn
// and *os.File.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// CreateFromSocket extracts the raw descriptor backing socket and wraps it
// in a Transport. Unless flags includes SocketNoAutoClose, the descriptor is
// duplicated first so that closing the Transport does not also invalidate
// socket, and vice versa.
func (f *TransportFactory) CreateFromSocket(socket syscallConner, flags SocketFlags) (*Transport, error) {
	fd, err := netutil.GetFD(socket)
	if err != nil {
		return nil, NewPlatformError("create_from_socket", 0, err)
	}

	tflags := TransportFlags(0)
	if flags&SocketNoAutoClose != 0 {
		tflags |= NoAutoClose
	} else {
		dup, err := netutil.DupFD(fd)
		if err != nil {
			return nil, NewPlatformError("create_from_socket", 0, err)
		}
		fd = dup
	}
	return NewTransportFromDescriptor(fd, tflags)
}

// CreateCompletionFromHandle wraps an existing OS handle for the completion
// family (IOCP). The transport can be created on any platform; attaching it
// needs a CompletionPoller, which exists only on Windows.
func (f *TransportFactory) CreateCompletionFromHandle(fd int, flags TransportFlags) (*CompletionTransport, error) {
	return NewCompletionTransportFromHandle(fd, flags)
}
