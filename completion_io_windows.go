//go:build windows

package ioplex

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// soType is SO_TYPE, used to classify a handle as a socket before issuing
// WSARecv/WSASend against it. golang.org/x/sys/windows does not export it.
const soType = 0x1008

// isSocketHandle reports whether h is a socket, by attempting the getsockopt
// call every socket handle answers and no file or pipe handle does.
func isSocketHandle(h windows.Handle) bool {
	_, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, soType)
	return err == nil
}

// platformIssue performs the actual read/write call for kind, classifying
// an immediate IO_PENDING as "not completed" rather than an error, per spec
// §4.2 step 3. Socket handles go through WSARecv/WSASend (spec §6's named
// kernel surface for the completion backend); file and pipe handles use
// ReadFile/WriteFile, which is the only pair IOCP supports for them.
func platformIssue(fd int, kind opKind, buf []byte, overlapped *windows.Overlapped) (bytes uint32, completed bool, err error) {
	h := windows.Handle(fd)
	var p *byte
	if len(buf) > 0 {
		p = &buf[0]
	}
	switch {
	case isSocketHandle(h):
		wsabuf := windows.WSABuf{Len: uint32(len(buf)), Buf: p}
		if kind == opRead {
			var flags uint32
			err = windows.WSARecv(h, &wsabuf, 1, &bytes, &flags, overlapped, nil)
		} else {
			err = windows.WSASend(h, &wsabuf, 1, &bytes, 0, overlapped, nil)
		}
	case kind == opRead:
		err = windows.ReadFile(h, unsafe.Slice(p, len(buf)), &bytes, overlapped)
	default:
		err = windows.WriteFile(h, unsafe.Slice(p, len(buf)), &bytes, overlapped)
	}
	if err == windows.ERROR_IO_PENDING {
		return bytes, false, nil
	}
	return bytes, true, err
}

// setImmediateDelivery asks the kernel to suppress a completion-port
// notification when fd's operation finishes synchronously.
func setImmediateDelivery(fd int) bool {
	const skipCompletionPortOnSuccess = 0x1
	err := windows.SetFileCompletionNotificationModes(windows.Handle(fd), skipCompletionPortOnSuccess)
	return err == nil
}

func isHandleEOF(err error) bool {
	return err == windows.ERROR_HANDLE_EOF
}

func isMoreData(err error) bool {
	return err == windows.ERROR_MORE_DATA
}
