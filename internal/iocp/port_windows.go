//go:build windows

package iocp

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// New creates a fresh completion port not yet associated with any handle.
func New() (Port, error) {
	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &port{handle: h}, nil
}

type port struct {
	handle windows.Handle
}

func (p *port) Associate(handle uintptr, key uintptr) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(handle), p.handle, key, 0)
	return err
}

func (p *port) GetQueued(timeoutMs int) (bytes uint32, key uintptr, overlapped uintptr, err error) {
	var n uint32
	var ckey uintptr
	var ov *windows.Overlapped
	ms := uint32(timeoutMs)
	if timeoutMs < 0 {
		ms = windows.INFINITE
	}
	err = windows.GetQueuedCompletionStatus(p.handle, &n, &ckey, &ov, ms)
	return n, ckey, uintptr(unsafe.Pointer(ov)), err
}

func (p *port) Post(bytes uint32, key uintptr, overlapped uintptr) error {
	return windows.PostQueuedCompletionStatus(p.handle, bytes, key, (*windows.Overlapped)(unsafe.Pointer(overlapped)))
}

func (p *port) Close() error {
	return windows.CloseHandle(p.handle)
}
