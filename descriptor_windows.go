//go:build windows

package ioplex

import "golang.org/x/sys/windows"

// closeDescriptor closes a raw handle: the int a Transport stores as its
// descriptor, cast to windows.Handle.
func closeDescriptor(fd int) error {
	return windows.CloseHandle(windows.Handle(fd))
}
