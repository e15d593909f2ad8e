//go:build !windows

package ioplex

import "golang.org/x/sys/unix"

// closeDescriptor closes a raw file descriptor.
func closeDescriptor(fd int) error {
	return unix.Close(fd)
}
