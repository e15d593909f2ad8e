//go:build !windows

package netutil

import (
	"syscall"

	"github.com/pkg/errors"
)

// DupFD duplicates fd so the Transport and the original socket wrapper can
// be closed independently of each other.
func DupFD(fd int) (int, error) {
	newFD, err := syscall.Dup(fd)
	if err != nil {
		return -1, errors.Wrap(err, "dup")
	}
	return newFD, nil
}
