//go:build windows

package netutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// DupFD duplicates fd so the Transport and the original socket wrapper can
// be closed independently of each other.
func DupFD(fd int) (int, error) {
	var dup windows.Handle
	proc := windows.CurrentProcess()
	err := windows.DuplicateHandle(proc, windows.Handle(fd), proc, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return -1, errors.Wrap(err, "duplicate_handle")
	}
	return int(dup), nil
}
