//go:build !windows

package ioplex

import "errors"

var errNoCompletionBackend = errors.New("ioplex: completion family is only available on windows")

func platformIssue(fd int, kind opKind, buf []byte, overlapped *overlappedHeader) (bytes uint32, completed bool, err error) {
	return 0, true, errNoCompletionBackend
}

func setImmediateDelivery(fd int) bool { return false }

func isHandleEOF(err error) bool { return false }

func isMoreData(err error) bool { return false }
