//go:build !windows

package iocp

import "errors"

// New always fails off Windows; the completion family has no backend there.
func New() (Port, error) {
	return nil, errors.New("iocp: no completion port backend for this platform")
}
