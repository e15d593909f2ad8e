//go:build !windows

package ioplex

// overlappedHeader has no meaning off Windows; the completion family is
// unavailable there (see completion_io_other.go).
type overlappedHeader struct{}
