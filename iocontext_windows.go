//go:build windows

package ioplex

import "golang.org/x/sys/windows"

// overlappedHeader is the OS-defined per-operation header IOCP correlates a
// completion back to. CompletionPoller resolves a completion's overlapped
// pointer to its IOContext through its registry, keyed by this field's
// address, so the field's position inside IOContext does not matter.
type overlappedHeader = windows.Overlapped
