// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package poller implements the readiness-family backends (epoll, kqueue,
// poll, select) that back ioplex.Poller. It has no knowledge of sockets, protocols or
// buffers: it only tracks interest flags per slot and turns kernel events
// into callback invocations.
package poller

import "fmt"

// Flags is the interest bit set a Slot is attached or changed with.
type Flags uint32

// Flags bits. Read and Write request readiness notifications; EdgeTriggered
// requests edge-triggered delivery (EPOLLET / EV_CLEAR) instead of the
// default level-triggered delivery. A zero Flags value means "detached".
const (
	Read Flags = 1 << iota
	Write
	EdgeTriggered
)

// String implements fmt.Stringer, mostly for log messages.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	if f&Read != 0 {
		s += "R"
	}
	if f&Write != 0 {
		s += "W"
	}
	if f&EdgeTriggered != 0 {
		s += "E"
	}
	if s == "" {
		return fmt.Sprintf("Flags(%d)", uint32(f))
	}
	return s
}

// Job is the argument type of Trigger. The backends do not run it.
type Job func() error

// Poller is the backend contract implemented by the epoll, kqueue, poll and
// select backends. A single
// Poller instance owns one kernel polling object and one slot table.
type Poller interface {
	// Wait blocks draining kernel events and dispatching callbacks until
	// Close is called. It never returns nil; callers run it in its own
	// goroutine.
	Wait() error

	// Close closes the poller and causes a blocked Wait to return.
	Close() error

	// Trigger wakes a blocked Wait. At most one wakeup is coalesced per
	// outstanding call; job is reserved for future use and may be nil.
	Trigger(Job) error

	// Control installs, changes or removes (want == 0) the interest set
	// for slot. It computes the minimum kernel operation by diffing
	// against the flags currently installed on the slot.
	Control(slot *Slot, want Flags) error
}

// New creates a Poller using the best backend for the current platform
// (epoll on Linux, or poll where the kernel does not support epoll; kqueue
// on the BSD family). ignoreCallbackError, when true, keeps a slot attached
// even if one of its callbacks panics; otherwise the recovered panic
// detaches the slot as an error, like a kernel-reported error.
func New(ignoreCallbackError bool) (Poller, error) {
	return newPoller(ignoreCallbackError)
}
