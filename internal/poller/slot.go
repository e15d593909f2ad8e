//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package poller

import (
	"sync"

	"github.com/pkg/errors"
)

// NewSlot allocates a Slot for a file descriptor in general.
func NewSlot() *Slot {
	return alloc()
}

// FreeSlot releases a Slot back to the pool. The memory is managed by the
// slot cache; forgetting to call FreeSlot leaks it.
func FreeSlot(s *Slot) {
	markSlotFree(s)
}

// Slot is a single row of a Poller's slot table (spec §3): it carries the
// callbacks a backend invokes on readiness, and the bookkeeping needed to
// detect that a slot was re-keyed mid-drain.
//
//   - installed is the interest Flags currently registered with the
//     kernel; zero means the slot is not attached to any descriptor.
//   - modified is the backend's generation counter value as of the last
//     Attach/Detach/ChangeEvents on this slot. A backend compares this
//     against the generation captured at the start of the current Poll
//     drain to decide whether a pending kernel event still refers to the
//     occupant it was read for.
type Slot struct {
	mu        sync.RWMutex
	next      *Slot
	poller    Poller
	index     int32
	installed Flags
	modified  uint64

	Data interface{}

	OnReadReady  func(data interface{})
	OnWriteReady func(data interface{})
	OnHangup     func(data interface{})
	OnError      func(data interface{}, code int)

	// FD is the file descriptor monitored by the poller.
	FD int
}

// RLock locks the Slot for reading.
func (s *Slot) RLock() { s.mu.RLock() }

// RUnlock unlocks the Slot for reading.
func (s *Slot) RUnlock() { s.mu.RUnlock() }

// Lock locks the Slot for reading and writing.
func (s *Slot) Lock() { s.mu.Lock() }

// Unlock unlocks the Slot for reading and writing.
func (s *Slot) Unlock() { s.mu.Unlock() }

// Index returns the slot's dense index in the backend's slot table.
func (s *Slot) Index() int32 { return s.index }

// Installed returns the interest flags currently registered with the
// kernel for this slot.
func (s *Slot) Installed() Flags { return s.installed }

// Bind binds the Slot to p. A Slot may only ever be bound once.
func (s *Slot) Bind(p Poller) error {
	if s.poller != nil {
		return errors.New("slot already bound to a poller")
	}
	if p == nil {
		return errors.New("poller is nil")
	}
	s.poller = p
	return nil
}

// Control asks the bound poller to install, change, or (want == 0) remove
// this slot's interest set.
func (s *Slot) Control(want Flags) error {
	if s.poller == nil {
		return errors.New("slot not bound to a poller")
	}
	return s.poller.Control(s, want)
}

// Close detaches the slot from its poller. Idempotent.
func (s *Slot) Close() error {
	if s.poller == nil {
		return nil
	}
	return s.poller.Control(s, 0)
}

func (s *Slot) reset() {
	s.FD = 0
	s.Data = nil
	s.OnReadReady, s.OnWriteReady, s.OnHangup, s.OnError = nil, nil, nil, nil
	s.poller = nil
	s.installed = 0
}
