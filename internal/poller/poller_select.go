// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ioplex/ioplex/log"
	"github.com/ioplex/ioplex/metrics"
)

// fdSetSize mirrors glibc's FD_SETSIZE. golang.org/x/sys/unix does not
// export a per-platform constant for it on Linux, so it is hardcoded here
// to the value every Linux libc ships.
const fdSetSize = 1024

// ErrDescriptorTooLarge is returned by the select backend's Control when
// asked to watch a descriptor that select(2)'s fixed-size fd_set cannot
// represent (spec §8 Boundary behaviors: "select backend: Attach with fd
// >= FD_SETSIZE fails with LogicalError"). Transport.attach converts it to
// a LogicalError instead of the generic PlatformError it wraps every other
// Control failure in.
var ErrDescriptorTooLarge = errors.New("poller: descriptor exceeds select backend's FD_SETSIZE")

// newSelectPoller constructs the select backend named in spec §4.4's
// "Socket-only fallback" (CreateSocketSelect). It shares pollBackend's
// staged, rebuild-every-call slot table approach, since select(2) has the
// same "no kernel-side registration" property as poll(2); only the wait
// primitive and its FD_SETSIZE ceiling differ.
func newSelectPoller(ignoreCallbackError bool) (Poller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	if efd >= fdSetSize {
		unix.Close(efd)
		return nil, ErrDescriptorTooLarge
	}
	return &selectBackend{
		wakeFD:              efd,
		slots:               make(map[int32]*Slot),
		ignoreCallbackError: ignoreCallbackError,
	}, nil
}

type selectBackend struct {
	wakeFD   int
	buf      [8]byte
	notified int32

	// mu guards slots and generation; see pollBackend for the invariant
	// this enforces (Control stamps generation, only handle() advances
	// it).
	mu         sync.Mutex
	generation uint64
	slots      map[int32]*Slot

	ignoreCallbackError bool
}

// Close closes the poller and stops Wait().
func (sb *selectBackend) Close() error {
	return os.NewSyscallError("close", unix.Close(sb.wakeFD))
}

func (sb *selectBackend) notify() error {
	for {
		if _, err := unix.Write(sb.wakeFD, sb.buf[:]); err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("write", err)
			}
			return nil
		}
	}
}

// Trigger wakes the poller from Wait().
func (sb *selectBackend) Trigger(job Job) error {
	if atomic.CompareAndSwapInt32(&sb.notified, 0, 1) {
		return sb.notify()
	}
	return nil
}

// Control installs, changes or removes (want == 0) slot's interest set.
// Rejects descriptors the fixed-size fd_set cannot represent.
func (sb *selectBackend) Control(slot *Slot, want Flags) (err error) {
	if want != 0 && slot.FD >= fdSetSize {
		return ErrDescriptorTooLarge
	}
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("select control want=%s, connection may be closed", want))
		}
	}()

	sb.mu.Lock()
	if want == 0 {
		delete(sb.slots, slot.Index())
	} else {
		sb.slots[slot.Index()] = slot
	}
	gen := sb.generation
	slot.Lock()
	slot.installed = want
	slot.modified = gen
	slot.Unlock()
	sb.mu.Unlock()
	return nil
}

// Wait drains ready events and dispatches listener callbacks until Close.
func (sb *selectBackend) Wait() error {
	for {
		r, w, nfd, snapshot := sb.snapshot()
		n, err := unix.Select(nfd, &r, &w, nil, nil)
		if n < 0 && err == unix.EINTR {
			runtime.Gosched()
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		sb.handle(&r, &w, snapshot)
		metrics.Add(metrics.PollWait, 1)
		metrics.Add(metrics.PollEvents, uint64(n))
	}
}

// snapshot rebuilds the read/write fd_set passed to unix.Select from the
// current slot table (spec §4.1: "slot table mirrored into ... fd_set each
// call"), mirroring pollBackend.snapshot.
func (sb *selectBackend) snapshot() (r, w unix.FdSet, nfd int, snapshot []*Slot) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	r.Set(sb.wakeFD)
	nfd = sb.wakeFD + 1
	snapshot = make([]*Slot, 0, len(sb.slots))
	for _, slot := range sb.slots {
		if slot.installed&Read != 0 {
			r.Set(slot.FD)
		}
		if slot.installed&Write != 0 {
			w.Set(slot.FD)
		}
		if slot.FD+1 > nfd {
			nfd = slot.FD + 1
		}
		snapshot = append(snapshot, slot)
	}
	return r, w, nfd, snapshot
}

func (sb *selectBackend) handle(r, w *unix.FdSet, snapshot []*Slot) {
	sb.mu.Lock()
	sb.generation++
	gen := sb.generation
	sb.mu.Unlock()

	if r.IsSet(sb.wakeFD) {
		_, _ = unix.Read(sb.wakeFD, sb.buf[:])
		atomic.StoreInt32(&sb.notified, 0)
	}

	for _, slot := range snapshot {
		readable := r.IsSet(slot.FD)
		writable := w.IsSet(slot.FD)
		if !readable && !writable {
			continue
		}

		sb.mu.Lock()
		reKeyed := slot.modified == gen
		installed := slot.installed
		sb.mu.Unlock()
		if reKeyed {
			metrics.Add(metrics.SlotReKeySkipped, 1)
			continue
		}

		readable = readable && installed&Read != 0
		writable = writable && installed&Write != 0

		if writable && slot.OnWriteReady != nil {
			sb.invoke(slot, func() { slot.OnWriteReady(slot.Data) })
		}
		if readable && slot.OnReadReady != nil {
			sb.invoke(slot, func() { slot.OnReadReady(slot.Data) })
		}
	}
}

// invoke runs a listener callback outside the main lock, recovering a
// panic so one misbehaving listener cannot take down the whole drain.
// select(2) reports neither hangup nor error directly; a dead descriptor
// simply keeps reporting readable until the caller's own read/write sees
// the failure and closes the transport, so detach here only ever carries
// callback-panic closures.
func (sb *selectBackend) invoke(slot *Slot, fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Debugf("ioplex: listener callback panicked on fd %d: %v", slot.FD, r)
				if !sb.ignoreCallbackError {
					sb.detach([]closingSlot{{slot: slot, isError: true}})
				}
			}
		}()
		fn()
	}()
}

func (sb *selectBackend) detach(closing []closingSlot) {
	for i := range closing {
		_ = sb.Control(closing[i].slot, 0)
	}
	metrics.Add(metrics.DetachCalls, uint64(len(closing)))
	for i := range closing {
		c := closing[i]
		if c.isError && c.slot.OnError != nil {
			go c.slot.OnError(c.slot.Data, 0)
		} else if !c.isError && c.slot.OnHangup != nil {
			go c.slot.OnHangup(c.slot.Data)
		}
	}
	freeSlots()
}
