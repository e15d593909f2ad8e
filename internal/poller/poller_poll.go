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

// newPollPoller constructs the poll backend (spec §4.1, §4.4): the Linux
// fallback used when the running kernel predates epoll. Unlike epoll and
// kqueue, poll(2) carries no kernel-side registration, so pollBackend keeps
// its own table of attached slots and rebuilds the pollfd[] passed to
// unix.Poll from scratch at the top of every Wait iteration, exactly as
// spec §4.1 describes for this backend family.
func newPollPoller(ignoreCallbackError bool) (Poller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &pollBackend{
		wakeFD:              efd,
		slots:               make(map[int32]*Slot),
		ignoreCallbackError: ignoreCallbackError,
	}, nil
}

type pollBackend struct {
	wakeFD   int
	buf      [8]byte
	notified int32

	// mu guards slots and generation, and serializes Control against
	// handle()'s bookkeeping. Only handle() advances generation, once per
	// drain; Control merely stamps the current value onto slot.modified,
	// so a slot re-keyed during the drain that captured gen compares
	// equal to it - the same invariant the epoll and kqueue backends
	// enforce, even though this backend rebuilds its fd list every pass
	// instead of holding kernel-side registration between calls.
	mu         sync.Mutex
	generation uint64
	slots      map[int32]*Slot

	ignoreCallbackError bool
}

// Close closes the poller and stops Wait().
func (pb *pollBackend) Close() error {
	return os.NewSyscallError("close", unix.Close(pb.wakeFD))
}

func (pb *pollBackend) notify() error {
	for {
		if _, err := unix.Write(pb.wakeFD, pb.buf[:]); err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("write", err)
			}
			return nil
		}
	}
}

// Trigger wakes the poller from Wait().
func (pb *pollBackend) Trigger(job Job) error {
	if atomic.CompareAndSwapInt32(&pb.notified, 0, 1) {
		return pb.notify()
	}
	return nil
}

// Control installs, changes or removes (want == 0) slot's interest set.
// poll(2) has no kernel-side registration to update; the change takes
// effect the next time Wait rebuilds its pollfd[] from the slot table.
func (pb *pollBackend) Control(slot *Slot, want Flags) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("poll control want=%s, connection may be closed", want))
		}
	}()

	pb.mu.Lock()
	if want == 0 {
		delete(pb.slots, slot.Index())
	} else {
		pb.slots[slot.Index()] = slot
	}
	gen := pb.generation
	slot.Lock()
	slot.installed = want
	slot.modified = gen
	slot.Unlock()
	pb.mu.Unlock()
	return nil
}

// Wait drains ready events and dispatches listener callbacks until Close.
func (pb *pollBackend) Wait() error {
	for {
		fds, snapshot := pb.snapshot()
		n, err := unix.Poll(fds, -1)
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
		pb.handle(fds, snapshot)
		metrics.Add(metrics.PollWait, 1)
		metrics.Add(metrics.PollEvents, uint64(n))
	}
}

// snapshot rebuilds the pollfd[] passed to unix.Poll from the current slot
// table (spec §4.1). Index 0 is always the wake descriptor; snapshot[i] is
// the Slot that fds[i+1] refers to.
func (pb *pollBackend) snapshot() ([]unix.PollFd, []*Slot) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	fds := make([]unix.PollFd, 1, len(pb.slots)+1)
	fds[0] = unix.PollFd{Fd: int32(pb.wakeFD), Events: unix.POLLIN}
	snapshot := make([]*Slot, 0, len(pb.slots))
	for _, slot := range pb.slots {
		var events int16
		if slot.installed&Read != 0 {
			events |= unix.POLLIN | unix.POLLPRI
		}
		if slot.installed&Write != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(slot.FD), Events: events})
		snapshot = append(snapshot, slot)
	}
	return fds, snapshot
}

func (pb *pollBackend) handle(fds []unix.PollFd, snapshot []*Slot) {
	pb.mu.Lock()
	pb.generation++
	gen := pb.generation
	pb.mu.Unlock()

	if fds[0].Revents != 0 {
		_, _ = unix.Read(pb.wakeFD, pb.buf[:])
		atomic.StoreInt32(&pb.notified, 0)
	}

	var closing []closingSlot
	for i, slot := range snapshot {
		evt := fds[i+1]
		if evt.Revents == 0 {
			continue
		}

		pb.mu.Lock()
		reKeyed := slot.modified == gen
		installed := slot.installed
		pb.mu.Unlock()
		if reKeyed {
			// This slot was detached and possibly reattached during the
			// current drain; the event describes its previous occupant.
			metrics.Add(metrics.SlotReKeySkipped, 1)
			continue
		}

		if evt.Revents&unix.POLLERR != 0 {
			closing = append(closing, closingSlot{slot: slot, isError: true})
			continue
		}
		if evt.Revents&(unix.POLLHUP|unix.POLLNVAL) != 0 {
			closing = append(closing, closingSlot{slot: slot})
			continue
		}

		readable := evt.Revents&(unix.POLLIN|unix.POLLPRI) != 0 && installed&Read != 0
		writable := evt.Revents&unix.POLLOUT != 0 && installed&Write != 0

		if writable && slot.OnWriteReady != nil {
			pb.invoke(slot, func() { slot.OnWriteReady(slot.Data) })
		}
		if readable && slot.OnReadReady != nil {
			pb.invoke(slot, func() { slot.OnReadReady(slot.Data) })
		}
	}
	if len(closing) > 0 {
		pb.detach(closing)
	}
}

// invoke runs a listener callback outside the main lock, recovering a
// panic so one misbehaving listener cannot take down the whole drain.
func (pb *pollBackend) invoke(slot *Slot, fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Debugf("ioplex: listener callback panicked on fd %d: %v", slot.FD, r)
				if !pb.ignoreCallbackError {
					pb.detach([]closingSlot{{slot: slot, isError: true}})
				}
			}
		}()
		fn()
	}()
}

func (pb *pollBackend) detach(closing []closingSlot) {
	for i := range closing {
		_ = pb.Control(closing[i].slot, 0)
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
