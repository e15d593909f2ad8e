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
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ioplex/ioplex/internal/poller/event"
	"github.com/ioplex/ioplex/log"
	"github.com/ioplex/ioplex/metrics"
)

const (
	// rwatch is always monitored regardless of interest, so hangup/error
	// conditions surface even on a write-only slot.
	rwatch            = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
	defaultEventCount = 64
	maxEventCount     = math.MaxInt32 / 2
)

// newEpollPoller constructs the epoll backend. Callers pick this over
// newPollPoller only when platform.HasEpoll() reports the running kernel
// supports it (spec §4.4 "Linux: epoll if kernel >= 2.5.44 ... else poll");
// the selection itself lives in selector_linux.go.
func newEpollPoller(ignoreCallbackError bool) (Poller, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	// Provide EFD_CLOEXEC flag for consistency with Go runtime.
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	wake := alloc()
	wake.FD = efd
	ep := &epoll{
		fd:                  fd,
		wake:                wake,
		events:              make([]event.EpollEvent, defaultEventCount),
		ignoreCallbackError: ignoreCallbackError,
	}
	wakeEvt := event.EpollEvent{Events: unix.EPOLLIN}
	*(**Slot)(unsafe.Pointer(&wakeEvt.Data)) = wake
	if err := epollCtl(fd, unix.EPOLL_CTL_ADD, efd, &wakeEvt); err != nil {
		unix.Close(fd)
		unix.Close(efd)
		return nil, os.NewSyscallError("epoll_ctl add (wake fd)", err)
	}
	return ep, nil
}

type epoll struct {
	fd       int
	wake     *Slot
	buf      [8]byte
	notified int32

	// mu is the poller's main lock: it guards generation and serializes
	// Control against the bookkeeping phase of handle(). Only handle()
	// advances generation, once per drain; Control merely stamps the
	// current value onto slot.modified, so a slot re-keyed during the
	// drain that captured gen compares equal to it.
	mu         sync.Mutex
	generation uint64

	events              []event.EpollEvent
	ignoreCallbackError bool
}

func epollWait(epfd int, events []event.EpollEvent, msec int) (n int, err error) {
	var r0 uintptr
	_p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.PollNoWait, 1)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	metrics.Add(metrics.PollWait, 1)
	metrics.Add(metrics.PollEvents, uint64(r0))
	return int(r0), err
}

// Wait drains ready events and dispatches listener callbacks until Close.
func (ep *epoll) Wait() error {
	msec := -1
	for {
		n, err := epollWait(ep.fd, ep.events, msec)
		if err != nil && err != unix.EINTR {
			return err
		}
		if n <= 0 {
			msec = -1
			runtime.Gosched()
			continue
		}
		msec = 0
		ep.handle(n)
		ep.maybeGrow(n)
	}
}

// maybeGrow doubles the event buffer when a drain came back completely
// full, up to maxEventCount (spec §4.1 event-buffer growth). Reallocation
// happens under no lock; a failed allocation is silently skipped and
// retried on the next saturated drain.
func (ep *epoll) maybeGrow(n int) {
	if n != len(ep.events) || len(ep.events) >= maxEventCount {
		return
	}
	newSize := len(ep.events) * 2
	if newSize > maxEventCount {
		newSize = maxEventCount
	}
	grown := make([]event.EpollEvent, newSize)
	copy(grown, ep.events)
	ep.events = grown
	metrics.Add(metrics.EventBufferGrow, 1)
}

func (ep *epoll) notify() error {
	for {
		if _, err := unix.Write(ep.wake.FD, ep.buf[:]); err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("write", err)
			}
			return nil
		}
	}
}

func (ep *epoll) handle(n int) {
	ep.mu.Lock()
	ep.generation++
	gen := ep.generation
	ep.mu.Unlock()

	var closing []closingSlot
	for i := 0; i < n; i++ {
		evt := ep.events[i]
		slot := *(**Slot)(unsafe.Pointer(&evt.Data))
		if slot == ep.wake {
			_, _ = unix.Read(ep.wake.FD, ep.buf[:])
			atomic.StoreInt32(&ep.notified, 0)
			continue
		}

		ep.mu.Lock()
		reKeyed := slot.modified == gen
		installed := slot.installed
		ep.mu.Unlock()
		if reKeyed {
			// This slot was detached and possibly reattached during the
			// current drain; the event describes its previous occupant.
			metrics.Add(metrics.SlotReKeySkipped, 1)
			continue
		}

		if evt.Events&unix.EPOLLERR != 0 {
			closing = append(closing, closingSlot{slot: slot, isError: true})
			continue
		}
		if evt.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			closing = append(closing, closingSlot{slot: slot})
			continue
		}

		readable := evt.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 && installed&Read != 0
		writable := evt.Events&unix.EPOLLOUT != 0 && installed&Write != 0

		if writable && slot.OnWriteReady != nil {
			ep.invoke(slot, func() { slot.OnWriteReady(slot.Data) })
		}
		if readable && slot.OnReadReady != nil {
			ep.invoke(slot, func() { slot.OnReadReady(slot.Data) })
		}
	}
	if len(closing) > 0 {
		ep.detach(closing)
	}
}

// closingSlot pairs a slot with the reason it is being auto-detached.
type closingSlot struct {
	slot    *Slot
	isError bool
}

// invoke runs a listener callback outside the main lock, recovering a
// panic so one misbehaving listener cannot take down the whole drain. If
// ignoreCallbackError is false, a recovered panic auto-detaches the slot
// exactly like a kernel-reported error.
func (ep *epoll) invoke(slot *Slot, fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Debugf("ioplex: listener callback panicked on fd %d: %v", slot.FD, r)
				if !ep.ignoreCallbackError {
					ep.detach([]closingSlot{{slot: slot, isError: true}})
				}
			}
		}()
		fn()
	}()
}

func (ep *epoll) detach(closing []closingSlot) {
	for i := range closing {
		_ = ep.Control(closing[i].slot, 0)
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

// Close closes the poller and stops Wait().
func (ep *epoll) Close() error {
	if err := os.NewSyscallError("close", unix.Close(ep.fd)); err != nil {
		return err
	}
	return os.NewSyscallError("close", unix.Close(ep.wake.FD))
}

// Trigger wakes the poller from Wait().
func (ep *epoll) Trigger(job Job) error {
	if atomic.CompareAndSwapInt32(&ep.notified, 0, 1) {
		return ep.notify()
	}
	return nil
}

// Control installs, changes or removes (want == 0) slot's interest set,
// diffing against slot.installed to issue the minimum epoll_ctl call.
func (ep *epoll) Control(slot *Slot, want Flags) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("epoll control want=%s, connection may be closed", want))
		}
	}()

	slot.Lock()
	had := slot.installed
	slot.Unlock()

	switch {
	case had == 0 && want == 0:
		return nil
	case had == 0 && want != 0:
		if err := ep.syscallCtl(unix.EPOLL_CTL_ADD, slot, want); err != nil {
			return err
		}
	case had != 0 && want == 0:
		if err := ep.syscallCtl(unix.EPOLL_CTL_DEL, slot, 0); err != nil {
			return err
		}
	default: // had != 0 && want != 0, possibly unchanged
		if had != want {
			if err := ep.syscallCtl(unix.EPOLL_CTL_MOD, slot, want); err != nil {
				return err
			}
		}
	}

	ep.mu.Lock()
	gen := ep.generation
	slot.Lock()
	slot.installed = want
	slot.modified = gen
	slot.Unlock()
	ep.mu.Unlock()
	return nil
}

func (ep *epoll) syscallCtl(op int, slot *Slot, want Flags) error {
	evt := event.EpollEvent{}
	if want != 0 {
		evt.Events = rwatch
		if want&Read != 0 {
			evt.Events |= unix.EPOLLIN | unix.EPOLLPRI
		}
		if want&Write != 0 {
			evt.Events |= unix.EPOLLOUT
		}
		if want&EdgeTriggered != 0 {
			evt.Events |= unix.EPOLLET
		}
		*(**Slot)(unsafe.Pointer(&evt.Data)) = slot
	}
	var evtPtr *event.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		evtPtr = &evt
	}
	if err := epollCtl(ep.fd, op, slot.FD, evtPtr); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func epollCtl(epfd int, op int, fd int, evt *event.EpollEvent) error {
	_, _, err := unix.RawSyscall6(
		unix.SYS_EPOLL_CTL,
		uintptr(epfd),
		uintptr(op),
		uintptr(fd),
		uintptr(unsafe.Pointer(evt)),
		0, 0)
	if err == unix.Errno(0) {
		err = nil
	}
	return err
}
