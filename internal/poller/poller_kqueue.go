// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

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

	"github.com/ioplex/ioplex/log"
	"github.com/ioplex/ioplex/metrics"
)

const (
	defaultKevent = 64
	maxKevent     = math.MaxInt32 / 2
	// wakeIdent is the EVFILT_USER identity registered at construction time
	// and used by Trigger to interrupt a blocked Wait, per the open
	// question in spec §9 ("kqueue::Interrupt() is unimplemented... MUST
	// provide one").
	wakeIdent = 0
)

type kqueue struct {
	fd       int
	notified int32

	// mu guards generation and serializes Control against handle()'s
	// bookkeeping. Only handle() advances generation, once per drain;
	// Control merely stamps the current value onto slot.modified, so a
	// slot re-keyed during the drain that captured gen compares equal.
	mu         sync.Mutex
	generation uint64

	events              []unix.Kevent_t
	ignoreCallbackError bool
}

// newKqueuePoller constructs the kqueue backend, the only readiness
// backend on the BSD family (spec §4.4 lists no fallback for it).
func newKqueuePoller(ignoreCallbackError bool) (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if _, err = unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	return &kqueue{
		fd:                  fd,
		events:              make([]unix.Kevent_t, defaultKevent),
		ignoreCallbackError: ignoreCallbackError,
	}, nil
}

// Close closes the poller and stops Wait().
func (k *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(k.fd))
}

func (k *kqueue) notify() error {
	for {
		if _, err := unix.Kevent(k.fd, []unix.Kevent_t{{
			Ident:  wakeIdent,
			Filter: unix.EVFILT_USER,
			Fflags: unix.NOTE_TRIGGER,
		}}, nil, nil); err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("kevent", err)
			}
			return nil
		}
	}
}

// Trigger wakes the poller from Wait(). This is the real Interrupt()
// implementation the original C++ source left as abort(); see spec §9.
func (k *kqueue) Trigger(job Job) error {
	if atomic.CompareAndSwapInt32(&k.notified, 0, 1) {
		return k.notify()
	}
	return nil
}

func (k *kqueue) handle(n int) {
	k.mu.Lock()
	k.generation++
	gen := k.generation
	k.mu.Unlock()

	var closing []closingSlot
	for i := 0; i < n; i++ {
		evt := k.events[i]
		if evt.Ident == wakeIdent && evt.Filter == unix.EVFILT_USER {
			atomic.StoreInt32(&k.notified, 0)
			continue
		}
		slot := *(**Slot)(unsafe.Pointer(&evt.Udata))

		k.mu.Lock()
		reKeyed := slot.modified == gen
		installed := slot.installed
		k.mu.Unlock()
		if reKeyed {
			metrics.Add(metrics.SlotReKeySkipped, 1)
			continue
		}

		if evt.Flags&unix.EV_ERROR != 0 {
			closing = append(closing, closingSlot{slot: slot, isError: true, errno: int(evt.Data)})
			continue
		}
		if evt.Flags&unix.EV_EOF != 0 {
			closing = append(closing, closingSlot{slot: slot})
			continue
		}
		if evt.Filter == unix.EVFILT_READ && installed&Read != 0 && slot.OnReadReady != nil {
			k.invoke(slot, func() { slot.OnReadReady(slot.Data) })
		}
		if evt.Filter == unix.EVFILT_WRITE && installed&Write != 0 && slot.OnWriteReady != nil {
			k.invoke(slot, func() { slot.OnWriteReady(slot.Data) })
		}
	}
	if len(closing) > 0 {
		k.detach(closing)
	}
}

// closingSlot pairs a slot with the reason it is being auto-detached.
type closingSlot struct {
	slot    *Slot
	isError bool
	errno   int
}

func (k *kqueue) invoke(slot *Slot, fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Debugf("ioplex: listener callback panicked on fd %d: %v", slot.FD, r)
				if !k.ignoreCallbackError {
					k.detach([]closingSlot{{slot: slot, isError: true}})
				}
			}
		}()
		fn()
	}()
}

func (k *kqueue) detach(closing []closingSlot) {
	for i := range closing {
		_ = k.Control(closing[i].slot, 0)
	}
	metrics.Add(metrics.DetachCalls, uint64(len(closing)))
	for i := range closing {
		c := closing[i]
		if c.isError && c.slot.OnError != nil {
			go c.slot.OnError(c.slot.Data, c.errno)
		} else if !c.isError && c.slot.OnHangup != nil {
			go c.slot.OnHangup(c.slot.Data)
		}
	}
	freeSlots()
}

// Wait drains ready events and dispatches listener callbacks until Close.
func (k *kqueue) Wait() error {
	var zeroTimespec unix.Timespec
	var timespec *unix.Timespec

	for {
		n, err := unix.Kevent(k.fd, nil, k.events, timespec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			timespec = nil
			runtime.Gosched()
			continue
		} else if err != nil {
			return err
		}
		timespec = &zeroTimespec
		k.handle(n)
		k.maybeGrow(n)
		metrics.Add(metrics.PollWait, 1)
		metrics.Add(metrics.PollEvents, uint64(n))
	}
}

// maybeGrow doubles the event buffer when a drain came back completely
// full, up to maxKevent (spec §4.1 event-buffer growth), grounded on
// amio-bsd-kqueue.cc's max_events_ doubling.
func (k *kqueue) maybeGrow(n int) {
	if n != len(k.events) || len(k.events) >= maxKevent {
		return
	}
	newSize := len(k.events) * 2
	if newSize > maxKevent {
		newSize = maxKevent
	}
	grown := make([]unix.Kevent_t, newSize)
	copy(grown, k.events)
	k.events = grown
	metrics.Add(metrics.EventBufferGrow, 1)
}

// Control installs, changes or removes (want == 0) slot's interest set,
// issuing independent add/delete kevent changes per filter (read, write).
func (k *kqueue) Control(slot *Slot, want Flags) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("kqueue control want=%s, connection may be closed", want))
		}
	}()

	slot.Lock()
	had := slot.installed
	slot.Unlock()

	if had == 0 && want == 0 {
		return nil
	}

	var changes []unix.Kevent_t
	wantRead, hadRead := want&Read != 0, had&Read != 0
	wantWrite, hadWrite := want&Write != 0, had&Write != 0
	// When EdgeTriggered toggles, re-issue EV_ADD for every filter that
	// stays interesting so the kernel picks up the new EV_CLEAR state,
	// even if the Read/Write bit itself is unchanged.
	edgeChanged := (want & EdgeTriggered) != (had & EdgeTriggered)

	var flags uint16
	if want&EdgeTriggered != 0 {
		flags = unix.EV_CLEAR
	}

	if wantRead && (!hadRead || edgeChanged) {
		changes = append(changes, kevent(slot, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|flags))
	} else if !wantRead && hadRead {
		changes = append(changes, kevent(slot, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if wantWrite && (!hadWrite || edgeChanged) {
		changes = append(changes, kevent(slot, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE|flags))
	} else if !wantWrite && hadWrite {
		changes = append(changes, kevent(slot, unix.EVFILT_WRITE, unix.EV_DELETE))
	}

	if len(changes) > 0 {
		if _, err := unix.Kevent(k.fd, changes, nil, nil); err != nil {
			return os.NewSyscallError("kevent", err)
		}
	}

	k.mu.Lock()
	gen := k.generation
	slot.Lock()
	slot.installed = want
	slot.modified = gen
	slot.Unlock()
	k.mu.Unlock()
	return nil
}

func kevent(slot *Slot, filter int16, flags uint16) unix.Kevent_t {
	evt := unix.Kevent_t{
		Ident:  newKeventIdent(slot.FD),
		Filter: filter,
		Flags:  flags,
	}
	*(**Slot)(unsafe.Pointer(&evt.Udata)) = slot
	return evt
}
