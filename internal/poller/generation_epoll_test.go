//go:build linux
// +build linux

package poller

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ioplex/ioplex/internal/poller/event"
	"github.com/ioplex/ioplex/metrics"
)

// TestEpollControlDoesNotAdvanceGeneration guards against a regression
// where Control bumped the same generation counter that handle() bumps
// once per drain: if both sides increment, slot.modified (stamped by
// Control) can never equal the gen a concurrently-running handle() already
// captured, and the re-key check is permanently dead.
func TestEpollControlDoesNotAdvanceGeneration(t *testing.T) {
	p, err := New(false)
	require.Nil(t, err)
	defer p.Close()
	ep := p.(*epoll)

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.Nil(t, err)
	defer unix.Close(fd)

	slot := NewSlot()
	slot.FD = fd
	require.Nil(t, slot.Bind(p))

	ep.mu.Lock()
	before := ep.generation
	ep.mu.Unlock()

	require.Nil(t, slot.Control(Read))
	require.Nil(t, slot.Control(Write))
	require.Nil(t, slot.Control(0))

	ep.mu.Lock()
	after := ep.generation
	ep.mu.Unlock()

	assert.Equal(t, before, after, "Control must only read generation, never advance it")
}

// TestEpollHandleSkipsReKeyedSlot directly exercises handle()'s re-key
// check: a slot whose modified stamp equals the generation handle()
// captures for the current drain must be skipped rather than dispatched,
// since that stamp means the slot was detached/reattached since the event
// was queued and no longer refers to the occupant the kernel reported it
// for (spec §3/§5, scenario 6 in spec §8).
func TestEpollHandleSkipsReKeyedSlot(t *testing.T) {
	p, err := New(false)
	require.Nil(t, err)
	defer p.Close()
	ep := p.(*epoll)

	slot := NewSlot()
	slot.installed = Read

	var called bool
	slot.OnReadReady = func(interface{}) { called = true }

	// handle() increments generation once at the top of every call; stamp
	// modified with the value the next call will produce to simulate a
	// Control() that ran after that increment but before the loop reached
	// this slot's event.
	ep.mu.Lock()
	nextGen := ep.generation + 1
	ep.mu.Unlock()
	slot.modified = nextGen

	before := metrics.Get(metrics.SlotReKeySkipped)

	evt := event.EpollEvent{Events: unix.EPOLLIN}
	*(**Slot)(unsafe.Pointer(&evt.Data)) = slot
	ep.events = []event.EpollEvent{evt}
	ep.handle(1)

	assert.False(t, called, "a re-keyed slot's event must not be dispatched")
	assert.Equal(t, before+1, metrics.Get(metrics.SlotReKeySkipped))
}

// TestEpollHandleDispatchesFreshSlot is the control case for
// TestEpollHandleSkipsReKeyedSlot: a slot not re-keyed during the captured
// drain is dispatched normally.
func TestEpollHandleDispatchesFreshSlot(t *testing.T) {
	p, err := New(false)
	require.Nil(t, err)
	defer p.Close()
	ep := p.(*epoll)

	slot := NewSlot()
	slot.installed = Read

	ready := make(chan struct{}, 1)
	slot.OnReadReady = func(interface{}) { ready <- struct{}{} }

	ep.mu.Lock()
	slot.modified = ep.generation
	ep.mu.Unlock()

	evt := event.EpollEvent{Events: unix.EPOLLIN}
	*(**Slot)(unsafe.Pointer(&evt.Data)) = slot
	ep.events = []event.EpollEvent{evt}
	ep.handle(1)

	select {
	case <-ready:
	default:
		t.Fatal("expected OnReadReady to be invoked for a slot not re-keyed this drain")
	}
}
