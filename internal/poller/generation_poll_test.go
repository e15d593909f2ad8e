//go:build linux
// +build linux

package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ioplex/ioplex/metrics"
)

// TestPollControlDoesNotAdvanceGeneration mirrors the epoll/kqueue
// regression test for the poll backend: Control must only read generation
// and stamp it onto the slot, never advance it.
func TestPollControlDoesNotAdvanceGeneration(t *testing.T) {
	p, err := newPollPoller(false)
	require.Nil(t, err)
	defer p.Close()
	pb := p.(*pollBackend)

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.Nil(t, err)
	defer unix.Close(fd)

	slot := NewSlot()
	slot.FD = fd
	require.Nil(t, slot.Bind(p))

	pb.mu.Lock()
	before := pb.generation
	pb.mu.Unlock()

	require.Nil(t, slot.Control(Read))
	require.Nil(t, slot.Control(Write))
	require.Nil(t, slot.Control(0))

	pb.mu.Lock()
	after := pb.generation
	pb.mu.Unlock()

	assert.Equal(t, before, after, "Control must only read generation, never advance it")
}

// TestPollHandleSkipsReKeyedSlot directly exercises pollBackend.handle's
// re-key check, the same way generation_epoll_test.go does for epoll.
func TestPollHandleSkipsReKeyedSlot(t *testing.T) {
	p, err := newPollPoller(false)
	require.Nil(t, err)
	defer p.Close()
	pb := p.(*pollBackend)

	slot := NewSlot()
	slot.installed = Read

	var called bool
	slot.OnReadReady = func(interface{}) { called = true }

	pb.mu.Lock()
	nextGen := pb.generation + 1
	pb.mu.Unlock()
	slot.modified = nextGen

	before := metrics.Get(metrics.SlotReKeySkipped)

	fds := []unix.PollFd{{}, {Fd: 0, Events: unix.POLLIN, Revents: unix.POLLIN}}
	pb.handle(fds, []*Slot{slot})

	assert.False(t, called, "a re-keyed slot's event must not be dispatched")
	assert.Equal(t, before+1, metrics.Get(metrics.SlotReKeySkipped))
}

// TestPollHandleDispatchesFreshSlot is the control case for
// TestPollHandleSkipsReKeyedSlot.
func TestPollHandleDispatchesFreshSlot(t *testing.T) {
	p, err := newPollPoller(false)
	require.Nil(t, err)
	defer p.Close()
	pb := p.(*pollBackend)

	slot := NewSlot()
	slot.installed = Read

	ready := make(chan struct{}, 1)
	slot.OnReadReady = func(interface{}) { ready <- struct{}{} }

	pb.mu.Lock()
	slot.modified = pb.generation
	pb.mu.Unlock()

	fds := []unix.PollFd{{}, {Fd: 0, Events: unix.POLLIN, Revents: unix.POLLIN}}
	pb.handle(fds, []*Slot{slot})

	select {
	case <-ready:
	default:
		t.Fatal("expected OnReadReady to be invoked for a slot not re-keyed this drain")
	}
}
