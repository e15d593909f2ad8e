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

// TestSelectControlDoesNotAdvanceGeneration mirrors the epoll/kqueue/poll
// regression test for the select backend.
func TestSelectControlDoesNotAdvanceGeneration(t *testing.T) {
	p, err := newSelectPoller(false)
	require.Nil(t, err)
	defer p.Close()
	sb := p.(*selectBackend)

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.Nil(t, err)
	defer unix.Close(fd)

	slot := NewSlot()
	slot.FD = fd
	require.Nil(t, slot.Bind(p))

	sb.mu.Lock()
	before := sb.generation
	sb.mu.Unlock()

	require.Nil(t, slot.Control(Read))
	require.Nil(t, slot.Control(Write))
	require.Nil(t, slot.Control(0))

	sb.mu.Lock()
	after := sb.generation
	sb.mu.Unlock()

	assert.Equal(t, before, after, "Control must only read generation, never advance it")
}

// TestSelectHandleSkipsReKeyedSlot directly exercises
// selectBackend.handle's re-key check.
func TestSelectHandleSkipsReKeyedSlot(t *testing.T) {
	p, err := newSelectPoller(false)
	require.Nil(t, err)
	defer p.Close()
	sb := p.(*selectBackend)

	slot := NewSlot()
	slot.FD = 5
	slot.installed = Read

	var called bool
	slot.OnReadReady = func(interface{}) { called = true }

	sb.mu.Lock()
	nextGen := sb.generation + 1
	sb.mu.Unlock()
	slot.modified = nextGen

	before := metrics.Get(metrics.SlotReKeySkipped)

	var r, w unix.FdSet
	r.Set(slot.FD)
	sb.handle(&r, &w, []*Slot{slot})

	assert.False(t, called, "a re-keyed slot's event must not be dispatched")
	assert.Equal(t, before+1, metrics.Get(metrics.SlotReKeySkipped))
}

// TestSelectHandleDispatchesFreshSlot is the control case for
// TestSelectHandleSkipsReKeyedSlot.
func TestSelectHandleDispatchesFreshSlot(t *testing.T) {
	p, err := newSelectPoller(false)
	require.Nil(t, err)
	defer p.Close()
	sb := p.(*selectBackend)

	slot := NewSlot()
	slot.FD = 5
	slot.installed = Read

	ready := make(chan struct{}, 1)
	slot.OnReadReady = func(interface{}) { ready <- struct{}{} }

	sb.mu.Lock()
	slot.modified = sb.generation
	sb.mu.Unlock()

	var r, w unix.FdSet
	r.Set(slot.FD)
	sb.handle(&r, &w, []*Slot{slot})

	select {
	case <-ready:
	default:
		t.Fatal("expected OnReadReady to be invoked for a slot not re-keyed this drain")
	}
}
