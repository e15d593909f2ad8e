//go:build linux
// +build linux

package poller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ioplex/ioplex/internal/poller"
)

func TestPollBackendReadinessEcho(t *testing.T) {
	var onReadCalls int
	r, w, err := newPipe(t)
	require.Nil(t, err)
	defer unix.Close(r)
	defer unix.Close(w)

	p, err := poller.NewPoll(false)
	require.Nil(t, err)
	defer p.Close()
	go p.Wait()

	ready := make(chan struct{}, 1)
	buf := make([]byte, 5)
	var n int
	var readErr error
	slot := newBoundSlot(t, p, r)
	slot.OnReadReady = func(interface{}) {
		onReadCalls++
		// Drain the pipe inside the callback: delivery is level-triggered,
		// so Wait reports the descriptor again while data stays unread.
		n, readErr = unix.Read(r, buf)
		ready <- struct{}{}
	}
	require.Nil(t, slot.Control(poller.Read))

	_, err = unix.Write(w, []byte("hello"))
	require.Nil(t, err)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnReadReady")
	}
	require.Nil(t, readErr)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, 1, onReadCalls)
}

func TestPollBackendHangupAutoDetach(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.Nil(t, err)
	defer unix.Close(fds[0])

	p, err := poller.NewPoll(false)
	require.Nil(t, err)
	defer p.Close()
	go p.Wait()

	hup := make(chan struct{}, 1)
	slot := newBoundSlot(t, p, fds[0])
	slot.OnHangup = func(interface{}) { hup <- struct{}{} }
	require.Nil(t, slot.Control(poller.Read))

	unix.Close(fds[1])

	select {
	case <-hup:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnHangup")
	}
	assert.Equal(t, poller.Flags(0), slot.Installed())
}

func TestSelectBackendReadinessEcho(t *testing.T) {
	var onReadCalls int
	r, w, err := newPipe(t)
	require.Nil(t, err)
	defer unix.Close(r)
	defer unix.Close(w)

	p, err := poller.NewSelect(false)
	require.Nil(t, err)
	defer p.Close()
	go p.Wait()

	ready := make(chan struct{}, 1)
	slot := newBoundSlot(t, p, r)
	slot.OnReadReady = func(interface{}) {
		onReadCalls++
		// Drain the pipe so the level-triggered descriptor stops reporting
		// readable once this notification is handled.
		_, _ = unix.Read(r, make([]byte, 5))
		ready <- struct{}{}
	}
	require.Nil(t, slot.Control(poller.Read))

	_, err = unix.Write(w, []byte("hello"))
	require.Nil(t, err)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnReadReady")
	}
	assert.Equal(t, 1, onReadCalls)
}

func TestSelectBackendRejectsLargeDescriptor(t *testing.T) {
	p, err := poller.NewSelect(false)
	require.Nil(t, err)
	defer p.Close()

	slot := poller.NewSlot()
	slot.FD = 1 << 20
	require.Nil(t, slot.Bind(p))

	err = slot.Control(poller.Read)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, poller.ErrDescriptorTooLarge)
}
