//go:build linux
// +build linux

package ioplex

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportFactoryCreateFromDescriptor(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	factory := NewTransportFactory()
	tr, err := factory.CreateFromDescriptor(int(r.Fd()), NoAutoClose)
	require.NoError(t, err)
	assert.Equal(t, int(r.Fd()), tr.FD())
}

func TestTransportFactoryCreateFromSocketDuplicatesByDefault(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	factory := NewTransportFactory()
	tr, err := factory.CreateFromSocket(r, 0)
	require.NoError(t, err)
	defer tr.Close()

	assert.NotEqual(t, int(r.Fd()), tr.FD())
	// Closing the Transport must not invalidate the original *os.File.
	require.NoError(t, tr.Close())
	_, err = r.Stat()
	assert.NoError(t, err)
}

func TestTransportFactoryCreateFromSocketNoAutoCloseSharesDescriptor(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	factory := NewTransportFactory()
	tr, err := factory.CreateFromSocket(r, SocketNoAutoClose)
	require.NoError(t, err)

	assert.Equal(t, int(r.Fd()), tr.FD())
	require.NoError(t, tr.Close())
}

func TestTransportFactoryCreateCompletionFromHandleRejectsNegative(t *testing.T) {
	factory := NewTransportFactory()
	_, err := factory.CreateCompletionFromHandle(-1, 0)
	assert.Error(t, err)
}
