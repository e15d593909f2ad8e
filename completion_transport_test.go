package ioplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionTransportFromHandleRejectsNegative(t *testing.T) {
	_, err := NewCompletionTransportFromHandle(-1, 0)
	require.Error(t, err)
	assert.True(t, IsLogical(err))
}

func TestCompletionTransportCloseIsIdempotent(t *testing.T) {
	tr, err := NewCompletionTransportFromHandle(3, NoAutoClose)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.True(t, tr.Closed())
	assert.Equal(t, -1, tr.FD())
	require.NoError(t, tr.Close()) // idempotent
}

func TestCompletionTransportInFlightTracking(t *testing.T) {
	tr, err := NewCompletionTransportFromHandle(3, NoAutoClose)
	require.NoError(t, err)

	a, b := NewIOContext(1), NewIOContext(2)
	require.NoError(t, a.link(tr, opRead))
	require.NoError(t, b.link(tr, opWrite))
	assert.Equal(t, 2, tr.inFlightCount())

	a.unlink()
	assert.Equal(t, 1, tr.inFlightCount())
	b.unlink()
	assert.Equal(t, 0, tr.inFlightCount())
}
