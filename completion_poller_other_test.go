//go:build !windows

package ioplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The completion family (IOCP) has no backend outside Windows;
// NewCompletionPoller must surface that as a platform error rather than panicking or silently
// returning a half-usable poller.
func TestNewCompletionPollerFailsOffWindows(t *testing.T) {
	_, err := NewCompletionPoller()
	assert.Error(t, err)
}
