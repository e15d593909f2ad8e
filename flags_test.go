package ioplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportFlagsHas(t *testing.T) {
	f := Reading | EdgeTriggered
	assert.True(t, f.Has(Reading))
	assert.True(t, f.Has(EdgeTriggered))
	assert.True(t, f.Has(Reading|EdgeTriggered))
	assert.False(t, f.Has(Writing))
	assert.False(t, f.Has(Reading|Writing))
}

func TestSocketFlags(t *testing.T) {
	var f SocketFlags
	assert.Zero(t, f)
	f |= SocketNoAutoClose
	assert.NotZero(t, f&SocketNoAutoClose)
}
