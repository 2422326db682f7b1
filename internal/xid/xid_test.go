package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUIDIsVersion7AndOrdered(t *testing.T) {
	first := NewUUID()
	second := NewUUID()

	require.True(t, Valid(first))
	require.True(t, Valid(second))
	assert.Equal(t, byte('7'), first[14])
	assert.NotEqual(t, first, second)
}

func TestNewKeepsPrefix(t *testing.T) {
	id := New("shf")
	assert.True(t, strings.HasPrefix(id, "shf_"))
	assert.NotContains(t, id[4:], "-")
	assert.False(t, Valid("not-a-uuid"))
}
