package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("key", "val")
	n.Delete("key")
	val, ok := n.Get("key")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.Zero(t, n.Len())
}
