package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTimer(t *testing.T) {
	var got time.Duration
	timer := NewTimer(func(d time.Duration) { got = d })
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration()
	assert.GreaterOrEqual(t, got, 5*time.Millisecond)

	NopTimer().ObserveDuration()
}
