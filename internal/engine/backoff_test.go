package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{50, time.Minute},
	}

	for _, tt := range tests {
		got := BackoffDelay(time.Second, time.Minute, tt.attempts)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
	}
}

func TestBackoffDelay_Defaults(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, BackoffDelay(0, 0, 0))
	assert.Equal(t, 10*time.Millisecond, BackoffDelay(10*time.Millisecond, time.Millisecond, 3), "max below base clamps to base")
}

func TestBackoffDelay_NoOverflow(t *testing.T) {
	d := BackoffDelay(time.Hour, 1<<62, 200)
	assert.Equal(t, time.Duration(1<<62), d)
}
