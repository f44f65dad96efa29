package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelaySchedule(t *testing.T) {
	// Scenario E: max_backoff_time = 2500ms, 10 consecutive unsuccessful
	// attempts yield 200, 400, 800, 1600, 2500 (x6).
	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
	}
	max := 2500 * time.Millisecond
	for i, w := range want {
		got := backoffDelay(uint32(i+1), max)
		require.Equal(t, w, got, "attempt %d", i+1)
	}
}

func TestBackoffDelayZeroCounterIsFloor(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, backoffDelay(0, 2500*time.Millisecond))
}

func TestBackoffDelayUsesDefaultWhenMaxUnset(t *testing.T) {
	require.Equal(t, DefaultMaxBackoff, backoffDelay(30, 0))
}
