package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterNextWithinBounds(t *testing.T) {
	j := NewJitter(time.Second, 3*time.Second)
	for i := 0; i < 1000; i++ {
		d := j.Next()
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestJitterFixedInterval(t *testing.T) {
	j := NewJitter(250*time.Millisecond, 250*time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, j.Next())
}

func TestJitterDisabled(t *testing.T) {
	j := NewJitter(0, 0)
	called := false
	j.sleep = func(context.Context, time.Duration) error {
		called = true
		return nil
	}

	require.NoError(t, j.Wait(context.Background()))
	assert.False(t, called)
}

func TestJitterWaitSleepsDrawnDelay(t *testing.T) {
	j := NewJitter(time.Second, 3*time.Second)
	var slept []time.Duration
	j.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Wait(context.Background()))
	}
	require.Len(t, slept, 5)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestJitterWaitHonoursCancellation(t *testing.T) {
	j := NewJitter(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := j.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepReturnsAfterDelay(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
