// Package ratelimit spaces out requests to the harvested source.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter blocks the caller before an outbound request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Jitter waits for a duration drawn uniformly from [Min, Max] on every call.
type Jitter struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJitter builds a limiter for the given interval. A zero max disables waiting.
func NewJitter(min, max time.Duration) *Jitter {
	if max < min {
		max = min
	}
	return &Jitter{
		min:   min,
		max:   max,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: Sleep,
	}
}

// Wait blocks for the next delay or until ctx is done.
func (j *Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return ctx.Err()
	}
	return j.sleep(ctx, d)
}

// Next draws the next delay without waiting.
func (j *Jitter) Next() time.Duration {
	if j.max <= 0 {
		return 0
	}
	span := j.max - j.min
	if span <= 0 {
		return j.min
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.min + time.Duration(j.rnd.Int63n(int64(span)+1))
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
