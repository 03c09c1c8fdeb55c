package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := newRateLimiter(6, time.Minute)
	clock, advance := fakeClock(time.Unix(1_700_000_000, 0))
	rl.now = clock
	rl.lastSweep = clock()

	for i := 0; i < 6; i++ {
		ok, _ := rl.allow("10.0.0.1")
		assert.True(t, ok, "request %d", i)
	}

	ok, wait := rl.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	// Other clients have their own bucket.
	ok, _ = rl.allow("10.0.0.2")
	assert.True(t, ok)

	advance(10 * time.Second)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.allow("10.0.0.1")
	assert.False(t, ok)
}

func TestRateLimiter_RefillCapsAtRate(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	clock, advance := fakeClock(time.Unix(1_700_000_000, 0))
	rl.now = clock
	rl.lastSweep = clock()

	rl.allow("c")
	advance(10 * time.Minute)

	for i := 0; i < 2; i++ {
		ok, _ := rl.allow("c")
		assert.True(t, ok)
	}
	ok, _ := rl.allow("c")
	assert.False(t, ok)
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	clock, advance := fakeClock(time.Unix(1_700_000_000, 0))
	rl.now = clock
	rl.lastSweep = clock()

	rl.allow("idle")
	advance(30 * time.Second)
	rl.allow("busy")
	assert.Len(t, rl.buckets, 2)

	advance(40 * time.Second)
	rl.allow("busy")
	assert.Len(t, rl.buckets, 1)
	assert.Contains(t, rl.buckets, "busy")
}
