package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextNeverExceedsCap(t *testing.T) {
	g := New(Config{Base: 100 * time.Millisecond, Max: 2 * time.Second})

	for i := 0; i < 50; i++ {
		wait := g.Next("tenant-a", "strava")
		assert.LessOrEqual(t, wait, 2*time.Second, "attempt %d exceeded cap", i)
		assert.GreaterOrEqual(t, wait, time.Duration(0))
	}
}

func TestWaitsGrow(t *testing.T) {
	// Randomization off so growth is deterministic.
	g := New(Config{Base: 100 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second, Randomization: 0.000001})

	first := g.Next("tenant-a", "strava")
	second := g.Next("tenant-a", "strava")
	third := g.Next("tenant-a", "strava")

	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
}

func TestSuccessResetsToBase(t *testing.T) {
	g := New(Config{Base: 100 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second, Randomization: 0.000001})

	for i := 0; i < 5; i++ {
		g.Next("tenant-a", "strava")
	}
	grown := g.Next("tenant-a", "strava")
	require.Greater(t, grown, 200*time.Millisecond)

	g.Success("tenant-a", "strava")

	fresh := g.Next("tenant-a", "strava")
	assert.Less(t, fresh, 200*time.Millisecond)
}

func TestTenantIsolation(t *testing.T) {
	g := New(Config{Base: 100 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second, Randomization: 0.000001})

	// Tenant A accumulates failures; tenant B stays fresh.
	for i := 0; i < 6; i++ {
		g.Next("tenant-a", "strava")
	}

	fresh := g.Next("tenant-b", "strava")
	assert.Less(t, fresh, 200*time.Millisecond)

	// Same tenant, different resource is also isolated.
	fresh = g.Next("tenant-a", "garmin")
	assert.Less(t, fresh, 200*time.Millisecond)
}

func TestWaitHonorsRetryAfterHint(t *testing.T) {
	g := New(Config{Base: time.Millisecond, Max: 50 * time.Millisecond})

	start := time.Now()
	err := g.Wait(context.Background(), "tenant-a", "strava", 30*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitCapsRetryAfterHint(t *testing.T) {
	g := New(Config{Base: time.Millisecond, Max: 50 * time.Millisecond})

	start := time.Now()
	err := g.Wait(context.Background(), "tenant-a", "strava", 10*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitCancellation(t *testing.T) {
	g := New(Config{Base: 10 * time.Second, Max: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx, "tenant-a", "strava", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
