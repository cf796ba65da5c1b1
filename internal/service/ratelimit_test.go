package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-relay/internal/domain"
	memorystate "ephemeral-relay/internal/infra/state/memory"
)

func newTestRateLimitService() (*RateLimitService, *testClock) {
	svc := NewRateLimitService(memorystate.NewRateLimitRepository())
	clock := newTestClock()
	svc.now = clock.Now
	return svc, clock
}

func retryAfter(t *testing.T, err error) int64 {
	t.Helper()
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	return rl.RetryAfter
}

func TestRateLimitService_RapidAttemptsWalkTheSchedule(t *testing.T) {
	svc, _ := newTestRateLimitService()
	ctx := context.Background()
	ip := "203.0.113.7"

	require.NoError(t, svc.Check(ctx, ip), "first attempt must be allowed")

	expected := []int64{10, 30, 60, 180, 300}
	for i, want := range expected {
		err := svc.Check(ctx, ip)
		assert.Equal(t, want, retryAfter(t, err), "attempt %d", i+2)
	}

	// A seventh rapid attempt stays clamped to the last schedule entry.
	err := svc.Check(ctx, ip)
	assert.Equal(t, int64(300), retryAfter(t, err))
}

func TestRateLimitService_WaitingOutTheDelayAllows(t *testing.T) {
	svc, clock := newTestRateLimitService()
	ctx := context.Background()
	ip := "203.0.113.8"

	require.NoError(t, svc.Check(ctx, ip))

	err := svc.Check(ctx, ip)
	require.Equal(t, int64(10), retryAfter(t, err))

	// The denial advanced the schedule: the next attempt owes 30s.
	clock.Advance(30 * time.Second)
	assert.NoError(t, svc.Check(ctx, ip))
}

func TestRateLimitService_RetryAfterCountsDown(t *testing.T) {
	svc, clock := newTestRateLimitService()
	ctx := context.Background()
	ip := "203.0.113.9"

	require.NoError(t, svc.Check(ctx, ip))
	require.Error(t, svc.Check(ctx, ip)) // owes 30s now

	clock.Advance(12 * time.Second)
	err := svc.Check(ctx, ip)
	assert.Equal(t, int64(18), retryAfter(t, err))
}

func TestRateLimitService_CooldownForgivesEverything(t *testing.T) {
	svc, clock := newTestRateLimitService()
	ctx := context.Background()
	ip := "203.0.113.10"

	require.NoError(t, svc.Check(ctx, ip))
	for i := 0; i < 5; i++ {
		require.Error(t, svc.Check(ctx, ip))
	}

	clock.Advance(domain.RateLimitCooldown + time.Second)

	require.NoError(t, svc.Check(ctx, ip), "stale entry must be reset")
	err := svc.Check(ctx, ip)
	assert.Equal(t, int64(10), retryAfter(t, err), "schedule must restart after cooldown")
}

func TestRateLimitService_ResetClearsTheEntry(t *testing.T) {
	svc, _ := newTestRateLimitService()
	ctx := context.Background()
	ip := "203.0.113.11"

	require.NoError(t, svc.Check(ctx, ip))
	require.Error(t, svc.Check(ctx, ip))

	svc.Reset(ctx, ip)

	assert.NoError(t, svc.Check(ctx, ip))
}

func TestRateLimitService_IPsAreIndependent(t *testing.T) {
	svc, _ := newTestRateLimitService()
	ctx := context.Background()

	require.NoError(t, svc.Check(ctx, "198.51.100.1"))
	require.Error(t, svc.Check(ctx, "198.51.100.1"))

	assert.NoError(t, svc.Check(ctx, "198.51.100.2"))
}
