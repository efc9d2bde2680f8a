package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T) *DailyLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDailyLimiter(client)
}

func TestTryReserve_ExhaustsAtLimit(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()
	ruleID := uuid.New()
	day := DayKey(time.Now())

	for i := 1; i <= 3; i++ {
		d, err := limiter.TryReserve(ctx, ruleID, day, 3)
		require.NoError(t, err)
		assert.True(t, d.Reserved, "reservation %d should succeed", i)
		assert.Equal(t, int64(i), d.Count)
	}

	// The (N+1)-th attempt is exhausted and mutates nothing.
	d, err := limiter.TryReserve(ctx, ruleID, day, 3)
	require.NoError(t, err)
	assert.False(t, d.Reserved)
	assert.Equal(t, int64(3), d.Count)

	used, err := limiter.Used(ctx, ruleID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
}

func TestTryReserve_DayRolloverResetsBudget(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()
	ruleID := uuid.New()

	today := DayKey(time.Now())
	tomorrow := DayKey(time.Now().Add(24 * time.Hour))

	d, err := limiter.TryReserve(ctx, ruleID, today, 1)
	require.NoError(t, err)
	require.True(t, d.Reserved)
	d, err = limiter.TryReserve(ctx, ruleID, today, 1)
	require.NoError(t, err)
	require.False(t, d.Reserved)

	// A new calendar day is a new key; the budget is fresh.
	d, err = limiter.TryReserve(ctx, ruleID, tomorrow, 1)
	require.NoError(t, err)
	assert.True(t, d.Reserved)
}

func TestTryReserve_IndependentPerRule(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()
	day := DayKey(time.Now())
	ruleA, ruleB := uuid.New(), uuid.New()

	d, _ := limiter.TryReserve(ctx, ruleA, day, 1)
	require.True(t, d.Reserved)
	d, _ = limiter.TryReserve(ctx, ruleA, day, 1)
	require.False(t, d.Reserved)

	d, err := limiter.TryReserve(ctx, ruleB, day, 1)
	require.NoError(t, err)
	assert.True(t, d.Reserved)
}

// A burst of concurrent reservations must grant exactly the limit, never
// more: the check and increment are one atomic script.
func TestTryReserve_ConcurrentBurstNeverOvershoots(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()
	ruleID := uuid.New()
	day := DayKey(time.Now())
	const limit = 5
	const attempts = 20

	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.TryReserve(ctx, ruleID, day, limit)
			if err == nil && d.Reserved {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	assert.Equal(t, limit, n)
}

func TestDayKey_UTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)
	assert.Equal(t, "2026-03-02", DayKey(local))
}
