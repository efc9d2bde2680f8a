// Package ratelimit enforces each rule's daily send quota. Reservation is
// check-and-increment in a single Redis script so concurrent pipelines can
// never overshoot the cap, and a reservation is never refunded: a failed
// send still consumed one unit of platform budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Day boundaries are UTC calendar days; the key carries the date so the
// counter resets by rollover, not by mutation.
const keyDailyCount = "ratelimit:%s:daily:%s" // rule_id, yyyy-mm-dd

// Counters expire two days after their calendar day so a burst at 23:59
// is still visible for inspection the next morning.
const counterTTL = 48 * time.Hour

// Decision is the result of a reservation attempt.
type Decision struct {
	Reserved bool
	// Count is the counter value after the attempt (unchanged when
	// exhausted).
	Count int64
	Limit int
}

// Lua script for atomic check-and-increment against the daily cap.
const tryReserveLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= limit then
    return {0, current}
end

local newCount = redis.call("INCR", key)
if newCount == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newCount}
`

// DailyLimiter reserves units of a rule's daily send budget.
type DailyLimiter struct {
	redis            *redis.Client
	tryReserveScript *redis.Script
}

func NewDailyLimiter(redisClient *redis.Client) *DailyLimiter {
	return &DailyLimiter{
		redis:            redisClient,
		tryReserveScript: redis.NewScript(tryReserveLuaScript),
	}
}

// DayKey formats a time as the UTC calendar day used in counter keys.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TryReserve atomically consumes one unit of the rule's budget for the given
// day if any remains. An exhausted attempt mutates nothing.
func (dl *DailyLimiter) TryReserve(ctx context.Context, ruleID uuid.UUID, day string, limit int) (Decision, error) {
	key := fmt.Sprintf(keyDailyCount, ruleID, day)
	result, err := dl.tryReserveScript.Run(ctx, dl.redis,
		[]string{key},
		limit,
		int(counterTTL.Seconds()),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit reserve for rule %s: %w", ruleID, err)
	}
	if len(result) < 2 {
		return Decision{}, fmt.Errorf("rate limit reserve for rule %s: unexpected script reply", ruleID)
	}
	return Decision{
		Reserved: result[0].(int64) == 1,
		Count:    result[1].(int64),
		Limit:    limit,
	}, nil
}

// Used returns the current counter for inspection endpoints.
func (dl *DailyLimiter) Used(ctx context.Context, ruleID uuid.UUID, day string) (int64, error) {
	val, err := dl.redis.Get(ctx, fmt.Sprintf(keyDailyCount, ruleID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
