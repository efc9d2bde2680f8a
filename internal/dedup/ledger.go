// Package dedup tracks the last time each recipient was messaged under each
// rule, so a rule never DMs the same commenter twice inside its configured
// window.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxWindow bounds stored entries: no rule can configure a window longer
// than 168h, so anything older is dead weight and may expire.
const maxWindow = 168 * time.Hour

const keyLastSent = "dedup:%s:%s" // rule_id, recipient_id

// Ledger is the per-(rule, recipient) last-sent record keeper.
type Ledger struct {
	redis *redis.Client
}

func NewLedger(redisClient *redis.Client) *Ledger {
	return &Ledger{redis: redisClient}
}

func ledgerKey(ruleID uuid.UUID, recipientID string) string {
	return fmt.Sprintf(keyLastSent, ruleID, recipientID)
}

// ShouldSuppress reports whether a message was already sent to this recipient
// under this rule within the window. It never writes; only a confirmed send
// updates the ledger.
func (l *Ledger) ShouldSuppress(ctx context.Context, ruleID uuid.UUID, recipientID string, window time.Duration) (bool, error) {
	val, err := l.redis.Get(ctx, ledgerKey(ruleID, recipientID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup for rule %s: %w", ruleID, err)
	}
	lastUnix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("dedup record for rule %s is corrupt: %w", ruleID, err)
	}
	lastSentAt := time.Unix(lastUnix, 0)
	return time.Since(lastSentAt) < window, nil
}

// RecordSent upserts the last-sent timestamp. Call this only after the
// transport confirms delivery; a failed attempt must not suppress a
// legitimate retry later.
func (l *Ledger) RecordSent(ctx context.Context, ruleID uuid.UUID, recipientID string, sentAt time.Time) error {
	err := l.redis.Set(ctx, ledgerKey(ruleID, recipientID), sentAt.Unix(), maxWindow).Err()
	if err != nil {
		return fmt.Errorf("dedup record for rule %s: %w", ruleID, err)
	}
	return nil
}

// Prune removes entries whose timestamp fell out of the maximum possible
// window. Entries carry a TTL, so this sweep only catches records written
// without one; it returns how many it deleted.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	var deleted int
	iter := l.redis.Scan(ctx, 0, "dedup:*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := l.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		lastUnix, err := strconv.ParseInt(val, 10, 64)
		if err != nil || time.Since(time.Unix(lastUnix, 0)) > maxWindow {
			if l.redis.Del(ctx, key).Err() == nil {
				deleted++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("dedup prune scan: %w", err)
	}
	return deleted, nil
}
