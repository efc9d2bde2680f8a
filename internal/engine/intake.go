package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper drops webhook redeliveries before they reach the pipeline.
// The dedup ledger and rate limiter remain the safety net underneath; this
// is the cheap first line for sources that supply a delivery id.
type EventDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewEventDeduper(redisClient *redis.Client, ttl time.Duration) *EventDeduper {
	return &EventDeduper{redis: redisClient, ttl: ttl}
}

// Seen marks the event id and reports whether it had been seen already.
// SETNX keeps the mark-and-check atomic across concurrent deliveries.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	set, err := d.redis.SetNX(ctx, "event:"+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("event dedupe %s: %w", eventID, err)
	}
	return !set, nil
}
