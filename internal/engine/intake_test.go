package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDeduper_Seen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewEventDeduper(client, time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "first delivery is fresh")

	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen, "redelivery is dropped")

	seen, err = d.Seen(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen, "distinct ids do not collide")
}

func TestEventDeduper_MarkExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewEventDeduper(client, time.Hour)
	ctx := context.Background()

	_, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "mark expires with the ttl")
}

func TestEventDeduper_EmptyIDNeverSeen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewEventDeduper(client, time.Hour)
	for i := 0; i < 2; i++ {
		seen, err := d.Seen(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, seen, "sources without delivery ids always pass through")
	}
}
