package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestCache_IsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		client   *redis.Client
		enabled  bool
		expected bool
	}{
		{name: "enabled with client", client: &redis.Client{}, enabled: true, expected: true},
		{name: "disabled", client: &redis.Client{}, enabled: false, expected: false},
		{name: "no client", client: nil, enabled: true, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(tt.client, tt.enabled, time.Hour)
			assert.Equal(t, tt.expected, c.IsEnabled())
		})
	}
}

func TestCache_MarkProcessedFirstWriterWins(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	c := NewCache(client, true, time.Hour)
	ctx := context.Background()

	first, err := c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := c.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestCache_Seen(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	c := NewCache(client, true, time.Hour)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)

	seen, err = c.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCache_MarkerExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	c := NewCache(client, true, time.Minute)
	ctx := context.Background()

	_, err := c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := c.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCache_DisabledTreatsEverythingAsNew(t *testing.T) {
	c := NewCache(nil, false, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		first, err := c.MarkProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, first)
	}

	seen, err := c.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}
