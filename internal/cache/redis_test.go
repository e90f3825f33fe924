package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilBadgeCache(t *testing.T) {
	ctx := context.Background()
	var c *BadgeCache

	count, slot, ok := c.GetUnread(ctx, 1)
	assert.False(t, ok)
	assert.Zero(t, count)
	assert.Empty(t, slot)

	assert.NotPanics(t, func() {
		c.SetUnread(ctx, 1, "notifications:unread:0:0:1", 3)
		c.InvalidateUser(ctx, 1)
		c.InvalidateAll(ctx)
	})
	assert.ErrorIs(t, c.Health(ctx), ErrCacheDisabled)
	assert.NoError(t, c.Close())
}

func TestNewDisabled(t *testing.T) {
	c, err := New(context.Background(), Config{Enabled: false}, zap.NewNop())
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, URL: "not-a-redis-url"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewWithClientDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	c := NewWithClient(client, Config{}, zap.NewNop())
	assert.Equal(t, defaultPrefix, c.prefix)
	assert.Equal(t, defaultTTL, c.ttl)

	c = NewWithClient(client, Config{Prefix: "church", TTL: time.Minute}, zap.NewNop())
	assert.Equal(t, "church:unread:generation", c.generationKey())
	assert.Equal(t, "church:unread:generation:7", c.userGenerationKey(7))
	assert.Equal(t, time.Minute, c.ttl)
}

func TestUnreachableRedisIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewWithClient(client, Config{}, zap.NewNop())

	_, slot, ok := c.GetUnread(context.Background(), 7)
	assert.False(t, ok)
	// nothing may be stored when the generations are unknown
	assert.Empty(t, slot)
}

func TestFormatUserKey(t *testing.T) {
	tests := []struct {
		name           string
		generation     int64
		userGeneration int64
		userID         int64
		expected       string
	}{
		{"first generation", 0, 0, 7, "notifications:unread:0:0:7"},
		{"bumped generation", 3, 0, 7, "notifications:unread:3:0:7"},
		{"bumped user generation", 3, 2, 7, "notifications:unread:3:2:7"},
		{"other user", 3, 0, 12, "notifications:unread:3:0:12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatUserKey("notifications", tt.generation, tt.userGeneration, tt.userID))
		})
	}
}

// newRedisCache connects to TEST_REDIS_URL under a prefix unique to the test
func newRedisCache(t *testing.T) *BadgeCache {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	prefix := "test:" + t.Name() + ":" + time.Now().Format("150405.000000000")
	return NewWithClient(client, Config{Prefix: prefix, TTL: time.Minute}, zap.NewNop())
}

func TestBadgeCacheRoundTrip(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()

	_, slot, ok := c.GetUnread(ctx, 7)
	require.False(t, ok)
	require.NotEmpty(t, slot)

	c.SetUnread(ctx, 7, slot, 3)
	count, _, ok := c.GetUnread(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, 3, count)

	c.InvalidateUser(ctx, 7)
	_, _, ok = c.GetUnread(ctx, 7)
	assert.False(t, ok)
}

func TestBadgeCacheInvalidationBetweenReadAndWrite(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *BadgeCache, ctx context.Context)
	}{
		{"broadcast", func(c *BadgeCache, ctx context.Context) { c.InvalidateAll(ctx) }},
		{"user", func(c *BadgeCache, ctx context.Context) { c.InvalidateUser(ctx, 7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRedisCache(t)
			ctx := context.Background()

			// miss, then the count is computed while a change lands
			_, slot, ok := c.GetUnread(ctx, 7)
			require.False(t, ok)
			tt.invalidate(c, ctx)
			c.SetUnread(ctx, 7, slot, 5)

			_, _, ok = c.GetUnread(ctx, 7)
			assert.False(t, ok, "count computed before the change must not be served")
		})
	}
}
