package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "notifications"
	defaultTTL    = 10 * time.Minute
)

// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
var ErrCacheDisabled = errors.New("cache is disabled")

// Config configures the Redis connection
type Config struct {
	Enabled bool
	URL     string
	Prefix  string
	TTL     time.Duration
}

// BadgeCache stores per-user unread counts in Redis. A nil *BadgeCache is a
// valid, always-missing cache.
//
// Broadcast changes affect every user, so counts are stored under a generation
// number that InvalidateAll bumps instead of scanning keys. Each user has a
// generation of their own that InvalidateUser bumps the same way.
type BadgeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis. It returns nil without error when the cache is disabled.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*BadgeCache, error) {
	if !cfg.Enabled {
		logger.Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *BadgeCache {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &BadgeCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "badge_cache")),
	}
}

// GetUnread returns the cached count and the key it lives under. The key is
// returned on a miss too, so the caller can fill it with SetUnread.
func (c *BadgeCache) GetUnread(ctx context.Context, userID int64) (int, string, bool) {
	if c == nil || c.client == nil {
		return 0, "", false
	}
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return 0, "", false
	}

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("badge cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return 0, key, false
	}

	count, err := strconv.Atoi(val)
	if err != nil || count < 0 {
		return 0, key, false
	}
	return count, key, true
}

// SetUnread stores count under the key returned by GetUnread. If either
// generation moved since then, the key is no longer read and the write is inert.
func (c *BadgeCache) SetUnread(ctx context.Context, userID int64, key string, count int) {
	if c == nil || c.client == nil || key == "" {
		return
	}
	if err := c.client.Set(ctx, key, count, c.ttl).Err(); err != nil {
		c.logger.Warn("badge cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// InvalidateUser drops the user's cached count by moving the user to a new generation
func (c *BadgeCache) InvalidateUser(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	genKey := c.userGenerationKey(userID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	// outlives every count written under the previous generation
	pipe.Expire(ctx, genKey, 2*c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("badge cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// InvalidateAll drops every cached count by moving to a new generation
func (c *BadgeCache) InvalidateAll(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.Warn("badge cache generation bump failed", zap.Error(err))
	}
}

// Health checks Redis health
func (c *BadgeCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *BadgeCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *BadgeCache) generationKey() string {
	return c.prefix + ":unread:generation"
}

func (c *BadgeCache) userGenerationKey(userID int64) string {
	return fmt.Sprintf("%s:unread:generation:%d", c.prefix, userID)
}

// userKey reads both generations in one round trip
func (c *BadgeCache) userKey(ctx context.Context, userID int64) (string, error) {
	vals, err := c.client.MGet(ctx, c.generationKey(), c.userGenerationKey(userID)).Result()
	if err != nil {
		c.logger.Warn("badge cache generation read failed", zap.Error(err))
		return "", err
	}
	gens := make([]int64, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// unset
			continue
		}
		if gens[i], err = strconv.ParseInt(str, 10, 64); err != nil {
			return "", fmt.Errorf("corrupt badge generation %q: %w", str, err)
		}
	}
	return formatUserKey(c.prefix, gens[0], gens[1], userID), nil
}

func formatUserKey(prefix string, generation, userGeneration, userID int64) string {
	return fmt.Sprintf("%s:unread:%d:%d:%d", prefix, generation, userGeneration, userID)
}
