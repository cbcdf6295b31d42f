package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratewall/ratewall/internal/models"
)

// RedisCache stores stats entries as JSON under
// content_rating_stats_{content_id} with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisCacheFromURL dials Redis from a redis:// URL and verifies
// connectivity before returning.
func NewRedisCacheFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

func statsKey(contentID int64) string {
	return fmt.Sprintf("content_rating_stats_%d", contentID)
}

func (c *RedisCache) GetStats(ctx context.Context, contentID int64) (models.RatingStats, error) {
	raw, err := c.client.Get(ctx, statsKey(contentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.RatingStats{}, ErrMiss
		}
		return models.RatingStats{}, fmt.Errorf("get stats: %w", err)
	}
	var stats models.RatingStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		// A corrupt entry behaves like a miss; the reader repopulates it.
		return models.RatingStats{}, ErrMiss
	}
	return stats, nil
}

func (c *RedisCache) SetStats(ctx context.Context, contentID int64, stats models.RatingStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, statsKey(contentID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stats: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, contentID int64) error {
	if err := c.client.Del(ctx, statsKey(contentID)).Err(); err != nil {
		return fmt.Errorf("invalidate stats: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
