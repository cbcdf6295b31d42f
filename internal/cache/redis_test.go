package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/models"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client, time.Hour), mr
}

func TestStatsRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	stats := models.RatingStats{AverageRating: 4.25, RatingCount: 8}
	if err := c.SetStats(ctx, 42, stats); err != nil {
		t.Fatalf("SetStats: %v", err)
	}
	got, err := c.GetStats(ctx, 42)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if got != stats {
		t.Fatalf("expected %#v, got %#v", stats, got)
	}
}

func TestMissOnAbsentEntry(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetStats(context.Background(), 7)
	if !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.SetStats(ctx, 5, models.RatingStats{AverageRating: 1, RatingCount: 1}); err != nil {
		t.Fatalf("SetStats: %v", err)
	}
	if !mr.Exists("content_rating_stats_5") {
		t.Fatalf("expected key content_rating_stats_5")
	}

	if err := c.Invalidate(ctx, 5); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := c.GetStats(ctx, 5); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected miss after invalidation, got %v", err)
	}
}

func TestEntryExpiresWithTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.SetStats(ctx, 9, models.RatingStats{AverageRating: 3, RatingCount: 2}); err != nil {
		t.Fatalf("SetStats: %v", err)
	}
	mr.FastForward(time.Hour + time.Minute)

	if _, err := c.GetStats(ctx, 9); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected miss after TTL, got %v", err)
	}
}

func TestCorruptEntryBehavesLikeMiss(t *testing.T) {
	c, mr := newTestCache(t)

	if err := mr.Set("content_rating_stats_3", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, err := c.GetStats(context.Background(), 3); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected miss for corrupt entry, got %v", err)
	}
}
