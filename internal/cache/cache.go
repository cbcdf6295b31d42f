// Package cache provides the short-TTL per-content stats cache backed by
// Redis. The aggregation worker is the only writer of aggregates, so the
// cache is invalidated there and repopulated lazily on the read path.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/ratewall/ratewall/internal/models"
)

// ErrMiss is returned when no entry exists for the content id. Readers
// fall back to the content row.
var ErrMiss = errors.New("cache miss")

// DefaultTTL bounds staleness of a cached stats entry.
const DefaultTTL = time.Hour

// StatsCache is the contract for the per-content rating stats cache.
type StatsCache interface {
	GetStats(ctx context.Context, contentID int64) (models.RatingStats, error)
	SetStats(ctx context.Context, contentID int64, stats models.RatingStats) error
	Invalidate(ctx context.Context, contentID int64) error
}
