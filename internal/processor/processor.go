// Package processor implements the asynchronous half of the rating
// pipeline: a consumer-group worker that re-scores recent ratings for
// anomalies, recomputes per-content aggregates, and invalidates the stats
// cache. The full recompute per event is the authoritative reconciliation,
// so redelivered or lost events never cause divergence.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/models"
	"github.com/ratewall/ratewall/internal/store"
	"github.com/ratewall/ratewall/internal/stream"
)

// Config carries the anomaly-detection knobs.
type Config struct {
	// AnomalyPenalty is the weight applied to rows caught in a value
	// spike. Default 0.001.
	AnomalyPenalty float64

	// AnomalyThreshold is the same-value share of the last hour's
	// submissions above which the spike is penalized. Default 0.8.
	AnomalyThreshold float64

	// MinRateCount is the minimum sample size before the anomaly check
	// fires. Default 10.
	MinRateCount int

	// ReconnectDelay is slept after a fetch error before the reader
	// retries. Default 5s.
	ReconnectDelay time.Duration
}

// Source is the message feed the processor drains; satisfied by
// stream.Consumer and by test doubles.
type Source interface {
	Fetch(ctx context.Context) (stream.Message, error)
	Commit(ctx context.Context, msg stream.Message) error
	Close() error
}

// Processor consumes rating events and maintains the denormalized
// aggregates.
type Processor struct {
	store store.Store
	cache cache.StatsCache
	cfg   Config

	// now is swappable so tests can position the anomaly window.
	now func() time.Time
}

func New(st store.Store, statsCache cache.StatsCache, cfg Config) *Processor {
	if cfg.AnomalyPenalty <= 0 {
		cfg.AnomalyPenalty = 0.001
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.8
	}
	if cfg.MinRateCount <= 0 {
		cfg.MinRateCount = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Processor{
		store: st,
		cache: statsCache,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run drains src until ctx is cancelled. Malformed payloads are committed
// and skipped; store failures leave the offset uncommitted so the event is
// redelivered.
func (p *Processor) Run(ctx context.Context, src Source) error {
	log.Printf("[processor] started (threshold=%.2f min_count=%d penalty=%g)",
		p.cfg.AnomalyThreshold, p.cfg.MinRateCount, p.cfg.AnomalyPenalty)
	defer log.Printf("[processor] stopped")

	for {
		msg, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[processor] fetch: %v, reconnecting in %s", err, p.cfg.ReconnectDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.ReconnectDelay):
			}
			continue
		}

		var ev models.RatingEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// Poison pill: acknowledge so it cannot block the partition.
			log.Printf("[processor] malformed event at offset %d: %v, skipping", msg.Offset, err)
			if err := src.Commit(ctx, msg); err != nil {
				log.Printf("[processor] commit after skip: %v", err)
			}
			continue
		}

		if err := p.ProcessContent(ctx, ev.ContentID); err != nil {
			// Do not commit; the event is redelivered and the recompute is
			// idempotent.
			log.Printf("[processor] content %d: %v, offset not committed", ev.ContentID, err)
			continue
		}

		if err := src.Commit(ctx, msg); err != nil {
			log.Printf("[processor] commit for content %d: %v", ev.ContentID, err)
		}
	}
}

// ProcessContent runs the batch procedure for one content: penalize
// anomalous unprocessed rows, recompute the weighted aggregate over all
// rows, mark the batch processed, and invalidate the cache entry.
//
// Idempotent per event: a redelivery finds no unprocessed rows and
// recomputes the same aggregate.
func (p *Processor) ProcessContent(ctx context.Context, contentID int64) error {
	if _, err := p.store.GetContent(ctx, contentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[processor] content %d missing, skipping event", contentID)
			return nil
		}
		return fmt.Errorf("load content: %w", err)
	}

	unprocessed, err := p.store.ListUnprocessedRatings(ctx, contentID)
	if err != nil {
		return fmt.Errorf("list unprocessed ratings: %w", err)
	}

	if len(unprocessed) > 0 {
		penalized, err := p.anomalousIDs(ctx, contentID, unprocessed)
		if err != nil {
			return err
		}
		if len(penalized) > 0 {
			if err := p.store.SetRatingWeights(ctx, penalized, p.cfg.AnomalyPenalty); err != nil {
				return fmt.Errorf("apply anomaly penalty: %w", err)
			}
			log.Printf("[processor] content %d: penalized %d anomalous ratings", contentID, len(penalized))
		}
	}

	all, err := p.store.ListRatings(ctx, contentID)
	if err != nil {
		return fmt.Errorf("list ratings: %w", err)
	}
	count, average, distribution := Aggregate(all)
	if err := p.store.UpdateContentAggregates(ctx, contentID, count, average, distribution); err != nil {
		return fmt.Errorf("update aggregates: %w", err)
	}

	if len(unprocessed) > 0 {
		ids := make([]int64, 0, len(unprocessed))
		for _, r := range unprocessed {
			ids = append(ids, r.ID)
		}
		if err := p.store.MarkRatingsProcessed(ctx, ids); err != nil {
			return fmt.Errorf("mark ratings processed: %w", err)
		}
	}

	if err := p.cache.Invalidate(ctx, contentID); err != nil {
		// The TTL bounds staleness; a failed invalidation is not worth a
		// redelivery.
		log.Printf("[processor] content %d: cache invalidation failed: %v", contentID, err)
	}
	return nil
}

// anomalousIDs returns the ids of unprocessed rows whose value dominates
// the last hour's submissions: total >= MinRateCount and the same-value
// share strictly above AnomalyThreshold.
func (p *Processor) anomalousIDs(ctx context.Context, contentID int64, unprocessed []models.Rating) ([]int64, error) {
	since := p.now().Add(-time.Hour)
	total, byValue, err := p.store.RecentRatingCounts(ctx, contentID, since)
	if err != nil {
		return nil, fmt.Errorf("count recent ratings: %w", err)
	}
	if total < int64(p.cfg.MinRateCount) {
		return nil, nil
	}

	var ids []int64
	for _, r := range unprocessed {
		share := float64(byValue[r.Rating]) / float64(total)
		if share > p.cfg.AnomalyThreshold {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// Aggregate computes the weighted average, row count, and value
// distribution over a content's ratings. The average is 0 when the weight
// sum is 0.
func Aggregate(ratings []models.Rating) (count int64, average float64, distribution map[int]int64) {
	distribution = map[int]int64{}
	var weightedSum, weightSum float64
	for _, r := range ratings {
		weightedSum += float64(r.Rating) * r.Weight
		weightSum += r.Weight
		distribution[r.Rating]++
	}
	if weightSum > 0 {
		average = weightedSum / weightSum
	}
	return int64(len(ratings)), average, distribution
}
