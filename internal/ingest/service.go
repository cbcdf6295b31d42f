// Package ingest implements the synchronous rating write path: validate,
// assign the admission weight, upsert the row, and publish the event that
// drives asynchronous aggregation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ratewall/ratewall/internal/models"
	"github.com/ratewall/ratewall/internal/store"
)

// ErrInvalidRating is returned when the submitted value is outside [0,5].
var ErrInvalidRating = errors.New("rating must be an integer between 0 and 5")

// RateWindow is the sliding window over which identical-value submissions
// feed the admission weight.
const RateWindow = time.Hour

// EventPublisher is the stream write side the service depends on.
type EventPublisher interface {
	PublishRatingEvent(ctx context.Context, ev models.RatingEvent) error
}

// Result is the outcome of a successful submission. DeferredAggregation is
// set when the row committed but the event publish failed; the aggregate
// catches up on the next event for the same content.
type Result struct {
	Rating              models.Rating
	DeferredAggregation bool
}

// Service is the ingest side of the rating pipeline.
type Service struct {
	store            store.Store
	publisher        EventPublisher
	rateLimitPerHour int
}

func New(st store.Store, publisher EventPublisher, rateLimitPerHour int) *Service {
	if rateLimitPerHour <= 0 {
		rateLimitPerHour = 10000
	}
	return &Service{
		store:            st,
		publisher:        publisher,
		rateLimitPerHour: rateLimitPerHour,
	}
}

// SubmitRating records value for (contentID, userID). The store computes
// the admission weight max(1, L-n)/L atomically with the upsert, where n
// counts same-value submissions for the content within the last hour.
//
// Returns ErrInvalidRating for out-of-range values and store.ErrNotFound
// for unknown contents. A publish failure after the commit is not an
// error: the row is durable and recompute semantics heal the aggregate.
func (s *Service) SubmitRating(ctx context.Context, userID, contentID int64, value int) (Result, error) {
	if value < 0 || value > 5 {
		return Result{}, ErrInvalidRating
	}

	if _, err := s.store.GetContent(ctx, contentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, store.ErrNotFound
		}
		return Result{}, fmt.Errorf("load content %d: %w", contentID, err)
	}

	in := store.RatingUpsert{
		ContentID:        contentID,
		UserID:           userID,
		Value:            value,
		RateLimitPerHour: s.rateLimitPerHour,
		Window:           RateWindow,
	}
	rating, err := s.store.UpsertRating(ctx, in)
	if errors.Is(err, store.ErrConflict) {
		// Lost a first-insert race against ourselves; the retry lands on
		// the conflict arm of the upsert.
		rating, err = s.store.UpsertRating(ctx, in)
	}
	if err != nil {
		return Result{}, fmt.Errorf("upsert rating: %w", err)
	}

	ev := models.RatingEvent{
		EventID:     uuid.NewString(),
		ContentID:   rating.ContentID,
		RatingID:    rating.ID,
		UserID:      rating.UserID,
		RatingValue: rating.Rating,
		SubmittedAt: rating.UpdatedAt,
	}
	if err := s.publisher.PublishRatingEvent(ctx, ev); err != nil {
		log.Printf("[ingest] event publish failed for content %d (rating %d): %v, aggregation deferred",
			rating.ContentID, rating.ID, err)
		return Result{Rating: rating, DeferredAggregation: true}, nil
	}

	return Result{Rating: rating}, nil
}
