// Package query serves the read side: paginated content listings and
// single-content detail, both carrying the caller's own rating.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/config"
	"github.com/ratewall/ratewall/internal/models"
	"github.com/ratewall/ratewall/internal/store"
)

// Page is one listing page plus the total row count for the envelope.
type Page struct {
	Items []models.ContentListItem
	Total int64
}

// Service reads the denormalized aggregates and the stats cache.
type Service struct {
	store store.Store
	cache cache.StatsCache
}

func New(st store.Store, statsCache cache.StatsCache) *Service {
	return &Service{store: st, cache: statsCache}
}

// normalizeSort maps request parameters onto the store's whitelist;
// unknown values fall back to newest-first.
func normalizeSort(sortBy, order string) (string, string) {
	switch sortBy {
	case store.SortCreatedAt, store.SortRatingCount, store.SortRatingAverage:
	default:
		sortBy = store.SortCreatedAt
	}
	switch order {
	case store.OrderAsc, store.OrderDesc:
	default:
		order = store.OrderDesc
	}
	return sortBy, order
}

// ListContents returns the page-th page (1-based) sorted by sortBy/order.
// The listing reads the indexed aggregate columns directly and does not
// touch the cache.
func (s *Service) ListContents(ctx context.Context, userID int64, sortBy, order string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	sortBy, order = normalizeSort(sortBy, order)

	items, total, err := s.store.ListContents(ctx, store.ListParams{
		UserID: userID,
		SortBy: sortBy,
		Order:  order,
		Limit:  config.PageSize,
		Offset: (page - 1) * config.PageSize,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list contents: %w", err)
	}
	return Page{Items: items, Total: total}, nil
}

// GetContent returns the detail item for one content. Stats come from the
// cache when present; on a miss the content row is authoritative and the
// cache is repopulated.
func (s *Service) GetContent(ctx context.Context, userID, contentID int64) (models.ContentListItem, error) {
	item, err := s.store.GetContentItem(ctx, contentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ContentListItem{}, store.ErrNotFound
		}
		return models.ContentListItem{}, fmt.Errorf("get content item: %w", err)
	}

	stats, err := s.cache.GetStats(ctx, contentID)
	switch {
	case err == nil:
		item.AverageRating = stats.AverageRating
		item.RatingCount = stats.RatingCount
	case errors.Is(err, cache.ErrMiss):
		fill := models.RatingStats{AverageRating: item.AverageRating, RatingCount: item.RatingCount}
		if err := s.cache.SetStats(ctx, contentID, fill); err != nil {
			log.Printf("[query] cache fill for content %d: %v", contentID, err)
		}
	default:
		// Cache down; the content row already carries usable stats.
		log.Printf("[query] cache read for content %d: %v", contentID, err)
	}
	return item, nil
}

// CreateContent persists a new content item. Title is required and bounded
// at 200 characters to match the column.
func (s *Service) CreateContent(ctx context.Context, title, text string) (models.Content, error) {
	if title == "" {
		return models.Content{}, fmt.Errorf("%w: title is required", ErrInvalidContent)
	}
	if len([]rune(title)) > 200 {
		return models.Content{}, fmt.Errorf("%w: title exceeds 200 characters", ErrInvalidContent)
	}
	c, err := s.store.CreateContent(ctx, title, text)
	if err != nil {
		return models.Content{}, fmt.Errorf("create content: %w", err)
	}
	return c, nil
}

// ErrInvalidContent is returned for malformed content creation input.
var ErrInvalidContent = errors.New("invalid content")
