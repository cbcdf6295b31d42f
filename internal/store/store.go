package store

import (
	"context"
	"errors"
	"time"

	"github.com/ratewall/ratewall/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a uniqueness constraint is violated
	// (duplicate username, or a rating upsert losing a race).
	ErrConflict = errors.New("record conflict")
)

// Sort columns accepted by ListContents. Anything else is rejected before
// SQL is built.
const (
	SortCreatedAt     = "created_at"
	SortRatingCount   = "rating_count"
	SortRatingAverage = "rating_average"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// RatingUpsert is the input to UpsertRating. RateLimitPerHour is the L
// constant of the admission-weight formula; Window is the sliding window
// over which identical-value submissions are counted (one hour in
// production, shorter in tests).
type RatingUpsert struct {
	ContentID        int64
	UserID           int64
	Value            int
	RateLimitPerHour int
	Window           time.Duration
}

// ListParams drives the paginated listing. UserID identifies the caller
// whose own rating is joined onto each row.
type ListParams struct {
	UserID int64
	SortBy string
	Order  string
	Limit  int
	Offset int
}

// Store is the persistence contract shared by the API service and the
// rating processor.
type Store interface {
	// Users
	CreateUser(ctx context.Context, username, passwordHash string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)

	// Contents
	CreateContent(ctx context.Context, title, text string) (models.Content, error)
	GetContent(ctx context.Context, id int64) (models.Content, error)
	ListContents(ctx context.Context, p ListParams) ([]models.ContentListItem, int64, error)
	GetContentItem(ctx context.Context, contentID, userID int64) (models.ContentListItem, error)
	UpdateContentAggregates(ctx context.Context, contentID, count int64, average float64, distribution map[int]int64) error

	// Ratings
	//
	// UpsertRating counts identical-value submissions for the content
	// inside the window and writes the row in a single statement, so the
	// admission weight max(1, L-n)/L and the upsert are atomic. A
	// re-submission keeps created_at, replaces rating and weight, and
	// resets processed to false.
	UpsertRating(ctx context.Context, in RatingUpsert) (models.Rating, error)
	ListUnprocessedRatings(ctx context.Context, contentID int64) ([]models.Rating, error)
	ListRatings(ctx context.Context, contentID int64) ([]models.Rating, error)
	RecentRatingCounts(ctx context.Context, contentID int64, since time.Time) (int64, map[int]int64, error)
	SetRatingWeights(ctx context.Context, ratingIDs []int64, weight float64) error
	MarkRatingsProcessed(ctx context.Context, ratingIDs []int64) error

	Ping(ctx context.Context) error
}
