// Package models holds the shared domain records for the content rating
// service: contents, ratings, users, and the event/stat shapes exchanged
// with Kafka and Redis.
package models

import (
	"time"
)

// Content is a rated item plus its denormalized aggregate columns. The
// aggregate fields (RatingCount, AverageRating, RatingDistribution) are
// written only by the aggregation worker and are eventually consistent
// with the rating table.
type Content struct {
	ID                 int64         `json:"id"`
	Title              string        `json:"title"`
	Text               string        `json:"text"`
	RatingCount        int64         `json:"rating_count"`
	AverageRating      float64       `json:"average_rating"`
	RatingDistribution map[int]int64 `json:"rating_distribution"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Rating is a single user's score for one content. There is at most one
// row per (ContentID, UserID); re-submissions update the row in place and
// flip Processed back to false so the worker re-aggregates.
type Rating struct {
	ID        int64     `json:"id"`
	ContentID int64     `json:"content_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Weight    float64   `json:"weight"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an authenticated account. PasswordHash is a bcrypt digest and is
// never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RatingEvent is the message published to the ratings topic after a
// successful upsert. EventID exists for log correlation only; the worker
// keys everything off ContentID.
type RatingEvent struct {
	EventID     string    `json:"event_id"`
	ContentID   int64     `json:"content_id"`
	RatingID    int64     `json:"rating_id"`
	UserID      int64     `json:"user_id"`
	RatingValue int       `json:"rating_value"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RatingStats is the per-content summary cached in Redis and embedded in
// query responses.
type RatingStats struct {
	AverageRating float64 `json:"average_rating"`
	RatingCount   int64   `json:"rating_count"`
}

// ContentListItem is the shape returned by the listing and detail
// endpoints: the content row plus the caller's own rating if present.
type ContentListItem struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	UserRating    *int      `json:"user_rating"`
	AverageRating float64   `json:"average_rating"`
	RatingCount   int64     `json:"rating_count"`
	CreatedAt     time.Time `json:"created_at"`
}
