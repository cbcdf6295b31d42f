package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ratewall/ratewall/internal/models"
)

// PGStore is the Postgres-backed Store used in production.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *PGStore) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	const query = `
		INSERT INTO app_user (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	u := models.User{Username: username, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, query, username, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM app_user
		WHERE username = $1
	`
	var u models.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM app_user
		WHERE id = $1
	`
	var u models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *PGStore) CreateContent(ctx context.Context, title, text string) (models.Content, error) {
	const query = `
		INSERT INTO content (title, text)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	c := models.Content{
		Title:              title,
		Text:               text,
		RatingDistribution: map[int]int64{},
	}
	err := s.db.QueryRowContext(ctx, query, title, text).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return models.Content{}, fmt.Errorf("insert content: %w", err)
	}
	return c, nil
}

func (s *PGStore) GetContent(ctx context.Context, id int64) (models.Content, error) {
	const query = `
		SELECT id, title, text, rating_count, average_rating, rating_distribution, created_at
		FROM content
		WHERE id = $1
	`
	var (
		c    models.Content
		dist []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Title, &c.Text, &c.RatingCount, &c.AverageRating, &dist, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Content{}, ErrNotFound
		}
		return models.Content{}, fmt.Errorf("query content: %w", err)
	}
	c.RatingDistribution = map[int]int64{}
	if len(dist) > 0 {
		if err := json.Unmarshal(dist, &c.RatingDistribution); err != nil {
			return models.Content{}, fmt.Errorf("decode rating distribution: %w", err)
		}
	}
	return c, nil
}

var sortColumns = map[string]string{
	SortCreatedAt:     "c.created_at",
	SortRatingCount:   "c.rating_count",
	SortRatingAverage: "c.average_rating",
}

func (s *PGStore) ListContents(ctx context.Context, p ListParams) ([]models.ContentListItem, int64, error) {
	col, ok := sortColumns[p.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort column %q", p.SortBy)
	}
	dir := "DESC"
	if p.Order == OrderAsc {
		dir = "ASC"
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM content`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contents: %w", err)
	}

	// Sort columns come from the whitelist above; only values are bound.
	query := fmt.Sprintf(`
		SELECT c.id, c.title, r.rating, c.average_rating, c.rating_count, c.created_at
		FROM content c
		LEFT JOIN rating r ON r.content_id = c.id AND r.user_id = $1
		ORDER BY %s %s, c.id DESC
		LIMIT $2 OFFSET $3
	`, col, dir)

	rows, err := s.db.QueryContext(ctx, query, p.UserID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	items := make([]models.ContentListItem, 0, p.Limit)
	for rows.Next() {
		var (
			item       models.ContentListItem
			userRating sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.Title, &userRating, &item.AverageRating, &item.RatingCount, &item.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan content row: %w", err)
		}
		if userRating.Valid {
			v := int(userRating.Int64)
			item.UserRating = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate contents: %w", err)
	}
	return items, total, nil
}

func (s *PGStore) GetContentItem(ctx context.Context, contentID, userID int64) (models.ContentListItem, error) {
	const query = `
		SELECT c.id, c.title, r.rating, c.average_rating, c.rating_count, c.created_at
		FROM content c
		LEFT JOIN rating r ON r.content_id = c.id AND r.user_id = $2
		WHERE c.id = $1
	`
	var (
		item       models.ContentListItem
		userRating sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, contentID, userID).Scan(
		&item.ID, &item.Title, &userRating, &item.AverageRating, &item.RatingCount, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ContentListItem{}, ErrNotFound
		}
		return models.ContentListItem{}, fmt.Errorf("query content item: %w", err)
	}
	if userRating.Valid {
		v := int(userRating.Int64)
		item.UserRating = &v
	}
	return item, nil
}

func (s *PGStore) UpdateContentAggregates(ctx context.Context, contentID, count int64, average float64, distribution map[int]int64) error {
	if distribution == nil {
		distribution = map[int]int64{}
	}
	dist, err := json.Marshal(distribution)
	if err != nil {
		return fmt.Errorf("encode rating distribution: %w", err)
	}
	const query = `
		UPDATE content
		SET rating_count = $2, average_rating = $3, rating_distribution = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, contentID, count, average, dist)
	if err != nil {
		return fmt.Errorf("update content aggregates: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// upsertRatingQuery counts identical-value submissions inside the window
// and derives the admission weight max(1, L-n)/L in the same statement, so
// a concurrent flood cannot slip between the count and the write. The
// conflict arm keeps created_at and resets processed.
const upsertRatingQuery = `
	WITH recent AS (
		SELECT count(*) AS n
		FROM rating
		WHERE content_id = $1 AND rating = $3 AND created_at >= $5
	)
	INSERT INTO rating (content_id, user_id, rating, weight, processed, created_at, updated_at)
	SELECT $1, $2, $3, GREATEST(1, $4 - recent.n)::float8 / $4, FALSE, now(), now()
	FROM recent
	ON CONFLICT (content_id, user_id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    weight = EXCLUDED.weight,
		    processed = FALSE,
		    updated_at = now()
	RETURNING id, content_id, user_id, rating, weight, processed, created_at, updated_at
`

func (s *PGStore) UpsertRating(ctx context.Context, in RatingUpsert) (models.Rating, error) {
	if in.Window <= 0 {
		in.Window = time.Hour
	}
	since := time.Now().UTC().Add(-in.Window)

	var r models.Rating
	err := s.db.QueryRowContext(ctx, upsertRatingQuery,
		in.ContentID, in.UserID, in.Value, in.RateLimitPerHour, since,
	).Scan(&r.ID, &r.ContentID, &r.UserID, &r.Rating, &r.Weight, &r.Processed, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Two first-time submissions from the same user raced; the
			// caller retries once and the retry takes the conflict arm.
			return models.Rating{}, ErrConflict
		}
		return models.Rating{}, fmt.Errorf("upsert rating: %w", err)
	}
	return r, nil
}

func (s *PGStore) ListUnprocessedRatings(ctx context.Context, contentID int64) ([]models.Rating, error) {
	const query = `
		SELECT id, content_id, user_id, rating, weight, processed, created_at, updated_at
		FROM rating
		WHERE content_id = $1 AND processed = FALSE
		ORDER BY id
	`
	return s.queryRatings(ctx, query, contentID)
}

func (s *PGStore) ListRatings(ctx context.Context, contentID int64) ([]models.Rating, error) {
	const query = `
		SELECT id, content_id, user_id, rating, weight, processed, created_at, updated_at
		FROM rating
		WHERE content_id = $1
		ORDER BY id
	`
	return s.queryRatings(ctx, query, contentID)
}

func (s *PGStore) queryRatings(ctx context.Context, query string, contentID int64) ([]models.Rating, error) {
	rows, err := s.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	var out []models.Rating
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.ID, &r.ContentID, &r.UserID, &r.Rating, &r.Weight, &r.Processed, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rating row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	return out, nil
}

func (s *PGStore) RecentRatingCounts(ctx context.Context, contentID int64, since time.Time) (int64, map[int]int64, error) {
	const query = `
		SELECT rating, count(*)
		FROM rating
		WHERE content_id = $1 AND created_at >= $2
		GROUP BY rating
	`
	rows, err := s.db.QueryContext(ctx, query, contentID, since)
	if err != nil {
		return 0, nil, fmt.Errorf("count recent ratings: %w", err)
	}
	defer rows.Close()

	var total int64
	byValue := map[int]int64{}
	for rows.Next() {
		var (
			value int
			n     int64
		)
		if err := rows.Scan(&value, &n); err != nil {
			return 0, nil, fmt.Errorf("scan recent rating count: %w", err)
		}
		byValue[value] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate recent rating counts: %w", err)
	}
	return total, byValue, nil
}

func (s *PGStore) SetRatingWeights(ctx context.Context, ratingIDs []int64, weight float64) error {
	if len(ratingIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE rating
		SET weight = $2, updated_at = now()
		WHERE id = ANY($1)
	`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ratingIDs), weight); err != nil {
		return fmt.Errorf("set rating weights: %w", err)
	}
	return nil
}

func (s *PGStore) MarkRatingsProcessed(ctx context.Context, ratingIDs []int64) error {
	if len(ratingIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE rating
		SET processed = TRUE
		WHERE id = ANY($1)
	`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ratingIDs)); err != nil {
		return fmt.Errorf("mark ratings processed: %w", err)
	}
	return nil
}
