package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ratewall/ratewall/internal/models"
)

// MemoryStore is an in-memory Store used by service-level tests. It
// mirrors the semantics of PGStore, including the atomic admission-weight
// computation inside UpsertRating.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	contents map[int64]models.Content
	ratings  map[int64]models.Rating

	nextUserID    int64
	nextContentID int64
	nextRatingID  int64

	// now is swappable so tests can control the rate window.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[int64]models.User{},
		contents: map[int64]models.Content{},
		ratings:  map[int64]models.Rating{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock. Test helper.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return models.User{}, ErrConflict
		}
	}
	m.nextUserID++
	u := models.User{
		ID:           m.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *MemoryStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) CreateContent(ctx context.Context, title, text string) (models.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextContentID++
	c := models.Content{
		ID:                 m.nextContentID,
		Title:              title,
		Text:               text,
		RatingDistribution: map[int]int64{},
		CreatedAt:          m.now(),
	}
	m.contents[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetContent(ctx context.Context, id int64) (models.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[id]
	if !ok {
		return models.Content{}, ErrNotFound
	}
	return copyContent(c), nil
}

func copyContent(c models.Content) models.Content {
	dist := make(map[int]int64, len(c.RatingDistribution))
	for k, v := range c.RatingDistribution {
		dist[k] = v
	}
	c.RatingDistribution = dist
	return c
}

func (m *MemoryStore) ListContents(ctx context.Context, p ListParams) ([]models.ContentListItem, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contents := make([]models.Content, 0, len(m.contents))
	for _, c := range m.contents {
		contents = append(contents, c)
	}
	less := func(a, b models.Content) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch p.SortBy {
	case SortRatingCount:
		less = func(a, b models.Content) bool { return a.RatingCount < b.RatingCount }
	case SortRatingAverage:
		less = func(a, b models.Content) bool { return a.AverageRating < b.AverageRating }
	}
	sort.Slice(contents, func(i, j int) bool {
		if p.Order == OrderAsc {
			return less(contents[i], contents[j])
		}
		return less(contents[j], contents[i])
	})

	total := int64(len(contents))
	if p.Offset >= len(contents) {
		return []models.ContentListItem{}, total, nil
	}
	end := p.Offset + p.Limit
	if p.Limit <= 0 || end > len(contents) {
		end = len(contents)
	}

	items := make([]models.ContentListItem, 0, end-p.Offset)
	for _, c := range contents[p.Offset:end] {
		items = append(items, m.itemLocked(c, p.UserID))
	}
	return items, total, nil
}

func (m *MemoryStore) itemLocked(c models.Content, userID int64) models.ContentListItem {
	item := models.ContentListItem{
		ID:            c.ID,
		Title:         c.Title,
		AverageRating: c.AverageRating,
		RatingCount:   c.RatingCount,
		CreatedAt:     c.CreatedAt,
	}
	for _, r := range m.ratings {
		if r.ContentID == c.ID && r.UserID == userID {
			v := r.Rating
			item.UserRating = &v
			break
		}
	}
	return item
}

func (m *MemoryStore) GetContentItem(ctx context.Context, contentID, userID int64) (models.ContentListItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[contentID]
	if !ok {
		return models.ContentListItem{}, ErrNotFound
	}
	return m.itemLocked(c, userID), nil
}

func (m *MemoryStore) UpdateContentAggregates(ctx context.Context, contentID, count int64, average float64, distribution map[int]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[contentID]
	if !ok {
		return ErrNotFound
	}
	c.RatingCount = count
	c.AverageRating = average
	c.RatingDistribution = map[int]int64{}
	for k, v := range distribution {
		c.RatingDistribution[k] = v
	}
	m.contents[contentID] = c
	return nil
}

func (m *MemoryStore) UpsertRating(ctx context.Context, in RatingUpsert) (models.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := in.Window
	if window <= 0 {
		window = time.Hour
	}
	now := m.now()
	since := now.Add(-window)

	var sameValue int64
	for _, r := range m.ratings {
		if r.ContentID == in.ContentID && r.Rating == in.Value && !r.CreatedAt.Before(since) {
			sameValue++
		}
	}
	limit := int64(in.RateLimitPerHour)
	numerator := limit - sameValue
	if numerator < 1 {
		numerator = 1
	}
	weight := float64(numerator) / float64(limit)

	for id, r := range m.ratings {
		if r.ContentID == in.ContentID && r.UserID == in.UserID {
			r.Rating = in.Value
			r.Weight = weight
			r.Processed = false
			r.UpdatedAt = now
			m.ratings[id] = r
			return r, nil
		}
	}

	m.nextRatingID++
	r := models.Rating{
		ID:        m.nextRatingID,
		ContentID: in.ContentID,
		UserID:    in.UserID,
		Rating:    in.Value,
		Weight:    weight,
		Processed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.ratings[r.ID] = r
	return r, nil
}

func (m *MemoryStore) ListUnprocessedRatings(ctx context.Context, contentID int64) ([]models.Rating, error) {
	return m.listRatings(contentID, true)
}

func (m *MemoryStore) ListRatings(ctx context.Context, contentID int64) ([]models.Rating, error) {
	return m.listRatings(contentID, false)
}

func (m *MemoryStore) listRatings(contentID int64, unprocessedOnly bool) ([]models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Rating
	for _, r := range m.ratings {
		if r.ContentID != contentID {
			continue
		}
		if unprocessedOnly && r.Processed {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RecentRatingCounts(ctx context.Context, contentID int64, since time.Time) (int64, map[int]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	byValue := map[int]int64{}
	for _, r := range m.ratings {
		if r.ContentID == contentID && !r.CreatedAt.Before(since) {
			byValue[r.Rating]++
			total++
		}
	}
	return total, byValue, nil
}

func (m *MemoryStore) SetRatingWeights(ctx context.Context, ratingIDs []int64, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ratingIDs {
		if r, ok := m.ratings[id]; ok {
			r.Weight = weight
			r.UpdatedAt = m.now()
			m.ratings[id] = r
		}
	}
	return nil
}

func (m *MemoryStore) MarkRatingsProcessed(ctx context.Context, ratingIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ratingIDs {
		if r, ok := m.ratings[id]; ok {
			r.Processed = true
			m.ratings[id] = r
		}
	}
	return nil
}

// SeedRating inserts a rating row directly, bypassing the admission
// weight. Test helper for building rate-window fixtures.
func (m *MemoryStore) SeedRating(r models.Rating) models.Rating {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextRatingID++
		r.ID = m.nextRatingID
	} else if r.ID > m.nextRatingID {
		m.nextRatingID = r.ID
	}
	m.ratings[r.ID] = r
	return r
}
