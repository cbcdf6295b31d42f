package store_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ratewall/ratewall/internal/store"
)

func newMockStore(t *testing.T) (*store.PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return store.NewPGStore(db), mock, func() { _ = db.Close() }
}

func TestCreateUserConflict(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO app_user")).
		WithArgs("alice", "hash").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := st.CreateUser(context.Background(), "alice", "hash")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetContentNotFound(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("FROM content")).
		WithArgs(int64(999)).
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetContent(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetContentDecodesDistribution(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "title", "text", "rating_count", "average_rating", "rating_distribution", "created_at",
	}).AddRow(int64(7), "Title", "Body", int64(3), 4.5, []byte(`{"4":2,"5":1}`), now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM content")).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	c, err := st.GetContent(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if c.RatingDistribution[4] != 2 || c.RatingDistribution[5] != 1 {
		t.Fatalf("unexpected distribution: %#v", c.RatingDistribution)
	}
	if c.AverageRating != 4.5 || c.RatingCount != 3 {
		t.Fatalf("unexpected aggregates: %#v", c)
	}
}

func TestUpsertRatingScansRow(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "content_id", "user_id", "rating", "weight", "processed", "created_at", "updated_at",
	}).AddRow(int64(1), int64(10), int64(20), 4, 0.1, false, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rating")).
		WithArgs(int64(10), int64(20), 4, 10000, sqlmock.AnyArg()).
		WillReturnRows(rows)

	r, err := st.UpsertRating(context.Background(), store.RatingUpsert{
		ContentID:        10,
		UserID:           20,
		Value:            4,
		RateLimitPerHour: 10000,
	})
	if err != nil {
		t.Fatalf("UpsertRating: %v", err)
	}
	if r.Weight != 0.1 {
		t.Fatalf("expected weight 0.1, got %v", r.Weight)
	}
	if r.Processed {
		t.Fatalf("fresh upsert must be unprocessed")
	}
}

func TestUpsertRatingRaceMapsToConflict(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rating")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := st.UpsertRating(context.Background(), store.RatingUpsert{
		ContentID: 1, UserID: 2, Value: 3, RateLimitPerHour: 10000,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListContentsJoinsUserRating(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM content")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "title", "rating", "average_rating", "rating_count", "created_at",
	}).
		AddRow(int64(1), "A", int64(5), 4.2, int64(10), now).
		AddRow(int64(2), "B", nil, 0.0, int64(0), now)

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN rating")).
		WithArgs(int64(42), 20, 0).
		WillReturnRows(rows)

	items, total, err := st.ListContents(context.Background(), store.ListParams{
		UserID: 42,
		SortBy: store.SortRatingCount,
		Order:  store.OrderDesc,
		Limit:  20,
	})
	if err != nil {
		t.Fatalf("ListContents: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 items total=2, got %d items total=%d", len(items), total)
	}
	if items[0].UserRating == nil || *items[0].UserRating != 5 {
		t.Fatalf("expected user rating 5 on first item")
	}
	if items[1].UserRating != nil {
		t.Fatalf("expected nil user rating on second item")
	}
}

func TestListContentsRejectsUnknownSort(t *testing.T) {
	st, _, done := newMockStore(t)
	defer done()

	_, _, err := st.ListContents(context.Background(), store.ListParams{SortBy: "title; DROP TABLE"})
	if err == nil {
		t.Fatalf("expected error for unknown sort column")
	}
}

func TestRecentRatingCounts(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	rows := sqlmock.NewRows([]string{"rating", "count"}).
		AddRow(5, int64(9)).
		AddRow(3, int64(1))

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY rating")).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(rows)

	total, byValue, err := st.RecentRatingCounts(context.Background(), 1, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentRatingCounts: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected total 10, got %d", total)
	}
	if byValue[5] != 9 || byValue[3] != 1 {
		t.Fatalf("unexpected byValue: %#v", byValue)
	}
}

func TestSetRatingWeights(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rating")).
		WithArgs(sqlmock.AnyArg(), 0.001).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := st.SetRatingWeights(context.Background(), []int64{1, 2, 3}, 0.001); err != nil {
		t.Fatalf("SetRatingWeights: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRatingWeightsNoIDsIsNoop(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	if err := st.SetRatingWeights(context.Background(), nil, 0.001); err != nil {
		t.Fatalf("SetRatingWeights: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL expected: %v", err)
	}
}

func TestUpdateContentAggregates(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content")).
		WithArgs(int64(1), int64(4), 3.75, []byte(`{"3":1,"4":3}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.UpdateContentAggregates(context.Background(), 1, 4, 3.75, map[int]int64{3: 1, 4: 3})
	if err != nil {
		t.Fatalf("UpdateContentAggregates: %v", err)
	}
}

func TestUpdateContentAggregatesMissingContent(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.UpdateContentAggregates(context.Background(), 999, 0, 0, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
