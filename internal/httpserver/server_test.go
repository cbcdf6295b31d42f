package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratewall/ratewall/internal/auth"
	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/httpserver"
	"github.com/ratewall/ratewall/internal/ingest"
	"github.com/ratewall/ratewall/internal/models"
	"github.com/ratewall/ratewall/internal/query"
	"github.com/ratewall/ratewall/internal/store"
)

type fakePublisher struct {
	events []models.RatingEvent
}

func (f *fakePublisher) PublishRatingEvent(ctx context.Context, ev models.RatingEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeCache struct{}

func (fakeCache) GetStats(ctx context.Context, contentID int64) (models.RatingStats, error) {
	return models.RatingStats{}, cache.ErrMiss
}
func (fakeCache) SetStats(ctx context.Context, contentID int64, stats models.RatingStats) error {
	return nil
}
func (fakeCache) Invalidate(ctx context.Context, contentID int64) error { return nil }

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
	pub    *fakePublisher
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	pub := &fakePublisher{}
	tokens := auth.NewManager("test-secret", time.Hour, 24*time.Hour)

	srv := httpserver.New(
		mem,
		ingest.New(mem, pub, 10000),
		query.New(mem, fakeCache{}),
		tokens,
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: mem, pub: pub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// register + token in one step.
func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "password": "pass12345",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"username": username, "password": "pass12345",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair auth.TokenPair
	decodeBody(t, resp, &pair)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)
	return pair.Access
}

func TestRegisterValidation(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// duplicate username
	env.signup(t, "bob")
	resp = env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "bob", "password": "pass12345",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	env := newEnv(t)
	env.signup(t, "carol")

	resp := env.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"username": "carol", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestTokenRefresh(t *testing.T) {
	env := newEnv(t)
	env.signup(t, "dave")

	resp := env.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"username": "dave", "password": "pass12345",
	})
	var pair auth.TokenPair
	decodeBody(t, resp, &pair)

	resp = env.do(t, http.MethodPost, "/auth/token/refresh", "", map[string]string{
		"refresh": pair.Refresh,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out["access"])

	// Access token is not accepted as a refresh token.
	resp = env.do(t, http.MethodPost, "/auth/token/refresh", "", map[string]string{
		"refresh": pair.Access,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestContentsRequireAuth(t *testing.T) {
	env := newEnv(t)

	for _, path := range []string{"/contents", "/contents/1"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		resp.Body.Close()
	}
	resp := env.do(t, http.MethodPost, "/contents/rate", "", map[string]int{"content_id": 1, "rating": 3})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRateFlow(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "erin")

	resp := env.do(t, http.MethodPost, "/contents/create", token, map[string]string{
		"title": "My first content", "text": "body",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var content models.Content
	decodeBody(t, resp, &content)

	resp = env.do(t, http.MethodPost, "/contents/rate", token, map[string]interface{}{
		"content_id": content.ID, "rating": 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rated map[string]interface{}
	decodeBody(t, resp, &rated)
	require.Equal(t, "ok", rated["status"])
	require.Equal(t, float64(4), rated["rating"])
	require.Equal(t, float64(1), rated["weight"])

	require.Len(t, env.pub.events, 1)

	// Detail shows the caller's own rating.
	resp = env.do(t, http.MethodGet, fmt.Sprintf("/contents/%d", content.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item models.ContentListItem
	decodeBody(t, resp, &item)
	require.NotNil(t, item.UserRating)
	require.Equal(t, 4, *item.UserRating)
}

func TestRateValidation(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "frank")

	resp := env.do(t, http.MethodPost, "/contents/create", token, map[string]string{
		"title": "t", "text": "b",
	})
	var content models.Content
	decodeBody(t, resp, &content)

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"rating too high", map[string]interface{}{"content_id": content.ID, "rating": 7}, http.StatusBadRequest},
		{"rating negative", map[string]interface{}{"content_id": content.ID, "rating": -1}, http.StatusBadRequest},
		{"rating missing", map[string]interface{}{"content_id": content.ID}, http.StatusBadRequest},
		{"content_id missing", map[string]interface{}{"rating": 3}, http.StatusBadRequest},
		{"content unknown", map[string]interface{}{"content_id": 999, "rating": 3}, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := env.do(t, http.MethodPost, "/contents/rate", token, tc.body)
		require.Equal(t, tc.want, resp.StatusCode, tc.name)
		resp.Body.Close()
	}
	require.Empty(t, env.pub.events, "no events for rejected submissions")
}

func TestListPaginationEnvelope(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "gina")

	for i := 0; i < 25; i++ {
		resp := env.do(t, http.MethodPost, "/contents/create", token, map[string]string{
			"title": fmt.Sprintf("content %02d", i), "text": "b",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodGet, "/contents?sort_by=created_at&order=asc", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Count    int64                    `json:"count"`
		Next     *string                  `json:"next"`
		Previous *string                  `json:"previous"`
		Results  []models.ContentListItem `json:"results"`
	}
	decodeBody(t, resp, &page)
	require.Equal(t, int64(25), page.Count)
	require.Len(t, page.Results, 20)
	require.NotNil(t, page.Next)
	require.Contains(t, *page.Next, "page=2")
	require.Nil(t, page.Previous)

	resp = env.do(t, http.MethodGet, "/contents?sort_by=created_at&order=asc&page=2", token, nil)
	decodeBody(t, resp, &page)
	require.Len(t, page.Results, 5)
	require.Nil(t, page.Next)
	require.NotNil(t, page.Previous)
	require.Contains(t, *page.Previous, "page=1")
}

func TestGetContentNotFound(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "henry")

	resp := env.do(t, http.MethodGet, "/contents/999", token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/contents/abc", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
