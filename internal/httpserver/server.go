// Package httpserver wires the HTTP surface: auth endpoints, content
// listing/detail/creation, and the rating ingest endpoint.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ratewall/ratewall/internal/auth"
	"github.com/ratewall/ratewall/internal/config"
	"github.com/ratewall/ratewall/internal/ingest"
	"github.com/ratewall/ratewall/internal/query"
	"github.com/ratewall/ratewall/internal/store"
)

type Server struct {
	store  store.Store
	ingest *ingest.Service
	query  *query.Service
	tokens *auth.Manager
}

func New(st store.Store, ingestSvc *ingest.Service, querySvc *query.Service, tokens *auth.Manager) *Server {
	return &Server{
		store:  st,
		ingest: ingestSvc,
		query:  querySvc,
		tokens: tokens,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/token", s.handleToken)
		r.Post("/token/refresh", s.handleRefresh)
	})

	r.Route("/contents", func(r chi.Router) {
		r.Use(auth.Middleware(s.tokens))
		r.Get("/", s.handleListContents)
		r.Get("/{id}", s.handleGetContent)
		r.Post("/create", s.handleCreateContent)
		r.Post("/rate", s.handleRate)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", "username and password are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RATING_INTERNAL", "could not hash password")
		return
	}
	u, err := s.store.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", "username already taken")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "RATING_UNAVAILABLE", "store unavailable")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"user": u})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
		return
	}
	u, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "RATING_AUTH_FAILED", "invalid credentials")
		return
	}
	pair, err := s.tokens.IssueTokenPair(u)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RATING_INTERNAL", "could not issue tokens")
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
		return
	}
	access, err := s.tokens.RefreshAccess(req.Refresh)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "RATING_AUTH_FAILED", "invalid refresh token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"access": access})
}

// paginated is the listing envelope.
type paginated struct {
	Count    int64       `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

func (s *Server) handleListContents(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	sortBy := r.URL.Query().Get("sort_by")
	order := r.URL.Query().Get("order")

	result, err := s.query.ListContents(r.Context(), id.UserID, sortBy, order, page)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "RATING_UNAVAILABLE", "store unavailable")
		return
	}

	respondJSON(w, http.StatusOK, paginated{
		Count:    result.Total,
		Next:     pageURL(r, page+1, result.Total),
		Previous: pageURL(r, page-1, result.Total),
		Results:  result.Items,
	})
}

// pageURL rebuilds the request URL for the given page, or nil when the
// page is out of range.
func pageURL(r *http.Request, page int, total int64) *string {
	if page < 1 {
		return nil
	}
	lastPage := int((total + int64(config.PageSize) - 1) / int64(config.PageSize))
	if page > lastPage {
		return nil
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	out := u.String()
	return &out
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	contentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", "invalid content id")
		return
	}
	item, err := s.query.GetContent(r.Context(), id.UserID, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "RATING_NOT_FOUND", "content not found")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "RATING_UNAVAILABLE", "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

type createContentRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var req createContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
		return
	}
	c, err := s.query.CreateContent(r.Context(), req.Title, req.Text)
	if err != nil {
		if errors.Is(err, query.ErrInvalidContent) {
			respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "RATING_UNAVAILABLE", "store unavailable")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// rateRequest uses pointers so missing fields are distinguishable from
// zero values before any store call is made.
type rateRequest struct {
	ContentID *int64 `json:"content_id"`
	Rating    *int   `json:"rating"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", err.Error())
		return
	}
	if req.ContentID == nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", "content_id is required")
		return
	}
	if req.Rating == nil {
		respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", "rating is required")
		return
	}

	result, err := s.ingest.SubmitRating(r.Context(), id.UserID, *req.ContentID, *req.Rating)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidRating):
			respondError(w, http.StatusBadRequest, "RATING_BAD_REQUEST", ingest.ErrInvalidRating.Error())
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "RATING_NOT_FOUND", fmt.Sprintf("content %d not found", *req.ContentID))
		case errors.Is(err, store.ErrConflict):
			respondError(w, http.StatusConflict, "RATING_CONFLICT", "concurrent submission, try again")
		default:
			respondError(w, http.StatusServiceUnavailable, "RATING_UNAVAILABLE", "store unavailable")
		}
		return
	}

	resp := map[string]interface{}{
		"status": "ok",
		"rating": result.Rating.Rating,
		"weight": result.Rating.Weight,
	}
	if result.DeferredAggregation {
		resp["deferred_aggregation"] = true
	}
	respondJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
