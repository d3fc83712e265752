// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-metadata-fetcher/internal/model"
	"repo-metadata-fetcher/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RepositoryReader is the read side of the store used by the API.
type RepositoryReader interface {
	ListRepositories(ctx context.Context, host string, limit int) ([]model.RepositoryRecord, error)
	GetRepositoryByName(ctx context.Context, host, fullName string) (model.RepositoryRecord, error)
	ListCursors(ctx context.Context) ([]model.CrawlCursor, error)
}

// RateLimiter reports the GitHub rate limit; nil when no GitHub token is configured.
type RateLimiter interface {
	GetRateLimitSnapshot(ctx context.Context) (*model.RateLimitSnapshot, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     RepositoryReader
	limits RateLimiter
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db RepositoryReader, limits RateLimiter, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		limits: limits,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepositories)
		r.Get("/repos/{host}/*", h.getRepository)
		r.Get("/cursors", h.listCursors)
		r.Get("/github/rate-limit", h.getRateLimit)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepositories returns the most recently captured records.
// GET /v1/repos?host=github&limit=N
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host != "" && !validHost(host) {
		respondWithError(w, http.StatusBadRequest, "Invalid 'host' parameter. Must be 'github' or 'gitlab'.")
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 || n > maxListLimit {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
			return
		}
		limit = n
	}

	repos, err := h.db.ListRepositories(r.Context(), host, limit)
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repos)
}

// getRepository returns one record. The full name may contain slashes (GitLab subgroups).
// GET /v1/repos/{host}/{full_name...}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	fullName := chi.URLParam(r, "*")
	if !validHost(host) || fullName == "" {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}

	repo, err := h.db.GetRepositoryByName(r.Context(), host, fullName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "host", host, "repo", fullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repo)
}

// listCursors reports how far each crawl has progressed.
// GET /v1/cursors
func (h *Handler) listCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := h.db.ListCursors(r.Context())
	if err != nil {
		h.logger.Error("Failed to list cursors", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, cursors)
}

// getRateLimit passes the current GitHub rate limit through.
// GET /v1/github/rate-limit
func (h *Handler) getRateLimit(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		respondWithError(w, http.StatusServiceUnavailable, "GitHub is not configured")
		return
	}

	snapshot, err := h.limits.GetRateLimitSnapshot(r.Context())
	if err != nil {
		h.logger.Error("Failed to get GitHub rate limit", "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream error")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

func validHost(host string) bool {
	return host == model.HostGithub || host == model.HostGitlab
}
