// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ippousyuga/search-lucene/internal/searcher"
	"github.com/ippousyuga/search-lucene/internal/searcher/cache"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/logger"
)

// Searcher is the part of searcher.Service the handler needs.
type Searcher interface {
	Search(ctx context.Context, collection, query string, page, limit int) (*searcher.Page, error)
	Stats(collection string) (searcher.Stats, error)
	Collections() []string
	CacheStats() (cache.Stats, bool)
	InvalidateCache(ctx context.Context, collection string) (int64, error)
}

type Handler struct {
	searcher     Searcher
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(s Searcher, defaultLimit, maxResults int) *Handler {
	return &Handler{
		searcher:     s,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search/{collection}", h.Search)
	mux.HandleFunc("GET /api/v1/collections", h.ListCollections)
	mux.HandleFunc("GET /api/v1/collections/{collection}/stats", h.CollectionStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search handles GET /api/v1/search/{collection}?q=&page=&limit=. Limits
// above the maximum are clamped.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	page, err := intParam(params.Get("page"), 0)
	if err != nil || page < 0 {
		h.writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	limit, err := intParam(params.Get("limit"), h.defaultLimit)
	if err != nil || limit < 1 {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if h.maxResults > 0 && limit > h.maxResults {
		limit = h.maxResults
	}

	result, err := h.searcher.Search(r.Context(), r.PathValue("collection"), query, page, limit)
	if err != nil {
		h.writeFailure(r.Context(), w, err)
		return
	}
	logger.FromContext(r.Context()).Info("search completed",
		"collection", result.Collection,
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"cache_hit", result.Cached,
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name  string          `json:"name"`
		Stats *searcher.Stats `json:"stats,omitempty"`
		Error string          `json:"error,omitempty"`
	}
	names := h.searcher.Collections()
	out := make([]entry, 0, len(names))
	for _, name := range names {
		e := entry{Name: name}
		if stats, err := h.searcher.Stats(name); err != nil {
			e.Error = err.Error()
		} else {
			e.Stats = &stats
		}
		out = append(out, e)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"collections": out})
}

func (h *Handler) CollectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.searcher.Stats(r.PathValue("collection"))
	if err != nil {
		h.writeFailure(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.searcher.CacheStats()
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"errors":   stats.Errors,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  stats.Breaker,
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate, optionally
// limited to ?collection=.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.searcher.CacheStats(); !ok {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.searcher.InvalidateCache(r.Context(), r.URL.Query().Get("collection"))
	if err != nil {
		h.writeFailure(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// writeFailure maps err to its HTTP status. Parse errors carry the
// offending position; internal failures are not echoed to the client.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var pe *parser.ParseError
	switch {
	case errors.As(err, &pe):
		h.writeJSON(w, status, map[string]any{"error": pe.Msg, "position": pe.Pos})
	case status >= http.StatusInternalServerError:
		logger.FromContext(ctx).Error("request failed", "error", err)
		h.writeError(w, status, http.StatusText(status))
	default:
		h.writeError(w, status, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
