package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/{collection}", h.CollectionStats)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

// CollectionStats serves the per-collection breakdown. A collection that
// has not been searched yet reports zeros.
func (h *Handler) CollectionStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	stats := h.aggregator.Stats()
	cs, ok := stats.Collections[name]
	if !ok {
		cs = CollectionStats{TopQueries: []QueryCount{}}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"collection": name, "stats": cs})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
