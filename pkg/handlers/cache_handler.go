package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/cache"
)

// CacheClearResponse reports how many cache entries a clear removed.
type CacheClearResponse struct {
	Removed int64 `json:"removed"`
}

// CacheHandler exposes inspection and maintenance of the LLM result cache.
type CacheHandler struct {
	store  cache.Store
	logger *zap.Logger
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(store cache.Store, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{store: store, logger: logger}
}

// RegisterRoutes registers cache maintenance routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/kb/cache/stats", h.Stats)
	mux.HandleFunc("POST /api/kb/cache/clear-expired", h.ClearExpired)
	mux.HandleFunc("POST /api/kb/cache/clear", h.Clear)
}

// Stats handles GET /api/kb/cache/stats
// Summarizes cached entries by namespace and age.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		ServiceErrorResponse(w, h.logger, "stats_failed", "Failed to load cache stats", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ClearExpired handles POST /api/kb/cache/clear-expired
// Purges entries whose TTL has lapsed.
func (h *CacheHandler) ClearExpired(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.DeleteExpired(r.Context())
	if err != nil {
		ServiceErrorResponse(w, h.logger, "clear_failed", "Failed to clear expired cache entries", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: CacheClearResponse{Removed: removed}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Clear handles POST /api/kb/cache/clear
// Removes every cached entry regardless of age.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.Clear(r.Context())
	if err != nil {
		ServiceErrorResponse(w, h.logger, "clear_failed", "Failed to clear cache", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: CacheClearResponse{Removed: removed}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
