package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// GapListResponse is the payload for the knowledge-gap endpoint.
type GapListResponse struct {
	Gaps  []*models.KnowledgeGap `json:"gaps"`
	Count int                    `json:"count"`
}

// GapHandler serves knowledge-gap and search-analytics reports.
type GapHandler struct {
	gaps   services.GapService
	logger *zap.Logger
}

// NewGapHandler creates a new GapHandler.
func NewGapHandler(gaps services.GapService, logger *zap.Logger) *GapHandler {
	return &GapHandler{gaps: gaps, logger: logger}
}

// RegisterRoutes registers gap analysis routes on the given mux.
func (h *GapHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/kb/gaps", h.Gaps)
	mux.HandleFunc("GET /api/kb/analytics", h.Analytics)
}

// Gaps handles GET /api/kb/gaps
// Returns queries that repeatedly found no article within the window
// given by ?window_days, most frequent first.
func (h *GapHandler) Gaps(w http.ResponseWriter, r *http.Request) {
	window, ok := h.window(w, r)
	if !ok {
		return
	}

	gaps, err := h.gaps.GetGaps(r.Context(), window)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "gaps_failed", "Failed to load knowledge gaps", err)
		return
	}

	response := GapListResponse{Gaps: gaps, Count: len(gaps)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Analytics handles GET /api/kb/analytics
// Summarizes search volume, success rate and top topics within the window
// given by ?window_days.
func (h *GapHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	window, ok := h.window(w, r)
	if !ok {
		return
	}

	analytics, err := h.gaps.GetAnalytics(r.Context(), window)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "analytics_failed", "Failed to load search analytics", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: analytics}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// window parses the ?window_days query parameter. Zero means the caller
// gave none and the service applies its configured default.
func (h *GapHandler) window(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window_days")
	if raw == "" {
		return 0, true
	}

	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_window", "window_days must be a positive integer"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}

	return time.Duration(days) * 24 * time.Hour, true
}
