package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// SearchRequest is the body for a candidate search.
type SearchRequest struct {
	Problem string             `json:"problem"`
	Tags    models.ContextTags `json:"tags"`
	TopK    int                `json:"top_k"`
}

// SearchHandler serves candidate search over the knowledge base.
type SearchHandler struct {
	matcher services.MatcherService
	logger  *zap.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(matcher services.MatcherService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{matcher: matcher, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/kb/search", h.Search)
}

// Search handles POST /api/kb/search
// Scores the problem text against every live article and returns the
// ranked candidates. A degraded search still returns 200; the payload
// carries degraded=true.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.matcher.FindCandidates(r.Context(), req.Problem, req.Tags, req.TopK)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "search_failed", "Failed to search knowledge base", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
