package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// ResolutionRequest is the body for reporting a ticket resolution. The
// matched_* fields identify the candidate a prior search suggested, so
// the outcome can be attributed to the right article or edge case.
type ResolutionRequest struct {
	TicketID          string               `json:"ticket_id"`
	Problem           string               `json:"problem"`
	Tried             string               `json:"tried,omitempty"`
	Worked            string               `json:"worked,omitempty"`
	Solution          []string             `json:"solution,omitempty"`
	Tags              models.ContextTags   `json:"tags"`
	Outcome           models.ReportOutcome `json:"outcome"`
	MatchedArticleID  *uuid.UUID           `json:"matched_article_id,omitempty"`
	MatchedEdgeCaseID *uuid.UUID           `json:"matched_edge_case_id,omitempty"`
	MatchScore        int                  `json:"match_score,omitempty"`
}

// ResolutionHandler ingests resolution reports and applies them to the
// knowledge base.
type ResolutionHandler struct {
	resolutions services.ResolutionService
	articleRepo repositories.ArticleRepository
	logger      *zap.Logger
}

// NewResolutionHandler creates a new ResolutionHandler.
func NewResolutionHandler(resolutions services.ResolutionService, articleRepo repositories.ArticleRepository, logger *zap.Logger) *ResolutionHandler {
	return &ResolutionHandler{resolutions: resolutions, articleRepo: articleRepo, logger: logger}
}

// RegisterRoutes registers resolution routes on the given mux.
func (h *ResolutionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/kb/resolutions", h.Report)
}

// Report handles POST /api/kb/resolutions
// Records the outcome of a worked ticket and lets the decision path
// evolve the knowledge base accordingly.
func (h *ResolutionHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req ResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	priorMatch, err := h.priorMatch(r, &req)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "resolution_failed", "Failed to load matched article", err)
		return
	}

	report := &models.ResolutionReport{
		TicketID: req.TicketID,
		Problem:  req.Problem,
		Tried:    req.Tried,
		Worked:   req.Worked,
		Solution: req.Solution,
		Tags:     req.Tags,
		Outcome:  req.Outcome,
	}

	result, err := h.resolutions.Report(r.Context(), report, priorMatch)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "resolution_failed", "Failed to apply resolution report", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// priorMatch rebuilds the candidate the reported outcome refers to. A
// report without a matched article yields nil, meaning no suggestion
// existed.
func (h *ResolutionHandler) priorMatch(r *http.Request, req *ResolutionRequest) (*models.CandidateMatch, error) {
	if req.MatchedArticleID == nil {
		return nil, nil
	}

	article, err := h.articleRepo.GetByID(r.Context(), *req.MatchedArticleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", req.MatchedArticleID, err)
	}
	if article == nil {
		return nil, fmt.Errorf("matched article %s: %w", req.MatchedArticleID, apperrors.ErrNotFound)
	}

	match := &models.CandidateMatch{
		Article:    article,
		Score:      req.MatchScore,
		Confidence: float64(req.MatchScore) / 100,
	}

	if req.MatchedEdgeCaseID != nil {
		edgeCase := article.EdgeCaseByID(*req.MatchedEdgeCaseID)
		if edgeCase == nil {
			return nil, fmt.Errorf("edge case %s is not on article %s: %w", req.MatchedEdgeCaseID, article.ID, apperrors.ErrInvalidInput)
		}
		match.MatchedEdgeCase = edgeCase
	}

	return match, nil
}
