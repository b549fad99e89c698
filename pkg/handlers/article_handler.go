package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// ArticleListResponse is the payload for the article list endpoint.
type ArticleListResponse struct {
	Articles []*models.Article `json:"articles"`
	Count    int               `json:"count"`
}

// EdgeCaseListResponse is the payload for the ranked edge-case endpoint.
type EdgeCaseListResponse struct {
	ArticleID uuid.UUID         `json:"article_id"`
	EdgeCases []models.EdgeCase `json:"edge_cases"`
	Count     int               `json:"count"`
}

// ArticleHandler serves read access to knowledge-base articles. Articles
// are only written through the resolution path, so there are no create or
// update routes here.
type ArticleHandler struct {
	articleRepo repositories.ArticleRepository
	logger      *zap.Logger
}

// NewArticleHandler creates a new ArticleHandler.
func NewArticleHandler(articleRepo repositories.ArticleRepository, logger *zap.Logger) *ArticleHandler {
	return &ArticleHandler{articleRepo: articleRepo, logger: logger}
}

// RegisterRoutes registers article routes on the given mux.
func (h *ArticleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/kb/articles", h.List)
	mux.HandleFunc("GET /api/kb/articles/{id}", h.Get)
	mux.HandleFunc("GET /api/kb/articles/{id}/edge-cases", h.EdgeCases)
}

// List handles GET /api/kb/articles
// Returns all live articles. Superseded articles are included only when
// ?include_superseded=true.
func (h *ArticleHandler) List(w http.ResponseWriter, r *http.Request) {
	includeSuperseded := r.URL.Query().Get("include_superseded") == "true"

	articles, err := h.articleRepo.List(r.Context(), includeSuperseded)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "list_failed", "Failed to list articles", err)
		return
	}

	response := ArticleListResponse{Articles: articles, Count: len(articles)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/kb/articles/{id}
// Returns a single article with its edge cases and update history.
func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseArticleID(w, r, h.logger)
	if !ok {
		return
	}

	article, err := h.articleRepo.GetByID(r.Context(), id)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "get_failed", "Failed to load article", err)
		return
	}
	if article == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Article not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: article}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// EdgeCases handles GET /api/kb/articles/{id}/edge-cases
// Returns the article's edge cases ranked for the context given by the
// ?syndicator, ?provider and ?category query parameters.
func (h *ArticleHandler) EdgeCases(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseArticleID(w, r, h.logger)
	if !ok {
		return
	}

	article, err := h.articleRepo.GetByID(r.Context(), id)
	if err != nil {
		ServiceErrorResponse(w, h.logger, "get_failed", "Failed to load article", err)
		return
	}
	if article == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Article not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	query := r.URL.Query()
	tags := models.ContextTags{
		Syndicator: query.Get("syndicator"),
		Provider:   query.Get("provider"),
		Category:   query.Get("category"),
	}

	ranked := services.RankEdgeCases(article, tags)
	response := EdgeCaseListResponse{ArticleID: article.ID, EdgeCases: ranked, Count: len(ranked)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
