package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseArticleID reads the {id} path segment as an article UUID. On a
// malformed value it writes a 400 response and returns false, so callers
// can bail with a bare return.
func ParseArticleID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if writeErr := ErrorResponse(w, http.StatusBadRequest, "invalid_article_id", "Invalid article ID format"); writeErr != nil {
			logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return uuid.Nil, false
	}
	return id, true
}
