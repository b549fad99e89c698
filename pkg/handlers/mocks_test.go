package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerdesk/kb-engine/pkg/models"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
)

// decodeData unwraps the ApiResponse envelope and decodes its data field
// into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var response ApiResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.True(t, response.Success)

	dataBytes, err := json.Marshal(response.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dataBytes, out))
}

// decodeError decodes the standard error body.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// stubArticleRepo implements repositories.ArticleRepository with canned
// lookups. Handler tests only read; the write methods are no-ops.
type stubArticleRepo struct {
	articles map[uuid.UUID]*models.Article
	list     []*models.Article
	listErr  error
	getErr   error

	gotIncludeSuperseded bool
}

var _ repositories.ArticleRepository = (*stubArticleRepo)(nil)

func (s *stubArticleRepo) Create(ctx context.Context, article *models.Article) error { return nil }

func (s *stubArticleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.articles[id], nil
}

func (s *stubArticleRepo) List(ctx context.Context, includeSuperseded bool) ([]*models.Article, error) {
	s.gotIncludeSuperseded = includeSuperseded
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.list, nil
}

func (s *stubArticleRepo) ReplaceSolution(ctx context.Context, id uuid.UUID, steps []string, reason, sourceRef string) error {
	return nil
}

func (s *stubArticleRepo) AddEdgeCase(ctx context.Context, id uuid.UUID, ec models.EdgeCase, sourceRef string) error {
	return nil
}

func (s *stubArticleRepo) RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error {
	return nil
}

func (s *stubArticleRepo) RecordEdgeCaseOutcome(ctx context.Context, articleID, edgeCaseID uuid.UUID, success bool) error {
	return nil
}

func (s *stubArticleRepo) Merge(ctx context.Context, keepID, foldID uuid.UUID) error { return nil }

func (s *stubArticleRepo) Count(ctx context.Context) (int, error) { return len(s.list), nil }

// kbArticle builds a minimal live article for handler tests.
func kbArticle(title string) *models.Article {
	now := time.Now()
	return &models.Article{
		ID:        uuid.New(),
		Title:     title,
		Problem:   title,
		Solution:  []string{"Restart the service"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
