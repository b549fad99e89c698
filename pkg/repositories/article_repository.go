// Package repositories provides data access for knowledge-base storage.
package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
	"github.com/dealerdesk/kb-engine/pkg/models"
)

// ArticleRepository provides data access for knowledge-base articles.
// Articles are aggregate roots: edge cases, update history and source refs
// live in the article row, so the row lock serializes concurrent updates to
// one article while different articles proceed in parallel.
type ArticleRepository interface {
	Create(ctx context.Context, article *models.Article) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error)
	List(ctx context.Context, includeSuperseded bool) ([]*models.Article, error)
	ReplaceSolution(ctx context.Context, id uuid.UUID, steps []string, reason, sourceRef string) error
	AddEdgeCase(ctx context.Context, id uuid.UUID, ec models.EdgeCase, sourceRef string) error
	RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error
	RecordEdgeCaseOutcome(ctx context.Context, articleID, edgeCaseID uuid.UUID, success bool) error
	Merge(ctx context.Context, keepID, foldID uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

type articleRepository struct {
	pool *pgxpool.Pool
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(pool *pgxpool.Pool) ArticleRepository {
	return &articleRepository{pool: pool}
}

var _ ArticleRepository = (*articleRepository)(nil)

const articleColumns = `
	id, title, problem, solution, syndicator, provider, category,
	success_count, failure_count, edge_cases, update_history, source_refs,
	superseded_by, superseded_at, created_at, updated_at`

func (r *articleRepository) Create(ctx context.Context, article *models.Article) error {
	now := time.Now()
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	article.UpdatedAt = now

	solutionJSON, edgeCasesJSON, historyJSON, refsJSON, err := marshalArticleBlobs(article)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO kb_articles (
			id, title, problem, solution, syndicator, provider, category,
			success_count, failure_count, edge_cases, update_history, source_refs,
			superseded_by, superseded_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.pool.Exec(ctx, query,
		article.ID, article.Title, article.Problem, solutionJSON,
		article.Tags.Syndicator, article.Tags.Provider, article.Tags.Category,
		article.SuccessCount, article.FailureCount,
		edgeCasesJSON, historyJSON, refsJSON,
		article.SupersededBy, article.SupersededAt,
		article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create article: %w", err)
	}

	return nil
}

func (r *articleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles WHERE id = $1`

	article, err := scanArticleRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return article, nil
}

func (r *articleRepository) List(ctx context.Context, includeSuperseded bool) ([]*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles`
	if !includeSuperseded {
		query += ` WHERE superseded_by IS NULL`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]*models.Article, 0)
	for rows.Next() {
		a, err := scanArticleRow(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}

// ReplaceSolution swaps in new solution steps, pushing the current steps
// onto the update history. The revision is built from the row as locked,
// so concurrent replacements never lose a history entry.
func (r *articleRepository) ReplaceSolution(ctx context.Context, id uuid.UUID, steps []string, reason, sourceRef string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	article, err := lockArticle(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	article.UpdateHistory = append(article.UpdateHistory, models.SolutionRevision{
		ReplacedAt: now,
		Steps:      article.Solution,
		Reason:     reason,
	})
	article.Solution = steps
	article.SourceRefs = appendSourceRef(article.SourceRefs, sourceRef)

	solutionJSON, _, historyJSON, refsJSON, err := marshalArticleBlobs(article)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE kb_articles
		SET solution = $2, update_history = $3, source_refs = $4, updated_at = $5
		WHERE id = $1`,
		id, solutionJSON, historyJSON, refsJSON, now)
	if err != nil {
		return fmt.Errorf("failed to replace solution: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddEdgeCase appends an edge case under the article. When an edge case
// with the same symptom already exists, its success count is incremented
// instead of appending a duplicate.
func (r *articleRepository) AddEdgeCase(ctx context.Context, id uuid.UUID, ec models.EdgeCase, sourceRef string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	article, err := lockArticle(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	if i := findEdgeCaseBySymptom(article.EdgeCases, ec.Symptom); i >= 0 {
		article.EdgeCases[i].SuccessCount++
	} else {
		if ec.ID == uuid.Nil {
			ec.ID = uuid.New()
		}
		if ec.CreatedAt.IsZero() {
			ec.CreatedAt = now
		}
		article.EdgeCases = append(article.EdgeCases, ec)
	}
	article.SourceRefs = appendSourceRef(article.SourceRefs, sourceRef)

	_, edgeCasesJSON, _, refsJSON, err := marshalArticleBlobs(article)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE kb_articles
		SET edge_cases = $2, source_refs = $3, updated_at = $4
		WHERE id = $1`,
		id, edgeCasesJSON, refsJSON, now)
	if err != nil {
		return fmt.Errorf("failed to add edge case: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordOutcome bumps the article's success or failure counter in a single
// UPDATE, so concurrent outcomes on one article never lose increments.
func (r *articleRepository) RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}

	query := fmt.Sprintf(
		`UPDATE kb_articles SET %s = %s + 1, updated_at = $2 WHERE id = $1`,
		column, column)

	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *articleRepository) RecordEdgeCaseOutcome(ctx context.Context, articleID, edgeCaseID uuid.UUID, success bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	article, err := lockArticle(ctx, tx, articleID)
	if err != nil {
		return err
	}

	found := false
	for i := range article.EdgeCases {
		if article.EdgeCases[i].ID == edgeCaseID {
			if success {
				article.EdgeCases[i].SuccessCount++
			} else {
				article.EdgeCases[i].FailureCount++
			}
			found = true
			break
		}
	}
	if !found {
		return apperrors.ErrNotFound
	}

	_, edgeCasesJSON, _, _, err := marshalArticleBlobs(article)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE kb_articles SET edge_cases = $2, updated_at = $3 WHERE id = $1`,
		articleID, edgeCasesJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record edge case outcome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Merge folds foldID's counters, edge cases and source refs into keepID
// and marks foldID superseded. Rows are locked in ascending UUID order so
// two concurrent merges over the same pair cannot deadlock.
func (r *articleRepository) Merge(ctx context.Context, keepID, foldID uuid.UUID) error {
	if keepID == foldID {
		return apperrors.ErrInvalidInput
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	first, second := keepID, foldID
	if bytes.Compare(foldID[:], keepID[:]) < 0 {
		first, second = foldID, keepID
	}

	locked := make(map[uuid.UUID]*models.Article, 2)
	for _, id := range []uuid.UUID{first, second} {
		a, err := lockArticle(ctx, tx, id)
		if err != nil {
			return err
		}
		locked[id] = a
	}
	keep, fold := locked[keepID], locked[foldID]

	if keep.IsSuperseded() || fold.IsSuperseded() {
		return apperrors.ErrSuperseded
	}

	keep.SuccessCount += fold.SuccessCount
	keep.FailureCount += fold.FailureCount
	for _, ref := range fold.SourceRefs {
		keep.SourceRefs = appendSourceRef(keep.SourceRefs, ref)
	}
	keep.SourceRefs = appendSourceRef(keep.SourceRefs, "merged:"+foldID.String())
	for _, ec := range fold.EdgeCases {
		if findEdgeCaseBySymptom(keep.EdgeCases, ec.Symptom) < 0 {
			keep.EdgeCases = append(keep.EdgeCases, ec)
		}
	}

	now := time.Now()
	_, edgeCasesJSON, _, refsJSON, err := marshalArticleBlobs(keep)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE kb_articles
		SET success_count = $2, failure_count = $3, edge_cases = $4,
		    source_refs = $5, updated_at = $6
		WHERE id = $1`,
		keepID, keep.SuccessCount, keep.FailureCount, edgeCasesJSON, refsJSON, now)
	if err != nil {
		return fmt.Errorf("failed to update merge target: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE kb_articles
		SET superseded_by = $2, superseded_at = $3, updated_at = $3
		WHERE id = $1`,
		foldID, keepID, now)
	if err != nil {
		return fmt.Errorf("failed to supersede merged article: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of live (non-superseded) articles.
func (r *articleRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_articles WHERE superseded_by IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// lockArticle reads an article under FOR UPDATE inside tx.
// Returns apperrors.ErrNotFound when no row exists.
func lockArticle(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles WHERE id = $1 FOR UPDATE`

	article, err := scanArticleRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return article, nil
}

func scanArticleRow(row pgx.Row) (*models.Article, error) {
	var a models.Article
	var solutionJSON, edgeCasesJSON, historyJSON, refsJSON []byte

	err := row.Scan(
		&a.ID, &a.Title, &a.Problem, &solutionJSON,
		&a.Tags.Syndicator, &a.Tags.Provider, &a.Tags.Category,
		&a.SuccessCount, &a.FailureCount,
		&edgeCasesJSON, &historyJSON, &refsJSON,
		&a.SupersededBy, &a.SupersededAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}

	if err := json.Unmarshal(solutionJSON, &a.Solution); err != nil {
		return nil, fmt.Errorf("failed to decode solution: %w", err)
	}
	if err := json.Unmarshal(edgeCasesJSON, &a.EdgeCases); err != nil {
		return nil, fmt.Errorf("failed to decode edge cases: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &a.UpdateHistory); err != nil {
		return nil, fmt.Errorf("failed to decode update history: %w", err)
	}
	if err := json.Unmarshal(refsJSON, &a.SourceRefs); err != nil {
		return nil, fmt.Errorf("failed to decode source refs: %w", err)
	}

	return &a, nil
}

func marshalArticleBlobs(a *models.Article) (solution, edgeCases, history, refs []byte, err error) {
	if solution, err = json.Marshal(emptyIfNil(a.Solution)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode solution: %w", err)
	}
	if a.EdgeCases == nil {
		a.EdgeCases = []models.EdgeCase{}
	}
	if edgeCases, err = json.Marshal(a.EdgeCases); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode edge cases: %w", err)
	}
	if a.UpdateHistory == nil {
		a.UpdateHistory = []models.SolutionRevision{}
	}
	if history, err = json.Marshal(a.UpdateHistory); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode update history: %w", err)
	}
	if refs, err = json.Marshal(emptyIfNil(a.SourceRefs)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode source refs: %w", err)
	}
	return solution, edgeCases, history, refs, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// appendSourceRef adds ref unless it is empty or already present.
func appendSourceRef(refs []string, ref string) []string {
	if ref == "" {
		return refs
	}
	for _, existing := range refs {
		if existing == ref {
			return refs
		}
	}
	return append(refs, ref)
}

// findEdgeCaseBySymptom returns the index of the edge case whose symptom
// matches (case-insensitive), or -1.
func findEdgeCaseBySymptom(cases []models.EdgeCase, symptom string) int {
	target := strings.TrimSpace(symptom)
	for i := range cases {
		if strings.EqualFold(strings.TrimSpace(cases[i].Symptom), target) {
			return i
		}
	}
	return -1
}
