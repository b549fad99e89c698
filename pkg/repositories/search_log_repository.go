package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

// SearchLogRepository provides data access for the bounded search log that
// feeds gap analysis and analytics.
type SearchLogRepository interface {
	// Append inserts the entry and trims the log to maxEntries newest rows.
	Append(ctx context.Context, entry *models.SearchLogEntry, maxEntries int) error

	// FailedSearches groups results_found=false rows within the window by
	// normalized query, ordered by frequency then recency.
	FailedSearches(ctx context.Context, since time.Time) ([]*models.KnowledgeGap, error)

	// Totals returns total and successful search counts within the window.
	Totals(ctx context.Context, since time.Time) (total, successful int, err error)

	// TopTopics returns the most-searched normalized queries within the
	// window, at most limit entries.
	TopTopics(ctx context.Context, since time.Time, limit int) ([]models.TopicCount, error)

	// DailyTrend returns per-day search and success counts within the window,
	// oldest day first.
	DailyTrend(ctx context.Context, since time.Time) ([]models.TrendBucket, error)
}

type searchLogRepository struct {
	pool *pgxpool.Pool
}

// NewSearchLogRepository creates a new SearchLogRepository.
func NewSearchLogRepository(pool *pgxpool.Pool) SearchLogRepository {
	return &searchLogRepository{pool: pool}
}

var _ SearchLogRepository = (*searchLogRepository)(nil)

func (r *searchLogRepository) Append(ctx context.Context, entry *models.SearchLogEntry, maxEntries int) error {
	if entry.SearchedAt.IsZero() {
		entry.SearchedAt = time.Now()
	}

	query := `
		INSERT INTO kb_search_log (
			query, normalized_query, searched_at, results_found,
			matched_article_id, result_count, syndicator, provider, category
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		entry.Query, entry.NormalizedQuery, entry.SearchedAt, entry.ResultsFound,
		entry.MatchedArticle, entry.ResultCount,
		entry.Tags.Syndicator, entry.Tags.Provider, entry.Tags.Category,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append search log entry: %w", err)
	}

	if maxEntries > 0 {
		_, err = r.pool.Exec(ctx, `
			DELETE FROM kb_search_log
			WHERE id NOT IN (
				SELECT id FROM kb_search_log ORDER BY id DESC LIMIT $1
			)`, maxEntries)
		if err != nil {
			return fmt.Errorf("failed to trim search log: %w", err)
		}
	}

	return nil
}

func (r *searchLogRepository) FailedSearches(ctx context.Context, since time.Time) ([]*models.KnowledgeGap, error) {
	query := `
		SELECT normalized_query,
		       COUNT(*),
		       MAX(searched_at),
		       (array_agg(query ORDER BY searched_at DESC))[1],
		       (array_agg(syndicator ORDER BY searched_at DESC))[1],
		       (array_agg(provider ORDER BY searched_at DESC))[1],
		       (array_agg(category ORDER BY searched_at DESC))[1]
		FROM kb_search_log
		WHERE NOT results_found AND searched_at >= $1
		GROUP BY normalized_query
		ORDER BY COUNT(*) DESC, MAX(searched_at) DESC`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed searches: %w", err)
	}
	defer rows.Close()

	gaps := make([]*models.KnowledgeGap, 0)
	for rows.Next() {
		var g models.KnowledgeGap
		if err := rows.Scan(
			&g.NormalizedQuery, &g.Frequency, &g.LastSearched, &g.SampleQuery,
			&g.Tags.Syndicator, &g.Tags.Provider, &g.Tags.Category,
		); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge gap: %w", err)
		}
		gaps = append(gaps, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge gaps: %w", err)
	}

	return gaps, nil
}

func (r *searchLogRepository) Totals(ctx context.Context, since time.Time) (int, int, error) {
	var total, successful int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE results_found)
		FROM kb_search_log
		WHERE searched_at >= $1`, since,
	).Scan(&total, &successful)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query search totals: %w", err)
	}
	return total, successful, nil
}

func (r *searchLogRepository) TopTopics(ctx context.Context, since time.Time, limit int) ([]models.TopicCount, error) {
	query := `
		SELECT normalized_query, COUNT(*)
		FROM kb_search_log
		WHERE searched_at >= $1
		GROUP BY normalized_query
		ORDER BY COUNT(*) DESC, normalized_query
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top topics: %w", err)
	}
	defer rows.Close()

	topics := make([]models.TopicCount, 0, limit)
	for rows.Next() {
		var t models.TopicCount
		if err := rows.Scan(&t.Topic, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan topic count: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topics: %w", err)
	}

	return topics, nil
}

func (r *searchLogRepository) DailyTrend(ctx context.Context, since time.Time) ([]models.TrendBucket, error) {
	query := `
		SELECT date_trunc('day', searched_at)::date,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE results_found)
		FROM kb_search_log
		WHERE searched_at >= $1
		GROUP BY 1
		ORDER BY 1`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily trend: %w", err)
	}
	defer rows.Close()

	trend := make([]models.TrendBucket, 0)
	for rows.Next() {
		var b models.TrendBucket
		if err := rows.Scan(&b.Day, &b.Searches, &b.Successful); err != nil {
			return nil, fmt.Errorf("failed to scan trend bucket: %w", err)
		}
		trend = append(trend, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trend buckets: %w", err)
	}

	return trend, nil
}
