package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

// PostgresStore caches values in the kb_llm_cache table. It is the default
// backend: the engine already owns a Postgres and entries survive restarts.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a store backed by the kb_llm_cache table.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.Named("cache"),
	}
}

// Get implements Store. An expired row is purged in place and reported
// as a miss.
func (s *PostgresStore) Get(ctx context.Context, namespace, input string) ([]byte, bool, error) {
	key := Key(namespace, input)

	var value []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM kb_llm_cache WHERE cache_key = $1`,
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if time.Now().After(expiresAt) {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM kb_llm_cache WHERE cache_key = $1`, key); err != nil {
			s.logger.Warn("failed to purge expired cache entry", zap.Error(err))
		}
		return nil, false, nil
	}

	return value, true, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, namespace, input string, value []byte, ttl time.Duration) error {
	key := Key(namespace, input)
	now := time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kb_llm_cache (cache_key, namespace, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE
		SET value = EXCLUDED.value,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at`,
		key, namespace, value, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// DeleteExpired implements Store.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kb_llm_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kb_llm_cache`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (*models.CacheStats, error) {
	stats := &models.CacheStats{
		Backend:     "postgres",
		ByNamespace: make(map[string]int),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT namespace,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE expires_at <= now()),
		       COUNT(*) FILTER (WHERE created_at > now() - interval '1 hour'),
		       COUNT(*) FILTER (WHERE created_at <= now() - interval '1 hour'
		                          AND created_at > now() - interval '6 hours'),
		       COUNT(*) FILTER (WHERE created_at <= now() - interval '6 hours'
		                          AND created_at > now() - interval '24 hours'),
		       COUNT(*) FILTER (WHERE created_at <= now() - interval '24 hours')
		FROM kb_llm_cache
		GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ns string
		var total, expired, underHour, oneToSix, sixToDay, overDay int
		if err := rows.Scan(&ns, &total, &expired, &underHour, &oneToSix, &sixToDay, &overDay); err != nil {
			return nil, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.ByNamespace[ns] = total
		stats.TotalEntries += total
		stats.Expired += expired
		stats.AgeBuckets.UnderHour += underHour
		stats.AgeBuckets.OneToSix += oneToSix
		stats.AgeBuckets.SixToDay += sixToDay
		stats.AgeBuckets.OverDay += overDay
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cache stats: %w", err)
	}

	return stats, nil
}

// Ensure PostgresStore implements Store at compile time.
var _ Store = (*PostgresStore)(nil)
