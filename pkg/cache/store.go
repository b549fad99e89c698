// Package cache provides the best-effort response cache for model calls.
// Keys are derived from a namespace plus canonicalized input text, so
// repeated calls with the same logical input hit the same entry. A cache
// failure must never fail the request it serves.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/config"
	"github.com/dealerdesk/kb-engine/pkg/models"
)

// Namespaces used by the engine. Each model-call family caches under its
// own namespace so TTLs and clearing stay independent.
const (
	NamespaceDecision  = "decision"
	NamespaceEmbedding = "embedding"
	NamespaceExpansion = "query_expansion"
)

// Store persists cached values under derived keys.
// Implementations must treat expired entries as absent.
type Store interface {
	// Get returns the cached value for (namespace, input), or found=false
	// on a miss. Expired entries are misses.
	Get(ctx context.Context, namespace, input string) (value []byte, found bool, err error)

	// Set stores value under (namespace, input) for ttl, replacing any
	// existing entry.
	Set(ctx context.Context, namespace, input string, value []byte, ttl time.Duration) error

	// DeleteExpired purges expired entries and reports how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)

	// Clear removes all entries and reports how many were removed.
	Clear(ctx context.Context) (int64, error)

	// Stats summarizes current cache contents.
	Stats(ctx context.Context) (*models.CacheStats, error)
}

// Canonicalize normalizes input before hashing: surrounding whitespace is
// trimmed and internal runs collapse to single spaces, so formatting churn
// in prompts does not defeat the cache. Case is preserved.
func Canonicalize(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// Key derives the storage key for (namespace, input).
func Key(namespace, input string) string {
	h := sha256.Sum256([]byte(namespace + "\x00" + Canonicalize(input)))
	return hex.EncodeToString(h[:])
}

// NewStore selects the backend configured by cache.backend.
// The redis client may be nil unless the backend is redis.
func NewStore(cfg *config.CacheConfig, pool *pgxpool.Pool, redisClient *redis.Client, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendPostgres:
		return NewPostgresStore(pool, logger), nil
	case config.CacheBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache backend is redis but no redis client is available")
		}
		return NewRedisStore(redisClient, logger), nil
	case config.CacheBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
