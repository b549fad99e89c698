package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

const redisKeyPrefix = "kbcache:"

// redisEnvelope wraps cached values with their creation time so Stats can
// bucket entry ages; redis itself only tracks remaining TTL.
type redisEnvelope struct {
	Value     json.RawMessage `json:"v"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisStore caches values in redis under kbcache:<namespace>:<hash> keys
// with native expiry.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a store backed by the given redis client.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("cache"),
	}
}

func (s *RedisStore) storageKey(namespace, input string) string {
	return redisKeyPrefix + namespace + ":" + Key(namespace, input)
}

// Get implements Store. Redis expires entries natively, so any present
// key is live.
func (s *RedisStore) Get(ctx context.Context, namespace, input string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.storageKey(namespace, input)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decode cache envelope: %w", err)
	}
	return env.Value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, namespace, input string, value []byte, ttl time.Duration) error {
	env, err := json.Marshal(redisEnvelope{Value: value, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}

	if err := s.client.Set(ctx, s.storageKey(namespace, input), env, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// DeleteExpired implements Store. Redis evicts expired keys on its own,
// so there is never anything to purge.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// Clear implements Store. Only keys under the engine's prefix are removed.
func (s *RedisStore) Clear(ctx context.Context) (int64, error) {
	var removed int64

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

// Stats implements Store. Entries that expire mid-scan are counted in the
// totals but skipped for age bucketing.
func (s *RedisStore) Stats(ctx context.Context) (*models.CacheStats, error) {
	stats := &models.CacheStats{
		Backend:     "redis",
		ByNamespace: make(map[string]int),
	}
	now := time.Now()

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		stats.TotalEntries++

		rest := strings.TrimPrefix(fullKey, redisKeyPrefix)
		if i := strings.LastIndex(rest, ":"); i > 0 {
			stats.ByNamespace[rest[:i]]++
		}

		data, err := s.client.Get(ctx, fullKey).Bytes()
		if err != nil {
			continue
		}
		var env redisEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch age := now.Sub(env.CreatedAt); {
		case age < time.Hour:
			stats.AgeBuckets.UnderHour++
		case age < 6*time.Hour:
			stats.AgeBuckets.OneToSix++
		case age < 24*time.Hour:
			stats.AgeBuckets.SixToDay++
		default:
			stats.AgeBuckets.OverDay++
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	return stats, nil
}

// Ensure RedisStore implements Store at compile time.
var _ Store = (*RedisStore)(nil)
