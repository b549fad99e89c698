package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// GetOrCompute returns the cached value for (namespace, input) when a live
// entry exists, otherwise invokes compute, caches the result under ttl and
// returns it. The bool reports whether the value was served from cache.
//
// Caching is strictly best-effort: store read failures and corrupt cached
// values are logged and treated as misses, and Set failures are logged and
// swallowed. Only compute errors reach the caller.
func GetOrCompute[T any](
	ctx context.Context,
	store Store,
	logger *zap.Logger,
	namespace, input string,
	ttl time.Duration,
	compute func(ctx context.Context) (T, error),
) (T, bool, error) {
	var zero T

	data, found, err := store.Get(ctx, namespace, input)
	if err != nil {
		logger.Warn("cache read failed",
			zap.String("namespace", namespace),
			zap.Error(err))
	} else if found {
		var cached T
		if err := json.Unmarshal(data, &cached); err != nil {
			logger.Warn("corrupt cache entry, recomputing",
				zap.String("namespace", namespace),
				zap.Error(err))
		} else {
			return cached, true, nil
		}
	}

	value, err := compute(ctx)
	if err != nil {
		return zero, false, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache encode failed",
			zap.String("namespace", namespace),
			zap.Error(err))
		return value, false, nil
	}

	if err := store.Set(ctx, namespace, input, encoded, ttl); err != nil {
		logger.Warn("cache write failed",
			zap.String("namespace", namespace),
			zap.Error(err))
	}

	return value, false, nil
}
