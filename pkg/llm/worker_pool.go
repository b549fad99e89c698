package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig bounds concurrent LLM calls.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum in-flight calls (default: 8)
}

// WorkerPool bounds the fan-out of LLM calls. The matcher embeds every
// candidate text through it so one wide search does not flood the
// provider with parallel requests.
type WorkerPool struct {
	maxConcurrent int
	logger        *zap.Logger
}

// NewWorkerPool creates a pool, applying the default bound when the
// configured one is not positive.
func NewWorkerPool(cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 8
	}
	return &WorkerPool{
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger.Named("llm-workers"),
	}
}

// WorkItem is one call to execute. ID carries the item through to its
// result so callers can correlate unordered completions.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult pairs an item's ID with its outcome.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs all items with bounded parallelism and returns results
// in completion order. Individual failures do not stop the batch; a
// cancelled context fails items that have not yet acquired a slot.
func Process[T any](ctx context.Context, pool *WorkerPool, items []WorkItem[T]) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	out := make(chan WorkResult[T], len(items))
	slots := make(chan struct{}, pool.maxConcurrent)

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem[T]) {
			defer wg.Done()

			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
			case <-ctx.Done():
				var zero T
				out <- WorkResult[T]{ID: item.ID, Result: zero, Err: ctx.Err()}
				return
			}

			result, err := item.Execute(ctx)
			out <- WorkResult[T]{ID: item.ID, Result: result, Err: err}
		}(item)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]WorkResult[T], 0, len(items))
	for r := range out {
		results = append(results, r)
	}
	return results
}
