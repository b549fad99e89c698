// Package retry provides exponential backoff for transient failures.
// The resolution judge wraps its LLM provider calls in DoIfRetryable so
// flaky endpoints get a few attempts while config mistakes fail fast.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines backoff behavior.
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, default 0.1 for +/-10% jitter to prevent thundering herd
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (default: 5)
}

// DefaultConfig retries 3 times starting at 100ms, doubling up to 5s,
// with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// RetryableError is implemented by errors that declare their own
// retryability, such as classified LLM provider errors.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryablePatterns marks error text from clients that do not classify
// their failures. HTTP status fragments cover SDK error strings.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"service busy",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether an error is worth another attempt. Errors
// implementing RetryableError answer for themselves; anything else is
// matched against known transient failure text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if r, ok := err.(RetryableError); ok {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// errorKind buckets an error so repeated identical failures can be
// recognized and escalated to permanent.
func errorKind(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "500", "429", "404", "403", "401", "400"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limit"
	}

	return "unknown"
}

// applyJitter spreads a delay by +/- jitterFactor so concurrent
// retries do not synchronize against a recovering provider.
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// DoIfRetryable runs fn with backoff, but only while failures look
// transient. Permanent errors return immediately, and a streak of
// MaxSameErrorType identical failures is escalated to permanent so a
// provider that is down hard does not burn the full retry budget.
// Context cancellation is honored during waits.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameKindCount := 0
	lastKind := ""

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		kind := errorKind(err)
		if kind == lastKind {
			sameKindCount++
			if cfg.MaxSameErrorType > 0 && sameKindCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameKindCount, kind, err)
			}
		} else {
			sameKindCount = 1
			lastKind = kind
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(applyJitter(delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}
