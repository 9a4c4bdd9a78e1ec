package store

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

// RetryConfig bounds the retry loop for transient storage failures.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry is suitable for interactive paths: four attempts over at most
// a few seconds.
var DefaultRetry = RetryConfig{
	Attempts:  4,
	BaseDelay: 50 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// WithRetry runs fn, retrying transient failures with full-jitter
// exponential backoff. Conditional-check failures and other typed errors
// return immediately.
func WithRetry(ctx context.Context, op string, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg = DefaultRetry
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		delay := backoffDelay(cfg, attempt)
		log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoffDelay draws a full-jitter delay: uniform in [0, min(max, base<<n)].
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	ceiling := cfg.BaseDelay << uint(attempt)
	if ceiling > cfg.MaxDelay || ceiling <= 0 {
		ceiling = cfg.MaxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
