package store

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var storeConnectRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "webcache_store_connect_retries_total",
	Help: "Total number of store connection retries at startup",
})

// RetryConfig holds the backoff used while waiting for the store.
type RetryConfig struct {
	// MaxAttempts is the maximum number of pings (including the first).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Connect opens the backend and pings it until it answers or the retry
// budget is spent. It is meant for startup only; request handling never
// retries the store.
func Connect(ctx context.Context, opts Options, retry RetryConfig, logger zerolog.Logger) (cache.Store, error) {
	s, err := Open(opts)
	if err != nil {
		return nil, err
	}

	if err := pingWithBackoff(ctx, s, retry, logger); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s: %v", cache.ErrStoreUnavailable, opts.Backend, err)
	}
	return s, nil
}

// pingWithBackoff pings with exponential backoff and ±20% jitter.
func pingWithBackoff(ctx context.Context, s cache.Store, cfg RetryConfig, logger zerolog.Logger) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cache.DefaultStoreTimeout)
		err := s.Ping(pingCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Store reachable after retry")
			}
			return nil
		}
		lastErr = err

		if attempt >= cfg.MaxAttempts {
			break
		}

		storeConnectRetriesTotal.Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Store not reachable, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
