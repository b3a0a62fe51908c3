package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	shippoRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shippo_retries_total",
		Help: "Total number of retry attempts by stream",
	}, []string{"stream"})

	shippoRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shippo_retry_backoff_seconds",
		Help:    "Backoff duration for retries by stream",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stream"})

	shippoRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shippo_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by stream",
	}, []string{"stream"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
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
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// Only transient errors are retried; client and protocol errors are
// returned immediately. The backoff sleep respects context cancellation
// and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, config RetryConfig, stream string, logger zerolog.Logger, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("stream", stream).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		shippoRetriesTotal.WithLabelValues(stream).Inc()

		// Jitter: ±20% around the current backoff.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		shippoRetryBackoffSeconds.WithLabelValues(stream).Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Str("stream", stream).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("stream", stream).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	shippoRetryExhaustedTotal.WithLabelValues(stream).Inc()
	logger.Error().
		Str("stream", stream).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
