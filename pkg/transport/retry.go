package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncpipe_retries_total",
		Help: "Total number of retry attempts by failure class",
	}, []string{"class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncpipe_retry_backoff_seconds",
		Help:    "Backoff duration for retries by failure class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncpipe_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by failure class",
	}, []string{"class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. The delay before
	// retry n is BaseDelay * Multiplier^(n-1).
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryTransport wraps a Transport with bounded retries and exponential
// backoff. Only transient and rate-limit failures are retried; client
// failures return immediately. Exactly one outcome or error is produced per
// descriptor; retries are visible to the caller only through the attempt
// counter and elapsed time.
type RetryTransport struct {
	next   Transport
	config RetryConfig
	logger zerolog.Logger
}

// WithRetry decorates a transport with retry logic.
func WithRetry(next Transport, cfg RetryConfig) *RetryTransport {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}

	return &RetryTransport{
		next:   next,
		config: cfg,
		logger: log.With().Str("component", "retry").Logger(),
	}
}

// Execute runs the descriptor through the wrapped transport, retrying
// transient failures with exponential backoff and ±20% jitter.
func (r *RetryTransport) Execute(ctx context.Context, d Descriptor) (*Outcome, error) {
	start := time.Now()
	backoff := r.config.BaseDelay

	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		out, err := r.next.Execute(ctx, d)
		if err == nil {
			out.Attempts = attempt
			out.Elapsed = time.Since(start)
			if attempt > 1 {
				r.logger.Info().
					Str("url", d.URL).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return out, nil
		}

		lastErr = err
		class := ClassOf(err)

		if !Retryable(class) {
			// client failures will not change on retry
			return nil, err
		}

		// If this was the last attempt, don't wait
		if attempt >= r.config.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter to avoid thundering herd
		delay := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		r.logger.Warn().
			Str("url", d.URL).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("failure_class", string(class)).
			Msg("Retrying request after backoff")

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			r.logger.Warn().
				Str("url", d.URL).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(delay):
			// Continue to next attempt
		}

		// Calculate next backoff (exponential)
		backoff = time.Duration(float64(backoff) * r.config.Multiplier)
		if backoff > r.config.MaxDelay {
			backoff = r.config.MaxDelay
		}
	}

	class := ClassOf(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	r.logger.Error().
		Str("url", d.URL).
		Int("max_attempts", r.config.MaxAttempts).
		Str("failure_class", string(class)).
		Msg("Retry attempts exhausted")

	// Surface the cumulative attempt count on the terminal failure.
	var reqErr *RequestError
	if errors.As(lastErr, &reqErr) {
		reqErr.Attempts = r.config.MaxAttempts
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.config.MaxAttempts, lastErr)
}
