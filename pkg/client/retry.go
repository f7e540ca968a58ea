package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retry_exhausted_total",
		Help: "Total number of times retry budgets were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the retry budget and backoff shape for one error class.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero with Unbounded false means no retries; Unbounded true means
	// the only exits are success and context cancellation.
	MaxRetries int
	Unbounded  bool

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff factor.
	Multiplier float64
}

// PolicyForClass returns the retry policy for an error class.
func PolicyForClass(class ErrorClass) RetryPolicy {
	switch class {
	case ErrorClassRateLimit:
		// Never give up on rate limiting: the run depends on
		// eventually succeeding.
		return RetryPolicy{
			Unbounded:      true,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     300 * time.Second,
			Multiplier:     2.0,
		}
	case ErrorClassServer:
		return RetryPolicy{
			MaxRetries:     5,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		}
	case ErrorClassNetwork:
		return RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		}
	case ErrorClassClient:
		return RetryPolicy{
			MaxRetries:     1,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		}
	default:
		// Auth and unclassified failures never retry.
		return RetryPolicy{}
	}
}

// Retries reports whether the policy allows another retry after the given
// number of failed attempts of its class.
func (p RetryPolicy) Retries(failures int) bool {
	if p.Unbounded {
		return true
	}
	return failures <= p.MaxRetries
}

// backoff computes the delay before retry number n (1-based) of a class,
// with ±20% jitter to avoid thundering-herd re-synchronization.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

// retryWithBackoff executes fn until success or until its failure class
// exhausts its budget. Failure classes keep independent attempt counters,
// so alternating transient conditions cannot eat each other's budget.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, fn func() error) error {
	failures := make(map[ErrorClass]int)
	attempt := 0

	for {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		// Only the run context decides cancellation. A per-attempt timeout
		// also surfaces context.DeadlineExceeded inside the error chain,
		// but that is a retryable network failure, not a stop signal.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		class := ClassOf(err)
		if !shouldRetry(class) {
			return err
		}

		policy := PolicyForClass(class)
		failures[class]++
		if !policy.Retries(failures[class]) {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			logger.Warn().
				Str("error_class", string(class)).
				Int("retries", policy.MaxRetries).
				Msg("Retry budget exhausted")
			return fmt.Errorf("%w for class %s after %d attempts: %w",
				ErrRetryExhausted, class, failures[class], err)
		}

		delay := policy.backoff(failures[class])
		// A server-requested Retry-After wins over the computed backoff.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			delay = time.Duration(apiErr.RetryAfter) * time.Second
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		logger.Warn().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}
