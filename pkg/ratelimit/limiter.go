// Package ratelimit implements request admission for the upstream API's two
// independent throttles: a short burst window and a sustained token-bucket
// quota. Acquisition blocks until both gates admit; it never rejects.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit admission.
var (
	tokensRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_rate_limit_tokens",
		Help: "Tokens remaining in the sustained-quota bucket",
	})

	burstInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_rate_limit_burst_in_flight",
		Help: "Acquisitions inside the current burst window",
	})

	admissionWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_rate_limit_waits_total",
		Help: "Total admission waits by gate (burst, bucket)",
	}, []string{"gate"})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate limit admission",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 60},
	})
)

// Config holds the two admission constraints. Defaults follow the upstream
// API documentation: at most 45 requests per 2 seconds, and a 5000-token
// bucket refilled with 100 tokens every 60 seconds.
type Config struct {
	// BurstLimit is the maximum number of requests admitted within one
	// BurstWindow.
	BurstLimit int

	// BurstWindow is the sliding window over which BurstLimit applies.
	BurstWindow time.Duration

	// BucketCapacity is the maximum token count of the sustained quota.
	BucketCapacity int

	// RefillTokens is the number of tokens added per RefillInterval.
	RefillTokens int

	// RefillInterval is the refill tick period.
	RefillInterval time.Duration
}

// DefaultConfig returns the documented upstream limits, staying slightly
// under the published burst cap of 50.
func DefaultConfig() Config {
	return Config{
		BurstLimit:     45,
		BurstWindow:    2 * time.Second,
		BucketCapacity: 5000,
		RefillTokens:   100,
		RefillInterval: 60 * time.Second,
	}
}

// State is a snapshot of the shared limiter state. The limiter itself is
// the single mutation point; no other component writes it.
type State struct {
	// Tokens is the current sustained-quota token count.
	Tokens int

	// LastRefill is when tokens were last added to the bucket.
	LastRefill time.Time

	// BurstInFlight is the number of acquisitions inside the current
	// burst window.
	BurstInFlight int
}

// Limiter enforces both constraints jointly. One instance is shared by all
// executor tasks of a run.
type Limiter struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	window     []time.Time // acquisition times inside the burst window
}

// NewLimiter creates a limiter with the given constraints. Zero or negative
// fields fall back to defaults.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = def.BurstLimit
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = def.BurstWindow
	}
	if cfg.BucketCapacity <= 0 {
		cfg.BucketCapacity = def.BucketCapacity
	}
	if cfg.RefillTokens <= 0 {
		cfg.RefillTokens = def.RefillTokens
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = def.RefillInterval
	}

	return &Limiter{
		cfg:        cfg,
		logger:     logger,
		tokens:     cfg.BucketCapacity,
		lastRefill: time.Now(),
		window:     make([]time.Time, 0, cfg.BurstLimit),
	}
}

// Acquire blocks until one unit of request capacity is available under both
// constraints, then consumes it. It returns early only when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitStart := time.Now()
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := time.Now()
		l.refill(now)
		l.prune(now)

		wait := l.admissionDelay(now)
		if wait <= 0 {
			l.tokens--
			l.window = append(l.window, now)
			tokensRemaining.Set(float64(l.tokens))
			burstInFlight.Set(float64(len(l.window)))
			l.mu.Unlock()
			if waited {
				admissionWaitSeconds.Observe(time.Since(waitStart).Seconds())
			}
			return nil
		}
		// Count each blocked acquisition once per gate, not once per
		// wake-up of the poll loop.
		if !waited {
			waited = true
			if l.tokens <= 0 {
				admissionWaitsTotal.WithLabelValues("bucket").Inc()
			}
			if len(l.window) >= l.cfg.BurstLimit {
				admissionWaitsTotal.WithLabelValues("burst").Inc()
			}
			l.logger.Debug().
				Dur("wait", wait).
				Msg("Waiting for rate limit admission")
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Snapshot returns the current shared state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.refill(now)
	l.prune(now)
	return State{
		Tokens:        l.tokens,
		LastRefill:    l.lastRefill,
		BurstInFlight: len(l.window),
	}
}

// admissionDelay returns how long the caller must wait before both gates
// admit, or zero if admission is immediate. Caller holds the lock.
func (l *Limiter) admissionDelay(now time.Time) time.Duration {
	var wait time.Duration

	if l.tokens <= 0 {
		untilRefill := l.lastRefill.Add(l.cfg.RefillInterval).Sub(now)
		if untilRefill > wait {
			wait = untilRefill
		}
	}

	if len(l.window) >= l.cfg.BurstLimit {
		// The oldest slot still counted against the burst cap frees up
		// BurstWindow after its acquisition.
		oldest := l.window[len(l.window)-l.cfg.BurstLimit]
		untilSlot := oldest.Add(l.cfg.BurstWindow).Sub(now)
		if untilSlot > wait {
			wait = untilSlot
		}
	}

	return wait
}

// refill adds tokens for every full refill interval elapsed. Caller holds
// the lock.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.cfg.RefillInterval {
		return
	}

	cycles := int(elapsed / l.cfg.RefillInterval)
	l.tokens += cycles * l.cfg.RefillTokens
	if l.tokens > l.cfg.BucketCapacity {
		l.tokens = l.cfg.BucketCapacity
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(cycles) * l.cfg.RefillInterval)
	tokensRemaining.Set(float64(l.tokens))

	l.logger.Debug().
		Int("tokens", l.tokens).
		Int("capacity", l.cfg.BucketCapacity).
		Msg("Token bucket refilled")
}

// prune drops acquisition timestamps that fell out of the burst window.
// Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.BurstWindow)
	i := 0
	for i < len(l.window) && l.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
		burstInFlight.Set(float64(len(l.window)))
	}
}
