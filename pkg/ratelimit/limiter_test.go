package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func testLimiter(cfg Config) *Limiter {
	return NewLimiter(cfg, zerolog.Nop())
}

func TestLimiter_BurstAdmitsUpToLimit(t *testing.T) {
	l := testLimiter(Config{
		BurstLimit:     3,
		BurstWindow:    200 * time.Millisecond,
		BucketCapacity: 100,
		RefillTokens:   100,
		RefillInterval: time.Minute,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first %d acquisitions took %v, expected immediate", 3, elapsed)
	}
}

func TestLimiter_BurstBlocksOverLimit(t *testing.T) {
	l := testLimiter(Config{
		BurstLimit:     2,
		BurstWindow:    150 * time.Millisecond,
		BucketCapacity: 100,
		RefillTokens:   100,
		RefillInterval: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// Third acquisition must wait for the oldest slot to leave the window.
	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Errorf("third acquisition waited %v, want at least ~150ms", waited)
	}
}

func TestLimiter_BucketExhaustionWaitsForRefill(t *testing.T) {
	l := testLimiter(Config{
		BurstLimit:     100,
		BurstWindow:    10 * time.Millisecond,
		BucketCapacity: 2,
		RefillTokens:   2,
		RefillInterval: 150 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if s := l.Snapshot(); s.Tokens != 0 {
		t.Fatalf("tokens = %d after draining, want 0", s.Tokens)
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Errorf("acquisition on empty bucket waited %v, want a refill wait", waited)
	}
}

func TestLimiter_AcquireCancellable(t *testing.T) {
	l := testLimiter(Config{
		BurstLimit:     1,
		BurstWindow:    time.Minute,
		BucketCapacity: 100,
		RefillTokens:   100,
		RefillInterval: time.Minute,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() with blocked limiter = %v, want DeadlineExceeded", err)
	}
}

func TestLimiter_ConcurrentAcquisitionsRespectBurst(t *testing.T) {
	const burst = 5
	l := testLimiter(Config{
		BurstLimit:     burst,
		BurstWindow:    200 * time.Millisecond,
		BucketCapacity: 1000,
		RefillTokens:   1000,
		RefillInterval: time.Minute,
	})

	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < burst*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	// No window of BurstWindow length may contain more than burst stamps.
	for i := range stamps {
		count := 0
		for j := range stamps {
			d := stamps[j].Sub(stamps[i])
			if d >= 0 && d < 200*time.Millisecond {
				count++
			}
		}
		if count > burst {
			t.Fatalf("%d acquisitions inside one burst window, limit is %d", count, burst)
		}
	}
}

func TestLimiter_WaitCountedOncePerAcquire(t *testing.T) {
	before := promtestutil.ToFloat64(admissionWaitsTotal.WithLabelValues("burst"))

	l := testLimiter(Config{
		BurstLimit:     1,
		BurstWindow:    100 * time.Millisecond,
		BucketCapacity: 100,
		RefillTokens:   100,
		RefillInterval: time.Minute,
	})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Two blocked acquisitions. The one admitted last wakes up more than
	// once but must still count a single wait.
	delta := promtestutil.ToFloat64(admissionWaitsTotal.WithLabelValues("burst")) - before
	if delta != 2 {
		t.Errorf("burst waits = %v, want 2", delta)
	}
}

func TestLimiter_RefillCapsAtCapacity(t *testing.T) {
	l := testLimiter(Config{
		BurstLimit:     100,
		BurstWindow:    10 * time.Millisecond,
		BucketCapacity: 5,
		RefillTokens:   100,
		RefillInterval: 20 * time.Millisecond,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if s := l.Snapshot(); s.Tokens > 5 {
		t.Errorf("tokens = %d, must not exceed capacity 5", s.Tokens)
	}
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	l := testLimiter(Config{})
	def := DefaultConfig()

	if l.cfg.BurstLimit != def.BurstLimit {
		t.Errorf("BurstLimit = %d, want %d", l.cfg.BurstLimit, def.BurstLimit)
	}
	if l.cfg.BucketCapacity != def.BucketCapacity {
		t.Errorf("BucketCapacity = %d, want %d", l.cfg.BucketCapacity, def.BucketCapacity)
	}
	if s := l.Snapshot(); s.Tokens != def.BucketCapacity {
		t.Errorf("initial tokens = %d, want full bucket %d", s.Tokens, def.BucketCapacity)
	}
}
