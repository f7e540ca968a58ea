package client

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPolicyForClass(t *testing.T) {
	tests := []struct {
		class         ErrorClass
		wantUnbounded bool
		wantRetries   int
	}{
		{ErrorClassRateLimit, true, 0},
		{ErrorClassServer, false, 5},
		{ErrorClassNetwork, false, 3},
		{ErrorClassClient, false, 1},
		{ErrorClassAuth, false, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			p := PolicyForClass(tt.class)
			if p.Unbounded != tt.wantUnbounded {
				t.Errorf("Unbounded = %v, want %v", p.Unbounded, tt.wantUnbounded)
			}
			if p.MaxRetries != tt.wantRetries {
				t.Errorf("MaxRetries = %d, want %d", p.MaxRetries, tt.wantRetries)
			}
		})
	}
}

func TestRetryPolicy_Retries(t *testing.T) {
	server := PolicyForClass(ErrorClassServer)
	if !server.Retries(1) || !server.Retries(5) {
		t.Error("server policy must allow up to 5 retries")
	}
	if server.Retries(6) {
		t.Error("server policy must stop after 5 retries")
	}

	rate := PolicyForClass(ErrorClassRateLimit)
	for _, n := range []int{1, 100, 100000} {
		if !rate.Retries(n) {
			t.Errorf("rate limit policy gave up after %d failures", n)
		}
	}

	auth := PolicyForClass(ErrorClassAuth)
	if auth.Retries(1) {
		t.Error("auth policy must never retry")
	}
}

func TestRetryPolicy_BackoffBounds(t *testing.T) {
	p := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}

	// Jitter is ±20%, so delay n stays within [0.8, 1.2] of the raw value.
	for n := 1; n <= 10; n++ {
		raw := float64(time.Second)
		for i := 1; i < n; i++ {
			raw *= 2
			if raw > float64(30*time.Second) {
				raw = float64(30 * time.Second)
				break
			}
		}
		d := p.backoff(n)
		if float64(d) < raw*0.8-1 || float64(d) > raw*1.2+1 {
			t.Errorf("backoff(%d) = %v, outside [%v, %v]",
				n, d, time.Duration(raw*0.8), time.Duration(raw*1.2))
		}
	}
}

func TestRetryWithBackoff_SucceedsAfterServerErrors(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		attempts++
		if attempts < 3 {
			return &APIError{StatusCode: 502, Class: ErrorClassServer, Endpoint: "/users"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_AuthNotRetried(t *testing.T) {
	attempts := 0
	authErr := &APIError{StatusCode: 401, Class: ErrorClassAuth, Endpoint: "/users"}
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return authErr
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("error = %v, want %v", err, authErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_ClientErrorExhausts(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return &APIError{StatusCode: 404, Class: ErrorClassClient, Endpoint: "/users/9"}
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	// One initial attempt plus one retry.
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryWithBackoff_AttemptTimeoutExhaustsNetworkBudget(t *testing.T) {
	// A per-attempt timeout carries context.DeadlineExceeded inside the
	// chain. With the run context still live it must burn the network
	// budget like any other transport failure, never flip to cancellation.
	wrapped := &url.Error{Op: "Get", URL: "http://api.test/users", Err: context.DeadlineExceeded}
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return &APIError{
			Class:    ErrorClassNetwork,
			Endpoint: "/users",
			Message:  "attempt timed out",
			// Retry-After keeps the waits short.
			RetryAfter: 1,
			Err:        wrapped,
		}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	if errors.Is(err, ErrContextCancelled) {
		t.Error("attempt timeout surfaced as cancellation")
	}
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("class = %q, want %q", ClassOf(err), ErrorClassNetwork)
	}
	// One initial attempt plus the three network retries.
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := retryWithBackoff(ctx, zerolog.Nop(), func() error {
		attempts++
		cancel()
		return &APIError{StatusCode: 500, Class: ErrorClassServer, Endpoint: "/users"}
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_RetryAfterOverridesBackoff(t *testing.T) {
	start := time.Now()
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		attempts++
		if attempts == 1 {
			return &APIError{
				StatusCode: 429,
				Class:      ErrorClassRateLimit,
				Endpoint:   "/users",
				RetryAfter: 1,
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v", err)
	}

	// The rate limit policy's initial backoff is 5s; Retry-After of 1s
	// must win.
	elapsed := time.Since(start)
	if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("waited %v, want about 1s from Retry-After", elapsed)
	}
}

func TestRetryWithBackoff_PerClassBudgets(t *testing.T) {
	// Alternating client and network failures: the client budget (1
	// retry) must not be consumed by network failures.
	sequence := []ErrorClass{
		ErrorClassClient,
		ErrorClassNetwork,
		ErrorClassClient,
	}
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), func() error {
		if attempts < len(sequence) {
			class := sequence[attempts]
			attempts++
			return &APIError{Class: class, Endpoint: "/users"}
		}
		attempts++
		return nil
	})

	// Third failure is the second client failure, exceeding its budget of
	// one retry.
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
