// Package cache memoizes completed fetches for the duration of one
// harvesting run, so re-entrant aggregation paths never re-issue an
// identical call. Entries are in-memory only and never invalidated mid-run;
// upstream data is assumed immutable for the run's window.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_hits_total",
		Help: "Fetches satisfied from the run cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_misses_total",
		Help: "Fetches that required a network call",
	})

	cacheCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_coalesced_total",
		Help: "Concurrent duplicate fetches attached to an in-flight call",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_cache_entries",
		Help: "Entries currently held in the run cache",
	})
)

// Entry is one memoized fetch result.
type Entry struct {
	// Payload is the decoded page as raw JSON.
	Payload json.RawMessage

	// FetchedAt is when the underlying fetch completed.
	FetchedAt time.Time
}

// FetchFunc performs the underlying network fetch for a missing key.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Store is the run-scoped response cache. One store belongs to exactly one
// engine instance; it must not be reused across runs with different window
// bounds.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

// NewStore creates an empty run cache.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
	}
}

// GetOrFetch returns the cached entry for key, or invokes fetch and stores
// the result. Concurrent calls for the same key share a single in-flight
// fetch; at most one network call is dispatched per key. Failed fetches are
// not cached, so a later caller may retry.
func (s *Store) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) (*Entry, error) {
	id := key.String()

	if entry, ok := s.lookup(id); ok {
		cacheHits.Inc()
		return entry, nil
	}

	v, err, shared := s.group.Do(id, func() (any, error) {
		// A concurrent caller may have stored the entry between our
		// lookup and joining the flight group.
		if entry, ok := s.lookup(id); ok {
			return entry, nil
		}

		cacheMisses.Inc()
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		entry := &Entry{Payload: payload, FetchedAt: time.Now()}
		s.mu.Lock()
		s.entries[id] = entry
		cacheEntries.Set(float64(len(s.entries)))
		s.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		cacheCoalesced.Inc()
	}
	return v.(*Entry), nil
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}
