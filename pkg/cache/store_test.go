package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

func TestStore_GetOrFetch_Caches(t *testing.T) {
	store := NewStore()
	key := Key{Endpoint: "/users", SubjectID: 7}

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		fetches.Add(1)
		return json.RawMessage(`{"ok":true}`), nil
	}

	for i := 0; i < 3; i++ {
		entry, err := store.GetOrFetch(context.Background(), key, fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if string(entry.Payload) != `{"ok":true}` {
			t.Errorf("payload = %s", entry.Payload)
		}
	}

	if n := fetches.Load(); n != 1 {
		t.Errorf("fetch invoked %d times, want 1", n)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStore_GetOrFetch_CoalescesConcurrent(t *testing.T) {
	store := NewStore()
	key := Key{Endpoint: "/questions", SubjectID: 1}

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		fetches.Add(1)
		<-release
		return json.RawMessage(`[]`), nil
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetOrFetch(context.Background(), key, fetch)
			errs <- err
		}()
	}

	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetch invoked %d times for %d concurrent callers, want 1", n, workers)
	}
}

func TestStore_GetOrFetch_FailuresNotCached(t *testing.T) {
	store := NewStore()
	key := Key{Endpoint: "/articles", SubjectID: 2}
	fetchErr := errors.New("boom")

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		if fetches.Add(1) == 1 {
			return nil, fetchErr
		}
		return json.RawMessage(`{}`), nil
	}

	if _, err := store.GetOrFetch(context.Background(), key, fetch); !errors.Is(err, fetchErr) {
		t.Fatalf("first GetOrFetch() error = %v, want %v", err, fetchErr)
	}
	if store.Len() != 0 {
		t.Fatalf("failed fetch was cached")
	}

	entry, err := store.GetOrFetch(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("second GetOrFetch() error = %v", err)
	}
	if string(entry.Payload) != `{}` {
		t.Errorf("payload = %s", entry.Payload)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetch invoked %d times, want 2", n)
	}
}

func TestStore_DistinctKeysIndependent(t *testing.T) {
	store := NewStore()

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		fetches.Add(1)
		return json.RawMessage(`1`), nil
	}

	keys := []Key{
		{Endpoint: "/users", SubjectID: 1},
		{Endpoint: "/users", SubjectID: 2},
		{Endpoint: "/users", SubjectID: 1, Params: url.Values{"page": {"2"}}},
	}
	for _, key := range keys {
		if _, err := store.GetOrFetch(context.Background(), key, fetch); err != nil {
			t.Fatalf("GetOrFetch(%s) error = %v", key, err)
		}
	}

	if n := fetches.Load(); n != int32(len(keys)) {
		t.Errorf("fetch invoked %d times, want %d", n, len(keys))
	}
}
