// Package pagination provides a lazy, forward-only walker over one
// paginated API endpoint.
package pagination

import (
	"context"

	"github.com/rs/zerolog/log"
)

// State is the walker's position in its lifecycle.
type State string

const (
	// StateRequesting means the next page has not been fetched yet.
	StateRequesting State = "requesting"

	// StateHasPage means entities from the current page are still being
	// emitted.
	StateHasPage State = "has_page"

	// StateExhausted is terminal: the endpoint reported no further results.
	StateExhausted State = "exhausted"

	// StateFailed is terminal: a request failed beyond its retry budget.
	// Entities from pages already emitted are not lost.
	StateFailed State = "failed"
)

// PageFunc fetches one page (1-based) and returns its decoded entities plus
// whether the endpoint reports more pages.
type PageFunc[T any] func(ctx context.Context, page int) (items []T, hasMore bool, err error)

// Walker drives repeated page fetches and emits entities one at a time, in
// upstream pagination order. It is restartable from scratch via Reset but
// never rewinds. Not safe for concurrent use; each stream gets its own
// walker.
type Walker[T any] struct {
	endpoint string
	fetch    PageFunc[T]

	state State
	page  int
	buf   []T
	idx   int
	more  bool
	err   error
}

// NewWalker creates a walker positioned before the first page. The endpoint
// name is used for logging only.
func NewWalker[T any](endpoint string, fetch PageFunc[T]) *Walker[T] {
	return &Walker[T]{
		endpoint: endpoint,
		fetch:    fetch,
		state:    StateRequesting,
		page:     1,
	}
}

// State returns the walker's current state.
func (w *Walker[T]) State() State {
	return w.state
}

// Err returns the terminal failure, if any.
func (w *Walker[T]) Err() error {
	return w.err
}

// Reset returns the walker to its initial state, before the first page.
func (w *Walker[T]) Reset() {
	w.state = StateRequesting
	w.page = 1
	w.buf = nil
	w.idx = 0
	w.more = false
	w.err = nil
}

// Next returns the next entity. ok is false once the stream is exhausted or
// failed; a failure is also returned as err and sticks.
func (w *Walker[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	var zero T

	for {
		if w.state == StateHasPage {
			if w.idx < len(w.buf) {
				item := w.buf[w.idx]
				w.idx++
				return item, true, nil
			}
			// Page drained: advance or finish.
			if !w.more {
				w.state = StateExhausted
				return zero, false, nil
			}
			w.page++
			w.state = StateRequesting
		}

		switch w.state {
		case StateExhausted:
			return zero, false, nil
		case StateFailed:
			return zero, false, w.err
		}

		items, hasMore, err := w.fetch(ctx, w.page)
		if err != nil {
			w.state = StateFailed
			w.err = err
			return zero, false, err
		}

		log.Debug().
			Str("endpoint", w.endpoint).
			Int("page", w.page).
			Int("items", len(items)).
			Bool("has_more", hasMore).
			Msg("Fetched page")

		// An empty page signals end-of-results regardless of has_more.
		if len(items) == 0 {
			w.state = StateExhausted
			return zero, false, nil
		}

		w.buf = items
		w.idx = 0
		w.more = hasMore
		w.state = StateHasPage
	}
}

// All drains the walker and returns every remaining entity in emission
// order. On failure the entities collected before the failure are returned
// alongside the error.
func (w *Walker[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for {
		item, ok, err := w.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}
