// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock analytics API server for testing. It
// serves envelope-shaped collection responses and tracks request counts.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	dataset  *Dataset

	RequestCount      int
	pathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		ds := mock.dataset
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		if ds != nil && ds.Handle(w, r) {
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.pathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path. Custom handlers
// take precedence over the dataset.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Serve installs a fixture dataset that answers un-handled paths.
func (m *MockAPI) Serve(ds *Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset = ds
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PathCount returns the number of requests made to one path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// defaultHandler serves an empty collection envelope.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"items":[],"has_more":false,"quota_remaining":5000}`))
}

// Envelope builds a collection envelope body from raw JSON items.
func Envelope(items []string, hasMore bool) string {
	return `{"items":[` + strings.Join(items, ",") +
		`],"has_more":` + strconv.FormatBool(hasMore) +
		`,"quota_remaining":4000}`
}

// PagedHandler serves one fixed page layout: pages[i] holds the raw JSON
// items of page i+1. has_more is true for every page but the last.
func PagedHandler(pages [][]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if page > len(pages) {
			w.Write([]byte(Envelope(nil, false)))
			return
		}
		w.Write([]byte(Envelope(pages[page-1], page < len(pages))))
	}
}

// FailNTimes serves status for the first n requests, then delegates.
func FailNTimes(n, status int, then http.HandlerFunc) http.HandlerFunc {
	return FailNTimesWithHeaders(n, status, nil, then)
}

// FailNTimesWithHeaders is FailNTimes with extra headers on the failure
// responses, e.g. Retry-After.
func FailNTimesWithHeaders(n, status int, headers map[string]string, then http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	remaining := n
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		if fail {
			for key, value := range headers {
				w.Header().Set(key, value)
			}
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"injected failure"}`))
			return
		}
		then(w, r)
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewAuthErrorResponse creates a 401 Unauthorized response.
func NewAuthErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error": "Invalid access token"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// WriteJSON marshals v and writes it as a 200 response body.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
