// Package metrics provides the centralized Prometheus metrics registry for
// the harvester. All metrics are defined in their respective packages
// (client, cache, ratelimit, aggregate) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvester_rate_limit_tokens (Gauge): Sustained-quota tokens currently available
//   - harvester_rate_limit_burst_in_flight (Gauge): Requests inside the current burst window
//   - harvester_rate_limit_waits_total{gate} (Counter): Acquisitions that had to wait, by gate (burst, bucket)
//   - harvester_rate_limit_wait_seconds (Histogram): Time spent waiting for admission
//
// Request Metrics (pkg/client):
//   - harvester_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - harvester_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - harvester_errors_total{class} (Counter): Errors by class (auth, rate_limited, server_error, network_error, client_error)
//   - harvester_quota_remaining (Gauge): Quota remaining from the last response envelope
//
// Retry Metrics (pkg/client):
//   - harvester_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvester_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvester_retry_exhausted_total{error_class} (Counter): Requests that exhausted their retry budget
//
// Cache Metrics (pkg/cache):
//   - harvester_cache_hits_total (Counter): Fetches satisfied from the run cache
//   - harvester_cache_misses_total (Counter): Fetches that required a network call
//   - harvester_cache_coalesced_total (Counter): Duplicate fetches attached to an in-flight call
//   - harvester_cache_entries (Gauge): Entries currently held in the run cache
//
// Aggregation Metrics (pkg/aggregate):
//   - harvester_subjects_resolved_total (Counter): Entities whose sub-fetches all resolved
//   - harvester_subjects_excluded_total{class} (Counter): Entities excluded by failure class
//   - harvester_accepted_answer_conflicts_total (Counter): Questions reporting multiple accepted answers
//   - harvester_run_duration_seconds (Gauge): Wall clock duration of the last run
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(harvester_cache_hits_total[5m])) /
//   (sum(rate(harvester_cache_hits_total[5m])) + sum(rate(harvester_cache_misses_total[5m])))
//
//   # Exclusion Rate by Failure Class
//   rate(harvester_subjects_excluded_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvester_request_duration_seconds_bucket[5m]))
//
//   # Time Lost Waiting on the Rate Limiter
//   rate(harvester_rate_limit_wait_seconds_sum[5m])
