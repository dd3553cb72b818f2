// Package metrics provides the centralized Prometheus metrics registry for syncpipe.
// All metrics are defined in their respective packages (transport, dispatch,
// checkpoint, syncer) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by syncpipe.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns an HTTP handler exposing all registered syncpipe metrics
// in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - syncpipe_requests_total{method, status} (Counter): Total requests by method and HTTP status
//   - syncpipe_request_duration_seconds{method} (Histogram): Request duration by method
//   - syncpipe_request_failures_total{class} (Counter): Failures by class (transient, rate_limit, client)
//   - syncpipe_retries_total{class} (Counter): Retry attempts by failure class
//   - syncpipe_retry_backoff_seconds{class} (Histogram): Backoff duration by failure class
//   - syncpipe_retry_exhausted_total{class} (Counter): Requests that exhausted max attempts
//
// Dispatch Metrics (pkg/dispatch):
//   - syncpipe_dispatch_inflight (Gauge): Requests currently in flight across the worker pool
//   - syncpipe_dispatch_requests_total{result} (Counter): Dispatched requests by result (ok, error, hook_error, cancelled)
//   - syncpipe_batches_total (Counter): Batches executed by the scheduler
//   - syncpipe_batch_duration_seconds (Histogram): Wall time per batch
//
// Checkpoint Metrics (pkg/checkpoint):
//   - syncpipe_checkpoint_loads_total{backend, result} (Counter): Checkpoint loads by backend
//   - syncpipe_checkpoint_saves_total{backend, result} (Counter): Checkpoint saves by backend
//   - syncpipe_checkpoint_errors_ledger_size (Gauge): Entries currently in the error ledger
//
// Syncer Metrics (pkg/syncer):
//   - syncpipe_sync_state (Gauge): Current orchestrator state (numeric, see syncer.State)
//   - syncpipe_sync_records_total{result} (Counter): Records by result (processed, failed, skipped)
//   - syncpipe_sync_pages_total (Counter): Source pages fetched
//   - syncpipe_sync_runs_total{result} (Counter): Completed runs by result (done, stopped, failed)
//
// Example Prometheus Queries:
//
//   # Record Failure Rate
//   sum(rate(syncpipe_sync_records_total{result="failed"}[5m])) /
//   sum(rate(syncpipe_sync_records_total[5m]))
//
//   # Worker Pool Saturation
//   syncpipe_dispatch_inflight
//
//   # Retry Pressure
//   rate(syncpipe_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(syncpipe_request_duration_seconds_bucket[5m]))
//
//   # Checkpoint Save Failures
//   rate(syncpipe_checkpoint_saves_total{result="error"}[5m])
