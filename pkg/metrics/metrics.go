// Package metrics provides the Prometheus registry and exposition
// endpoint for the extractor. The metrics themselves are defined in
// their respective packages (client, sync) via promauto to keep each
// concern self-contained.
//
// This package documents all available metrics and serves them over
// HTTP when a metrics port is configured.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the extractor.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - shippo_requests_total{stream, status} (Counter): API requests by stream and HTTP status
//   - shippo_request_duration_seconds{stream} (Histogram): Request duration by stream
//   - shippo_errors_total{class} (Counter): Errors by class (transient, client, protocol)
//
// Retry Metrics (pkg/client):
//   - shippo_retries_total{stream} (Counter): Retry attempts by stream
//   - shippo_retry_backoff_seconds{stream} (Histogram): Backoff duration by stream
//   - shippo_retry_exhausted_total{stream} (Counter): Requests that exhausted max retries
//
// Sync Metrics (pkg/sync):
//   - shippo_sync_records_read_total{stream} (Counter): Records read from the API
//   - shippo_sync_records_emitted_total{stream} (Counter): Records that passed the watermark filter
//   - shippo_sync_pages_total{stream} (Counter): Pages fetched and committed
//   - shippo_sync_runs_total{outcome} (Counter): Extraction runs by outcome (completed, aborted)
//   - shippo_sync_stream_duration_seconds{stream} (Histogram): Wall time per stream pass
//
// Example Prometheus Queries:
//
//   # Filter Pass Rate
//   sum(rate(shippo_sync_records_emitted_total[5m])) /
//   sum(rate(shippo_sync_records_read_total[5m]))
//
//   # Request Error Rate
//   rate(shippo_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(shippo_request_duration_seconds_bucket[5m]))

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Listen serves the /metrics endpoint on the given port in a background
// goroutine. A port of 0 disables the listener.
func Listen(port int) (net.Listener, error) {
	if port == 0 {
		return nil, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln) //nolint:errcheck

	return ln, nil
}
