// Package metrics provides Prometheus metrics for the dirindex consumer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirindex_messages_total",
			Help: "Messages handled, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirindex_processing_duration_seconds",
			Help:    "Time spent handling one message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	decodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirindex_decode_failures_total",
			Help: "Messages acknowledged and dropped because they could not be decoded",
		},
	)

	mappingRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirindex_mapping_refreshes_total",
			Help: "Mapping cache refresh attempts",
		},
		[]string{"result"},
	)

	mappingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirindex_mapping_entries",
			Help: "Entries in the current mapping snapshot",
		},
	)

	visibilityWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirindex_visibility_waits_total",
			Help: "Filesystem visibility waits, by result",
		},
		[]string{"result"},
	)

	indexOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirindex_index_operations_total",
			Help: "Index client calls, by operation and result",
		},
		[]string{"op", "result"},
	)
)

func RecordMessage(action, outcome string, d time.Duration) {
	messagesTotal.WithLabelValues(action, outcome).Inc()
	if d > 0 {
		processingDuration.WithLabelValues(action).Observe(d.Seconds())
	}
}

func RecordDecodeFailure() {
	decodeFailures.Inc()
}

func RecordMappingRefresh(err error, entries int) {
	if err != nil {
		mappingRefreshes.WithLabelValues("error").Inc()
		return
	}
	mappingRefreshes.WithLabelValues("ok").Inc()
	mappingEntries.Set(float64(entries))
}

func RecordVisibility(visible bool) {
	if visible {
		visibilityWaits.WithLabelValues("visible").Inc()
		return
	}
	visibilityWaits.WithLabelValues("absent").Inc()
}

func RecordIndexOp(op string, err error) {
	if err != nil {
		indexOps.WithLabelValues(op, "error").Inc()
		return
	}
	indexOps.WithLabelValues(op, "ok").Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
