// Package metrics exposes Prometheus collectors for ingestion, merging and queries.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestFacts counts facts handled by the ingest writer by kind and result.
	IngestFacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callgraph_ingest_facts_total",
		Help: "Facts handled by the ingest writer by kind and result",
	}, []string{"kind", "result"})

	// IngestFlushDuration tracks how long one batch flush holds the write transaction.
	IngestFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callgraph_ingest_flush_duration_seconds",
		Help:    "Batch flush duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// MergeDocuments counts documents copied from dependency caches by copy mode.
	MergeDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callgraph_merge_documents_total",
		Help: "Documents copied from dependency caches by mode",
	}, []string{"mode"})

	// QueryDuration tracks query latency by operation.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callgraph_query_duration_seconds",
		Help:    "Query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	// QueryErrors counts sub-queries that degraded to an empty page.
	QueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callgraph_query_errors_total",
		Help: "Sub-queries absorbed as empty pages by operation",
	}, []string{"operation"})
)

// Serve exposes /metrics on addr until the server fails. An empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		slog.Info("metrics.listen", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics.serve.err", "err", err)
		}
	}()
}
