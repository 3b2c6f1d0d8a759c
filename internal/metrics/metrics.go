// Package metrics declares the Prometheus collectors shared by the engine
// transport, the search orchestrator and the bulk buffer.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "engine_requests_total",
			Help:      "Total number of requests sent to the search engine",
		},
		[]string{"op", "status"},
	)

	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eshelper",
			Name:      "engine_request_duration_seconds",
			Help:      "Search engine round-trip duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	CursorPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "cursor_pages_total",
			Help:      "Scroll continuation pages fetched",
		},
	)

	HitsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "hits_emitted_total",
			Help:      "Hit payloads returned to callers",
		},
	)

	ShapeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "shape_failures_total",
			Help:      "Hit payloads passed through unchanged because a JSON pass failed",
		},
		[]string{"pass"},
	)

	BulkFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "bulk_flushes_total",
			Help:      "Bulk flushes by outcome",
		},
		[]string{"index", "status"},
	)

	BulkDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "bulk_documents_total",
			Help:      "Documents committed through bulk flushes",
		},
		[]string{"index"},
	)

	LoadLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eshelper",
			Name:      "load_lines_total",
			Help:      "NDJSON lines consumed by the loader",
		},
		[]string{"index", "result"}, // "queued", "invalid", "resumed"
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Only the first call has an effect;
// collectors that are already registered are ignored.
func Register(reg prometheus.Registerer) error {
	var err error
	registerOnce.Do(func() {
		for _, c := range collectors() {
			if regErr := reg.Register(c); regErr != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(regErr, &already) {
					continue
				}
				err = regErr
				return
			}
		}
	})
	return err
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		EngineRequestsTotal,
		EngineRequestDuration,
		CursorPagesTotal,
		HitsEmittedTotal,
		ShapeFailuresTotal,
		BulkFlushesTotal,
		BulkDocumentsTotal,
		LoadLinesTotal,
	}
}
