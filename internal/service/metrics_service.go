package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Assembly outcomes recorded by RecordAssembly.
const (
	AssemblySucceeded  = "succeeded"
	AssemblyIncomplete = "incomplete"
	AssemblyFailed     = "failed"
	AssemblyCancelled  = "cancelled"
)

// MetricsSnapshot is a JSON friendly summary of the upload pipeline counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	ChunksReceived           uint64    `json:"chunks_received"`
	BytesReceived            uint64    `json:"bytes_received"`
	AssembliesSucceeded      uint64    `json:"assemblies_succeeded"`
	AssembliesFailed         uint64    `json:"assemblies_failed"`
	SessionsSwept            uint64    `json:"sessions_swept"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	chunksReceived   prometheus.Counter
	chunkBytes       prometheus.Counter
	assemblies       *prometheus.CounterVec
	assemblyDuration prometheus.Histogram
	assembledBytes   prometheus.Histogram
	sessionsSwept    prometheus.Counter
	versionsCreated  prometheus.Counter
	cacheLookups     *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	chunkCount           uint64
	chunkByteCount       uint64
	assemblyOK           uint64
	assemblyFailed       uint64
	sweptCount           uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	chunksReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_chunks_received_total",
		Help: "Chunks stored for upload sessions",
	})

	chunkBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_chunk_bytes_total",
		Help: "Bytes stored as upload chunks",
	})

	assemblies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_assemblies_total",
		Help: "Upload completion attempts by outcome",
	}, []string{"outcome"})

	assemblyDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_assembly_duration_seconds",
		Help:    "Time spent concatenating chunks into the final object",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	assembledBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_assembled_bytes",
		Help:    "Size of assembled uploads",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
	})

	sessionsSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_sessions_swept_total",
		Help: "Expired upload sessions reclaimed by the sweeper",
	})

	versionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "document_versions_created_total",
		Help: "Document versions appended to the ledger",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Read-through cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, chunksReceived, chunkBytes, assemblies,
		assemblyDuration, assembledBytes, sessionsSwept, versionsCreated, cacheLookups, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		chunksReceived:   chunksReceived,
		chunkBytes:       chunkBytes,
		assemblies:       assemblies,
		assemblyDuration: assemblyDuration,
		assembledBytes:   assembledBytes,
		sessionsSwept:    sessionsSwept,
		versionsCreated:  versionsCreated,
		cacheLookups:     cacheLookups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordChunk counts a stored chunk.
func (m *MetricsService) RecordChunk(size int64) {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
	atomic.AddUint64(&m.chunkCount, 1)
	if size > 0 {
		m.chunkBytes.Add(float64(size))
		atomic.AddUint64(&m.chunkByteCount, uint64(size))
	}
}

// RecordAssembly counts a completion attempt. Duration and size are only
// observed for successful assemblies.
func (m *MetricsService) RecordAssembly(outcome string, duration time.Duration, size int64) {
	if m == nil {
		return
	}
	m.assemblies.WithLabelValues(outcome).Inc()
	switch outcome {
	case AssemblySucceeded:
		m.assemblyDuration.Observe(duration.Seconds())
		m.assembledBytes.Observe(float64(size))
		atomic.AddUint64(&m.assemblyOK, 1)
	case AssemblyFailed:
		atomic.AddUint64(&m.assemblyFailed, 1)
	}
}

// RecordSweep counts sessions reclaimed by one sweep run.
func (m *MetricsService) RecordSweep(sessions int) {
	if m == nil || sessions <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(sessions))
	atomic.AddUint64(&m.sweptCount, uint64(sessions))
}

// RecordVersion counts a new ledger entry.
func (m *MetricsService) RecordVersion() {
	if m == nil {
		return
	}
	m.versionsCreated.Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ChunksReceived:           atomic.LoadUint64(&m.chunkCount),
		BytesReceived:            atomic.LoadUint64(&m.chunkByteCount),
		AssembliesSucceeded:      atomic.LoadUint64(&m.assemblyOK),
		AssembliesFailed:         atomic.LoadUint64(&m.assemblyFailed),
		SessionsSwept:            atomic.LoadUint64(&m.sweptCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
