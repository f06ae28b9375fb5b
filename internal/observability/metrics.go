package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the distribution engine.
type Metrics struct {
	// Transfer metrics (one "transfer" = one downloader session)
	TransfersTotal      *prometheus.CounterVec
	TransfersActive     prometheus.Gauge
	TransferDuration    prometheus.Histogram
	BytesDeliveredTotal *prometheus.CounterVec
	ChunksVerifiedTotal *prometheus.CounterVec
	ChunksRetransmitted *prometheus.CounterVec

	// Cache metrics
	CacheLookupsTotal   *prometheus.CounterVec
	CacheFlushesTotal   prometheus.Counter
	CacheFlushDuration  prometheus.Histogram
	CacheRolloversTotal prometheus.Counter
	CacheSizeBytes      prometheus.Gauge

	// CDN metrics
	CDNRequestsTotal      *prometheus.CounterVec
	CDNRequestDuration    prometheus.Histogram
	CDNBytesFetchedTotal  prometheus.Counter
	CDNRangesCoalescedTotal prometheus.Counter

	// Resume-store metrics
	BitmapPersistDuration   prometheus.Histogram
	DatabaseOperationsTotal *prometheus.CounterVec

	// Active transfers counter (atomic for thread-safety)
	activeTransfers int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_transfers_total",
				Help: "Total download sessions completed, by outcome",
			},
			[]string{"status"},
		),

		TransfersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rman_transfers_active",
				Help: "Currently active download sessions",
			},
		),

		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rman_transfer_duration_seconds",
				Help:    "Download session completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesDeliveredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_bytes_delivered_total",
				Help: "Uncompressed bytes delivered to destination files",
			},
			[]string{"source"},
		),

		ChunksVerifiedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_chunks_verified_total",
				Help: "On-disk chunk verifications performed",
			},
			[]string{"result"},
		),

		ChunksRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_chunks_retransmitted_total",
				Help: "Chunks requiring another dispatch round",
			},
			[]string{"reason"},
		),

		// Cache metrics
		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_cache_lookups_total",
				Help: "Chunk cache lookups",
			},
			[]string{"result"},
		),

		CacheFlushesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rman_cache_flushes_total",
				Help: "Write-buffer flushes to the active bundle file",
			},
		),

		CacheFlushDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rman_cache_flush_duration_seconds",
				Help:    "Cache flush latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),

		CacheRolloversTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rman_cache_rollovers_total",
				Help: "Active cache file seals due to the size cap",
			},
		),

		CacheSizeBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rman_cache_size_bytes",
				Help: "Combined size of all cache bundle files",
			},
		),

		// CDN metrics
		CDNRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_cdn_requests_total",
				Help: "Range-GET requests issued against the CDN",
			},
			[]string{"result"},
		),

		CDNRequestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rman_cdn_request_duration_seconds",
				Help:    "Range-GET latency, headers to body EOF",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		CDNBytesFetchedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rman_cdn_bytes_fetched_total",
				Help: "Compressed bytes received from the CDN",
			},
		),

		CDNRangesCoalescedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rman_cdn_ranges_coalesced_total",
				Help: "Chunks served by a request they were coalesced into",
			},
		),

		// Resume-store metrics
		BitmapPersistDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rman_bitmap_persist_duration_seconds",
				Help:    "Per-file progress bitmap persistence latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rman_database_operations_total",
				Help: "Resume-store database operation count",
			},
			[]string{"operation", "result"},
		),
	}

	return m
}

// RecordTransferStart increments active session counters.
func (m *Metrics) RecordTransferStart() {
	atomic.AddInt64(&m.activeTransfers, 1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))
}

// RecordTransferComplete records session completion metrics.
func (m *Metrics) RecordTransferComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeTransfers, -1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.TransfersTotal.WithLabelValues(status).Inc()
	m.TransferDuration.Observe(durationSeconds)
}

// RecordChunkVerified counts one on-disk chunk verification.
func (m *Metrics) RecordChunkVerified(match bool) {
	result := "match"
	if !match {
		result = "mismatch"
	}
	m.ChunksVerifiedTotal.WithLabelValues(result).Inc()
}

// RecordChunkDelivered counts uncompressed bytes written to a destination
// file, labelled by where they came from ("disk", "cache" or "cdn").
func (m *Metrics) RecordChunkDelivered(source string, bytes int) {
	m.BytesDeliveredTotal.WithLabelValues(source).Add(float64(bytes))
}

// RecordChunkRetransmit increments redispatch counters.
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordCacheLookup counts one chunk cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheFlush records a write-buffer flush.
func (m *Metrics) RecordCacheFlush(durationSeconds float64) {
	m.CacheFlushesTotal.Inc()
	m.CacheFlushDuration.Observe(durationSeconds)
}

// RecordCacheRollover counts an active-file seal.
func (m *Metrics) RecordCacheRollover() {
	m.CacheRolloversTotal.Inc()
}

// SetCacheSize updates the combined cache size gauge.
func (m *Metrics) SetCacheSize(bytes int64) {
	m.CacheSizeBytes.Set(float64(bytes))
}

// RecordCDNRequest records one Range-GET's outcome and latency.
func (m *Metrics) RecordCDNRequest(success bool, durationSeconds float64, bodyBytes int64, coalesced int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.CDNRequestsTotal.WithLabelValues(result).Inc()
	m.CDNRequestDuration.Observe(durationSeconds)
	if bodyBytes > 0 {
		m.CDNBytesFetchedTotal.Add(float64(bodyBytes))
	}
	if coalesced > 1 {
		m.CDNRangesCoalescedTotal.Add(float64(coalesced - 1))
	}
}

// RecordBitmapPersist records progress bitmap persistence latency.
func (m *Metrics) RecordBitmapPersist(durationSeconds float64) {
	m.BitmapPersistDuration.Observe(durationSeconds)
}

// RecordDatabaseOperation counts a resume-store operation.
func (m *Metrics) RecordDatabaseOperation(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
