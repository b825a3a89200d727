// Package metrics exposes Prometheus counters for playback, cache and TTS.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the palace audio engine
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	PlaysStarted  prometheus.Counter
	PlaysFailed   *prometheus.CounterVec
	PlaysEnded    prometheus.Counter
	UnlockResults *prometheus.CounterVec
	LoadDuration  prometheus.Histogram

	// Cache metrics
	CacheLookups *prometheus.CounterVec
	CacheWrites  prometheus.Counter
	CacheBytes   prometheus.Gauge

	// TTS metrics
	TTSRequests     *prometheus.CounterVec
	TTSDuration     prometheus.Histogram
	PrefetchResults *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PlaysStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "palace_plays_started_total",
			Help: "Total number of tracks that reached the playing state",
		}),
		PlaysFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "palace_plays_failed_total",
			Help: "Total number of failed plays by error kind",
		}, []string{"kind"}),
		PlaysEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "palace_plays_ended_total",
			Help: "Total number of tracks that played to the end",
		}),
		UnlockResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "palace_unlock_attempts_total",
			Help: "Unlock attempts by result",
		}, []string{"result"}),
		LoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "palace_load_duration_seconds",
			Help:    "Time from play request to playback start",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "palace_cache_lookups_total",
			Help: "Cache lookups by result (memory, persistent, miss)",
		}, []string{"result"}),
		CacheWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "palace_cache_writes_total",
			Help: "Total number of cache writes",
		}),
		CacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "palace_cache_memory_bytes",
			Help: "Bytes held by the in-memory cache tier",
		}),

		TTSRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "palace_tts_requests_total",
			Help: "TTS requests by outcome",
		}, []string{"outcome"}),
		TTSDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "palace_tts_request_duration_seconds",
			Help:    "Duration of TTS requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		PrefetchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "palace_prefetch_items_total",
			Help: "Prefetched items by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordPlayStarted records a track reaching the playing state
func (m *Metrics) RecordPlayStarted(loadSeconds float64) {
	if m == nil {
		return
	}
	m.PlaysStarted.Inc()
	m.LoadDuration.Observe(loadSeconds)
}

// RecordPlayFailed records a failed play by error kind
func (m *Metrics) RecordPlayFailed(kind string) {
	if m == nil {
		return
	}
	m.PlaysFailed.WithLabelValues(kind).Inc()
}

// RecordPlayEnded records a natural end of track
func (m *Metrics) RecordPlayEnded() {
	if m == nil {
		return
	}
	m.PlaysEnded.Inc()
}

// RecordUnlock records an unlock attempt
func (m *Metrics) RecordUnlock(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.UnlockResults.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a lookup result: memory, persistent or miss
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite records a cache write and the resulting memory footprint
func (m *Metrics) RecordCacheWrite(memoryBytes int64) {
	if m == nil {
		return
	}
	m.CacheWrites.Inc()
	m.CacheBytes.Set(float64(memoryBytes))
}

// SetCacheBytes sets the in-memory tier footprint
func (m *Metrics) SetCacheBytes(memoryBytes int64) {
	if m == nil {
		return
	}
	m.CacheBytes.Set(float64(memoryBytes))
}

// RecordTTSRequest records a TTS request by outcome
func (m *Metrics) RecordTTSRequest(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TTSRequests.WithLabelValues(outcome).Inc()
	m.TTSDuration.Observe(durationSeconds)
}

// RecordPrefetch records one prefetched item
func (m *Metrics) RecordPrefetch(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.PrefetchResults.WithLabelValues(result).Inc()
}
