package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narration_gateway_active_sessions",
		Help: "Number of active topic sessions",
	})
	ActiveLiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narration_gateway_active_live_sessions",
		Help: "Number of in-flight realtime voice sessions",
	})
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narration_gateway_stream_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Counters
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_sessions_created_total",
		Help: "Total topic sessions created",
	})
	SessionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_sessions_rejected_total",
		Help: "Sessions rejected due to capacity limit",
	})
	TimingChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_timing_chunks_total",
		Help: "Total timing chunks received",
	})
	TimelinesAssembledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_timelines_assembled_total",
		Help: "Total narration timelines flattened from chunks",
	})
	HighlightDispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_highlight_dispatches_total",
		Help: "Total highlight sets dispatched to renderers",
	})
	LiveRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_live_retries_total",
		Help: "Total realtime session retry attempts",
	})
	LiveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_live_failures_total",
		Help: "Total realtime sessions that exhausted retries",
	})
	NarrationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_narration_requests_total",
		Help: "Total narration generation requests by outcome",
	}, []string{"outcome"})
	DoubtRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_doubt_requests_total",
		Help: "Total doubt processing requests by outcome",
	}, []string{"outcome"})
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_narration_cache_hits_total",
		Help: "Total narration cache hits",
	})
	AudioBytesRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narration_gateway_audio_bytes_relayed_total",
		Help: "Total audio bytes relayed to stream clients",
	})
)

// Histograms
var (
	NarrationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narration_gateway_narration_duration_ms",
		Help:    "Narration request duration in milliseconds by stage",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
	}, []string{"stage"})
)
