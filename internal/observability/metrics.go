package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btxmesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	chunkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "sender",
			Name:      "chunk_writes_total",
			Help:      "Chunk write attempts by result.",
		},
		[]string{"link", "result"},
	)
	chunkRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "sender",
			Name:      "chunk_retries_total",
			Help:      "Chunk writes retried after a failure or timeout.",
		},
		[]string{"link"},
	)
	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "sender",
			Name:      "sessions_total",
			Help:      "Finished transmissions by terminal state.",
		},
		[]string{"link", "state"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btxmesh",
			Subsystem: "sender",
			Name:      "session_duration_seconds",
			Help:      "Transmission duration in seconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"link", "state"},
	)
	gatewayChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "gateway",
			Name:      "chunks_total",
			Help:      "Chunks received by source and result.",
		},
		[]string{"source", "result"},
	)
	gatewayAssembled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btxmesh",
			Subsystem: "gateway",
			Name:      "transactions_total",
			Help:      "Reassembled transactions by source and result.",
		},
		[]string{"source", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			chunkWrites,
			chunkRetries,
			sessionOutcomes,
			sessionDuration,
			gatewayChunks,
			gatewayAssembled,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordChunkWrite(link, result string) {
	RegisterMetrics()
	chunkWrites.WithLabelValues(link, result).Inc()
}

func RecordChunkRetry(link string) {
	RegisterMetrics()
	chunkRetries.WithLabelValues(link).Inc()
}

func RecordSession(link, state string, duration time.Duration) {
	RegisterMetrics()
	sessionOutcomes.WithLabelValues(link, state).Inc()
	sessionDuration.WithLabelValues(link, state).Observe(duration.Seconds())
}

func RecordGatewayChunk(source, result string) {
	RegisterMetrics()
	gatewayChunks.WithLabelValues(source, result).Inc()
}

func RecordAssembled(source, result string) {
	RegisterMetrics()
	gatewayAssembled.WithLabelValues(source, result).Inc()
}
