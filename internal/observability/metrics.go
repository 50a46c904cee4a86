package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Frames decoded and dispatched by the receive loop.",
		},
		[]string{"endpoint", "kind"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "frame",
			Name:      "dropped_total",
			Help:      "Frames dropped by the decoder (malformed, oversized or truncated).",
		},
		[]string{"endpoint"},
	)
	callsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rpcmux",
			Subsystem: "call",
			Name:      "in_flight",
			Help:      "Two-way calls currently holding a concurrency permit.",
		},
		[]string{"endpoint"},
	)
	callsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "call",
			Name:      "completed_total",
			Help:      "Two-way calls by terminal outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rpcmux",
			Subsystem: "call",
			Name:      "duration_seconds",
			Help:      "Two-way call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)
	repliesUnmatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "reply",
			Name:      "unmatched_total",
			Help:      "Replies discarded because no pending call matched their id.",
		},
		[]string{"endpoint"},
	)
	requestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "request",
			Name:      "failures_total",
			Help:      "Server-side request failures swallowed at the dispatch boundary.",
		},
		[]string{"endpoint", "stage"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcmux",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rpcmux",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded,
			framesDropped,
			callsInFlight,
			callsCompleted,
			callDuration,
			repliesUnmatched,
			requestFailures,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(endpoint string, twoWay bool) {
	RegisterMetrics()
	kind := "one_way"
	if twoWay {
		kind = "two_way"
	}
	framesDecoded.WithLabelValues(endpoint, kind).Inc()
}

func RecordDrop(endpoint string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(endpoint).Inc()
}

func SetInFlight(endpoint string, n int) {
	RegisterMetrics()
	callsInFlight.WithLabelValues(endpoint).Set(float64(n))
}

func RecordCall(endpoint, outcome string, duration time.Duration) {
	RegisterMetrics()
	callsCompleted.WithLabelValues(endpoint, outcome).Inc()
	callDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

func RecordUnmatchedReply(endpoint string) {
	RegisterMetrics()
	repliesUnmatched.WithLabelValues(endpoint).Inc()
}

func RecordRequestFailure(endpoint, stage string) {
	RegisterMetrics()
	requestFailures.WithLabelValues(endpoint, stage).Inc()
}

func RecordHTTPRequest(endpoint, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(endpoint, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(endpoint, method, path, statusLabel).Observe(duration.Seconds())
}
