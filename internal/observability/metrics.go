package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes.
const (
	OutcomeResponded    = "responded"
	OutcomeMismatch     = "dropped_mismatch"
	OutcomeUnrecognized = "dropped_unrecognized"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proverctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Auxiliary service calls by result code.",
		},
		[]string{"service", "method", "code"},
	)
	dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Aggregator requests handled by the dispatcher.",
		},
		[]string{"request", "outcome"},
	)
	malformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "malformed_total",
			Help:      "Inbound frames skipped because the payload did not decode.",
		},
	)
	sent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "responses_sent_total",
			Help:      "Responses written to the aggregator.",
		},
		[]string{"response"},
	)
	outboundDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "outbound_dropped_total",
			Help:      "Responses discarded by a full outbound queue.",
		},
	)
	outboundDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "outbound_queue_depth",
			Help:      "Responses waiting in the outbound queue.",
		},
	)
	connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proverctl",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a session with the aggregator is open.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			rpcCalls,
			dispatched,
			malformed,
			sent,
			outboundDropped,
			outboundDepth,
			connected,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRPC(service, method, code string) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(service, method, code).Inc()
}

func RecordDispatch(request, outcome string) {
	RegisterMetrics()
	dispatched.WithLabelValues(request, outcome).Inc()
}

func RecordMalformed() {
	RegisterMetrics()
	malformed.Inc()
}

func RecordSent(response string) {
	RegisterMetrics()
	sent.WithLabelValues(response).Inc()
}

func RecordOutboundDropped() {
	RegisterMetrics()
	outboundDropped.Inc()
}

func SetOutboundDepth(n int) {
	RegisterMetrics()
	outboundDepth.Set(float64(n))
}

func SetConnected(up bool) {
	RegisterMetrics()
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}
