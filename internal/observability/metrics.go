package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sipgw"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "SIP sessions currently running.",
		},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Inbound SIP connections by admission result.",
		},
		[]string{"result"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "SIP requests handled by code and outcome.",
		},
		[]string{"code", "outcome"},
	)
	messageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "message_duration_seconds",
			Help:      "SIP request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"code"},
	)
	backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Backend method calls by outcome.",
		},
		[]string{"method", "success"},
	)
	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Backend call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "attempts_total",
			Help:      "Fee paid requests by outcome.",
		},
		[]string{"outcome"},
	)
	monitorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Monitor events applied by the dispatcher.",
		},
		[]string{"action"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsActive, connections,
			messages, messageDuration,
			backendCalls, backendDuration,
			payments, monitorEvents,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordConnection counts one accepted or rejected connection.
func RecordConnection(accepted bool) {
	RegisterMetrics()
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	connections.WithLabelValues(result).Inc()
}

func SessionStarted() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionEnded() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordMessage(code, outcome string, duration time.Duration) {
	RegisterMetrics()
	messages.WithLabelValues(code, outcome).Inc()
	messageDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func RecordBackendCall(method string, duration time.Duration, success bool) {
	RegisterMetrics()
	backendCalls.WithLabelValues(method, strconv.FormatBool(success)).Inc()
	backendDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordPayment(outcome string) {
	RegisterMetrics()
	payments.WithLabelValues(outcome).Inc()
}

func RecordMonitorEvent(action string) {
	RegisterMetrics()
	monitorEvents.WithLabelValues(action).Inc()
}
