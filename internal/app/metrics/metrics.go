package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "frog",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frog",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "frog",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "path"},
	)

	authorizationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frog",
			Subsystem: "payments",
			Name:      "authorization_decisions_total",
			Help:      "Card authorization decisions by outcome and reason.",
		},
		[]string{"approved", "reason"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frog",
			Subsystem: "payments",
			Name:      "settlements_total",
			Help:      "Payment settlement attempts by result.",
		},
		[]string{"result"},
	)

	chainTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frog",
			Subsystem: "chain",
			Name:      "transactions_total",
			Help:      "Executor transactions by method and status.",
		},
		[]string{"method", "status"},
	)

	chainTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "frog",
			Subsystem: "chain",
			Name:      "transaction_duration_seconds",
			Help:      "Time from submission to mined receipt.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4m
		},
		[]string{"method"},
	)

	settlementQueue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "frog",
			Subsystem: "settlement",
			Name:      "tasks",
			Help:      "Settlement tasks by status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		authorizationDecisions,
		settlements,
		chainTransactions,
		chainTxDuration,
		settlementQueue,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track concurrently served requests.
func IncInFlight() { httpInFlight.Inc() }

func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one served request. path should be a route
// template so label cardinality stays bounded.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAuthorization records a card authorization decision.
func RecordAuthorization(approved bool, reason string) {
	if reason == "" {
		reason = "none"
	}
	authorizationDecisions.WithLabelValues(strconv.FormatBool(approved), reason).Inc()
}

// RecordSettlement records the outcome of a settlement attempt.
func RecordSettlement(result string) {
	settlements.WithLabelValues(result).Inc()
}

// RecordChainTransaction records an executor transaction.
func RecordChainTransaction(method string, success bool, duration time.Duration) {
	status := "mined"
	if !success {
		status = "failed"
	}
	chainTransactions.WithLabelValues(method, status).Inc()
	if duration > 0 {
		chainTxDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// SetSettlementQueue publishes task counts per status.
func SetSettlementQueue(counts map[string]int) {
	for status, n := range counts {
		settlementQueue.WithLabelValues(status).Set(float64(n))
	}
}
