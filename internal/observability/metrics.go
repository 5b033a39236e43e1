// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Chain metrics
	QuoteCalls   *prometheus.CounterVec
	QuoteLatency prometheus.Histogram
	RPCLatency   *prometheus.HistogramVec

	// Solver metrics
	SolverRuns       *prometheus.CounterVec
	SolverQuoteCalls prometheus.Histogram

	// Strategy metrics
	Decisions        *prometheus.CounterVec
	EvaluationErrors *prometheus.CounterVec
	StrategyStops    prometheus.Counter

	// Allocation metrics
	Recommendations *prometheus.CounterVec

	// Storage metrics
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec

	// Scheduler metrics
	JobRuns *prometheus.CounterVec

	// Stream metrics
	EventsDropped *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dca_bot"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QuoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "quote_calls_total",
			Help:      "Total number of QuoterV2 simulations by result",
		}, []string{"result"}),
		QuoteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "quote_latency_seconds",
			Help:      "QuoterV2 simulation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Contract read latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		SolverRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "runs_total",
			Help:      "Total number of price target solves by path and status",
		}, []string{"path", "status"}),
		SolverQuoteCalls: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "quote_calls_per_run",
			Help:      "Quote calls issued by a single solve",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dca",
			Name:      "decisions_total",
			Help:      "Total number of DCA evaluations by version and action",
		}, []string{"version", "action"}),
		EvaluationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dca",
			Name:      "evaluation_errors_total",
			Help:      "Total number of failed DCA evaluations by reason",
		}, []string{"reason"}),
		StrategyStops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dca",
			Name:      "stops_total",
			Help:      "Total number of strategies halted by capital exhaustion",
		}),

		Recommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "recommendations_total",
			Help:      "Total number of allocation recommendations by status",
		}, []string{"status"}),

		StoreDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_errors_total",
			Help:      "Total number of failed store operations",
		}, []string{"backend", "operation"}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by job and status",
		}, []string{"job", "status"}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Decision events dropped for slow subscribers",
		}, []string{"topic"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultMetrics.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordQuote records one quote simulation.
func RecordQuote(seconds float64, err error) {
	DefaultMetrics.QuoteCalls.WithLabelValues(status(err)).Inc()
	DefaultMetrics.QuoteLatency.Observe(seconds)
}

// RecordRPCLatency records contract read latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCLatency.WithLabelValues(method).Observe(seconds)
}

// RecordSolve records a finished solve.
func RecordSolve(path string, quoteCalls int, err error) {
	DefaultMetrics.SolverRuns.WithLabelValues(path, status(err)).Inc()
	DefaultMetrics.SolverQuoteCalls.Observe(float64(quoteCalls))
}

// RecordDecision records a DCA evaluation outcome.
func RecordDecision(version, action string, stopped bool) {
	DefaultMetrics.Decisions.WithLabelValues(version, action).Inc()
	if stopped {
		DefaultMetrics.StrategyStops.Inc()
	}
}

// RecordEvaluationError records a failed evaluation.
func RecordEvaluationError(reason string) {
	DefaultMetrics.EvaluationErrors.WithLabelValues(reason).Inc()
}

// RecordRecommendation records an allocation recommendation.
func RecordRecommendation(status string) {
	DefaultMetrics.Recommendations.WithLabelValues(status).Inc()
}

// RecordStoreOp records store operation metrics.
func RecordStoreOp(backend, operation string, seconds float64, err error) {
	DefaultMetrics.StoreDuration.WithLabelValues(backend, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordJobRun records a scheduler job run.
func RecordJobRun(job string, err error) {
	DefaultMetrics.JobRuns.WithLabelValues(job, status(err)).Inc()
}

// RecordEventDropped records an event a subscriber was too slow to take.
func RecordEventDropped(topic string) {
	DefaultMetrics.EventsDropped.WithLabelValues(topic).Inc()
}
