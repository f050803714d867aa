package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for runbox on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	GateChecksTotal   *prometheus.CounterVec

	PoolInFlight prometheus.Gauge
	PoolQueued   prometheus.Gauge

	SessionsCreatedTotal prometheus.Counter
	SessionsDeletedTotal prometheus.Counter
	SessionsSweptTotal   prometheus.Counter
	SweepFailuresTotal   prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Finished executions by outcome.",
		}, []string{"outcome"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from submission to result.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),

		GateChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "gate",
			Name:      "checks_total",
			Help:      "Safety gate verdicts by result.",
		}, []string{"result"}),

		PoolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "pool",
			Name:      "in_flight",
			Help:      "Workers currently holding a pool slot.",
		}),

		PoolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "pool",
			Name:      "queued",
			Help:      "Tasks waiting for a pool slot.",
		}),

		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created, explicitly or implicitly.",
		}),

		SessionsDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "sessions",
			Name:      "deleted_total",
			Help:      "Explicit session deletions.",
		}),

		SessionsSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Sessions removed by the janitor.",
		}),

		SweepFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "sessions",
			Name:      "sweep_failures_total",
			Help:      "Janitor sweeps that ended in an error.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.GateChecksTotal,
		m.PoolInFlight,
		m.PoolQueued,
		m.SessionsCreatedTotal,
		m.SessionsDeletedTotal,
		m.SessionsSweptTotal,
		m.SweepFailuresTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveSweep records one janitor pass. It matches session.Janitor.OnSweep.
func (m *Metrics) ObserveSweep(removed int, err error) {
	if m == nil {
		return
	}
	m.SessionsSweptTotal.Add(float64(removed))
	if err != nil {
		m.SweepFailuresTotal.Inc()
	}
}
