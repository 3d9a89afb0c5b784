// Package metrics exposes prometheus instruments for the distribution service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "distribution"

// Outcome labels shared by the counters below.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
	OutcomeRejected = "rejected"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	records        *prometheus.CounterVec
	amountMinor    *prometheus.CounterVec
	binds          *prometheus.CounterVec
	statsJobs      *prometheus.CounterVec
	statsDuration  prometheus.Histogram
	reconciled     prometheus.Counter
	promotions     *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	notifyFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Distribution record transitions by type and resulting status",
		}, []string{"type", "status"}),
		amountMinor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_movement_minor_total",
			Help:      "Absolute wallet movement in minor units by line kind",
		}, []string{"kind"}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_attempts_total",
			Help:      "Bind attempts by outcome",
		}, []string{"outcome"}),
		statsJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_jobs_total",
			Help:      "Team statistics jobs by outcome",
		}, []string{"outcome"}),
		statsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_job_duration_seconds",
			Help:      "Time spent propagating team statistics, retries included",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_nodes_total",
			Help:      "Nodes whose statistics or path were corrected by reconciliation",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Promotion engine actions",
		}, []string{"action"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admin_rpc_duration_seconds",
			Help:      "Admin gRPC handling time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications the notifier failed to accept",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.records,
		m.amountMinor,
		m.binds,
		m.statsJobs,
		m.statsDuration,
		m.reconciled,
		m.promotions,
		m.rpcDuration,
		m.notifyFailures,
	)
	return m
}

// Registry is exposed for tests and for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordTransition(recordType, status string) {
	m.records.WithLabelValues(recordType, status).Inc()
}

// WalletMovement counts the absolute value of a wallet line.
func (m *Metrics) WalletMovement(kind string, amountMinor int64) {
	if amountMinor < 0 {
		amountMinor = -amountMinor
	}
	m.amountMinor.WithLabelValues(kind).Add(float64(amountMinor))
}

func (m *Metrics) BindAttempt(outcome string) {
	m.binds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StatsJob(outcome string, took time.Duration) {
	m.statsJobs.WithLabelValues(outcome).Inc()
	if outcome != OutcomeDropped {
		m.statsDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Reconciled(n int) {
	m.reconciled.Add(float64(n))
}

func (m *Metrics) Promotion(action string) {
	m.promotions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveRPC(method, code string, took time.Duration) {
	m.rpcDuration.WithLabelValues(method, code).Observe(took.Seconds())
}

func (m *Metrics) NotificationFailed() {
	m.notifyFailures.Inc()
}
