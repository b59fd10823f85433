package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Reconciliation metrics
	ReconcileRuns       *prometheus.CounterVec
	ReconcileDuration   prometheus.Histogram
	NewPurchases        *prometheus.CounterVec
	VerificationDropped prometheus.Counter
	UnknownProducts     prometheus.Counter

	// Consumable metrics
	ConsumeRequests *prometheus.CounterVec
	BalanceMerges   *prometheus.CounterVec

	// Connection supervisor metrics
	ConnectionRetries  prometheus.Counter
	ConnectionResets   prometheus.Counter
	ConnectionGiveUps  prometheus.Counter
	QueuedTaskFlushes  *prometheus.CounterVec

	// Throttle metrics
	ThrottleSkips     prometheus.Counter
	ServerQueries     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Total reconciliation runs by outcome",
			},
			[]string{"outcome"}, // new_purchases, server_refresh, noop, error
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Reconciliation run duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		NewPurchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_purchases_total",
				Help:      "Verified new purchases promoted into the cache, by product",
			},
			[]string{"product"},
		),
		VerificationDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_dropped_total",
				Help:      "Purchases dropped for failing signature verification",
			},
		),
		UnknownProducts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_products_total",
				Help:      "Purchases for products absent from the catalog",
			},
		),
		ConsumeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consume_requests_total",
				Help:      "Consume requests sent to the billing service, by product",
			},
			[]string{"product"},
		),
		BalanceMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_merges_total",
				Help:      "Acknowledged consumable purchases merged into a balance, by product",
			},
			[]string{"product"},
		),
		ConnectionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_retries_total",
				Help:      "Billing connection retry attempts scheduled",
			},
		),
		ConnectionResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_resets_total",
				Help:      "Retry counter resets after a confirmed connection",
			},
		),
		ConnectionGiveUps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_give_ups_total",
				Help:      "Times the retry policy hit its attempt cap and stopped",
			},
		),
		QueuedTaskFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queued_task_flushes_total",
				Help:      "Queued tasks released, by trigger (connected, fallback)",
			},
			[]string{"trigger"},
		),
		ThrottleSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_skips_total",
				Help:      "Server queries skipped because the throttle mark was fresh",
			},
		),
		ServerQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_queries_total",
				Help:      "Verification server calls, by operation and status",
			},
			[]string{"operation", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.ReconcileRuns, m.ReconcileDuration, m.NewPurchases,
		m.VerificationDropped, m.UnknownProducts,
		m.ConsumeRequests, m.BalanceMerges,
		m.ConnectionRetries, m.ConnectionResets, m.ConnectionGiveUps, m.QueuedTaskFlushes,
		m.ThrottleSkips, m.ServerQueries,
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
	)

	return m
}
