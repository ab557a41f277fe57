package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Connections tracked by the store pool by state",
	}, []string{"state"})

	PoolAcquireWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a pooled connection",
		Buckets: prometheus.DefBuckets,
	})

	PoolExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_pool_exhausted_total",
		Help: "Acquire calls that timed out on a full pool",
	})

	PoolEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_pool_evictions_total",
		Help: "Connections closed by the idle sweep or failed validation",
	})

	LockAcquireLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "named_lock_acquire_seconds",
		Help:    "Latency of named lock acquisition",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	LockFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "named_lock_failures_total",
		Help: "Named lock acquisitions that timed out or errored",
	}, []string{"backend"})

	StockUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_updates_total",
		Help: "Stock updates by operation and result",
	}, []string{"operation", "result"})

	StockAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_alerts_total",
		Help: "Stock threshold alerts raised",
	}, []string{"severity"})

	RestockRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restock_requests_total",
		Help: "Restock requests upserted",
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	}, []string{"gateway"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Refund attempts by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// ErrorReason turns an error code into a low-cardinality metric label
func ErrorReason(code string) string {
	if code == "" {
		return "internal"
	}
	return code
}
