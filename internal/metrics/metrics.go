// Package metrics registers the Prometheus collectors for viewing-integrity tracking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_sessions_created_total",
		Help: "Viewing sessions created",
	})

	ConcurrentSessionsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_concurrent_sessions_detected_total",
		Help: "Session starts that found other active sessions for the same user and lesson",
	})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_sessions_reaped_total",
		Help: "Sessions deactivated by the inactivity sweep",
	})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_events_ingested_total",
		Help: "Viewing events persisted, by event type",
	}, []string{"event_type"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracking_batch_duration_seconds",
		Help:    "Time to validate, persist and recompute progress for one event batch",
		Buckets: prometheus.DefBuckets,
	})

	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracking_fraud_risk_score",
		Help:    "Comprehensive fraud risk score per batch",
		Buckets: []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	FraudCheckFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_fraud_check_failures_total",
		Help: "Fraud checks that could not read supporting data",
	})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_security_alerts_total",
		Help: "Security alerts raised, by severity",
	}, []string{"severity"})

	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_alert_deliveries_total",
		Help: "Alert e-mail deliveries, by outcome",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_cache_hits_total",
		Help: "In-process cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_cache_misses_total",
		Help: "In-process cache misses",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_cache_entries",
		Help: "Live entries in the in-process cache",
	})
)
