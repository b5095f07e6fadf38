package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaygate_orders_observed_total",
		Help: "Order events assembled by the watchers",
	}, []string{"domain", "kind"})

	WatcherDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaygate_watcher_dropped_total",
		Help: "Raw logs or groups discarded by the watchers",
	}, []string{"domain", "reason"})

	WatcherWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaygate_watcher_watermark",
		Help: "Last position processed per domain and event kind",
	}, []string{"domain", "kind"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaygate_fills_total",
		Help: "Fill attempts by outcome",
	}, []string{"domain", "result"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaygate_status_transitions_total",
		Help: "Order record status transitions",
	}, []string{"status"})

	SweepSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaygate_sweep_skips_total",
		Help: "Orders skipped by a sweep, by reason",
	}, []string{"sweep", "reason"})

	TaskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaygate_task_duration_seconds",
		Help:    "Duration of scheduled task ticks",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	ConfirmationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaygate_confirmation_seconds",
		Help:    "Time spent waiting for transaction confirmation",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
	}, []string{"domain"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaygate_http_latency_seconds",
		Help:    "Ops API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
