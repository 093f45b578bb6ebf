package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcilePassesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "reconcile_passes_total",
			Help:      "Total reconciliation passes.",
		},
		[]string{"trigger"}, // "ingest", "send", "history"
	)

	itemsDroppedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "items_dropped_total",
			Help:      "Raw transcript elements dropped as invalid.",
		},
	)

	fetchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "fetch_total",
			Help:      "Transcript page fetches by result.",
		},
		[]string{"result"}, // "success", "error", "stale", "locked"
	)

	sendCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transcript",
			Name:      "send_total",
			Help:      "Outgoing sends by result.",
		},
		[]string{"result"}, // "success", "failed", "offline"
	)

	reconcileDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "transcript",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	activeSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "transcript",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		},
	)
)
