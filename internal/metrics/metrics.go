// Package metrics exposes the pipeline's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesAnalyzed counts trades that cleared the detector gate.
	TradesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polywatch_trades_analyzed_total",
		Help: "Trades that passed the signal gate and entered forensics.",
	})

	// TradesFiltered counts trades dropped by the detector, by reason.
	TradesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polywatch_trades_filtered_total",
		Help: "Trades dropped by the signal gate.",
	}, []string{"reason"})

	// AlertsPersisted counts alert rows written, by classification.
	AlertsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polywatch_alerts_persisted_total",
		Help: "Alerts written to the durable store.",
	}, []string{"classification"})

	// DedupSuppressed counts alerts suppressed by the dedup protocol.
	DedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polywatch_alerts_dedup_suppressed_total",
		Help: "Alerts suppressed by the lock or the 2h window query.",
	})

	// AdapterErrors counts data-source failures, by source.
	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polywatch_adapter_errors_total",
		Help: "Failed calls to an upstream data source.",
	}, []string{"source"})

	// WalletLookups counts forensics lookups by outcome.
	WalletLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polywatch_wallet_lookups_total",
		Help: "Wallet fingerprint lookups by outcome (cache_hit, computed, error).",
	}, []string{"outcome"})

	// NotificationFailures counts per-channel send failures.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polywatch_notification_failures_total",
		Help: "Alert notification failures by channel.",
	}, []string{"channel"})

	// QueueDepth tracks the orchestrator's input channel backlog.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polywatch_queue_depth",
		Help: "Trades waiting in the pipeline input queue.",
	})
)
