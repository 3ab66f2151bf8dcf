package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"polywatch/config"
	"polywatch/internal/resilience"
)

// HealthSink publishes the health snapshot. Optional.
type HealthSink interface {
	WriteHealth(ctx context.Context, snapshot any) error
}

// TradePruner deletes raw trades past the retention window.
type TradePruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertPruner deletes dismissed alerts past the retention window.
// Optional.
type AlertPruner interface {
	PruneDismissedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// HealthSnapshot is the periodically published service state.
type HealthSnapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	QueueDepth    int               `json:"queueDepth"`
	Markets       int               `json:"markets"`
	Breakers      map[string]string `json:"breakers"`
	FeedMessages  uint64            `json:"feedMessages"`
	FeedLastAt    string            `json:"feedLastAt,omitempty"`
	WalletStats   map[string]int64  `json:"walletStats,omitempty"`
}

// HealthReporter writes the snapshot on an interval.
type HealthReporter struct {
	logger   *zap.Logger
	cfg      *config.LiveConfig
	sink     HealthSink
	breakers *resilience.BreakerManager
	snapshot func() HealthSnapshot
	stats    func(ctx context.Context) map[string]int64
	started  time.Time
}

// NewHealthReporter creates a reporter. snapshot fills the dynamic
// fields; the reporter adds uptime, time, breaker states, and the
// wallet stat counters. stats may be nil.
func NewHealthReporter(logger *zap.Logger, cfg *config.LiveConfig, sink HealthSink, breakers *resilience.BreakerManager, snapshot func() HealthSnapshot, stats func(ctx context.Context) map[string]int64) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthReporter{
		logger:   logger,
		cfg:      cfg,
		sink:     sink,
		breakers: breakers,
		snapshot: snapshot,
		stats:    stats,
		started:  time.Now(),
	}
}

// Run publishes until ctx is done.
func (h *HealthReporter) Run(ctx context.Context) {
	interval := h.cfg.GetDirect().Store.HealthInterval
	runOnInterval(ctx, interval, func() {
		h.publish(ctx)
	})
}

func (h *HealthReporter) publish(ctx context.Context) {
	snap := h.snapshot()
	snap.Timestamp = time.Now().UTC()
	snap.UptimeSeconds = int64(time.Since(h.started).Seconds())
	if h.breakers != nil {
		snap.Breakers = h.breakers.States()
	}
	if h.stats != nil {
		snap.WalletStats = h.stats(ctx)
	}

	if err := h.sink.WriteHealth(ctx, snap); err != nil {
		h.logger.Warn("health publish failed", zap.Error(err))
	}
}

// RetentionSweeper prunes the raw trade log and old dismissed alerts on
// an interval.
type RetentionSweeper struct {
	logger *zap.Logger
	cfg    *config.LiveConfig
	trades TradePruner
	alerts AlertPruner
}

// NewRetentionSweeper creates a sweeper. alerts may be nil.
func NewRetentionSweeper(logger *zap.Logger, cfg *config.LiveConfig, trades TradePruner, alerts AlertPruner) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionSweeper{logger: logger, cfg: cfg, trades: trades, alerts: alerts}
}

// Run sweeps until ctx is done.
func (s *RetentionSweeper) Run(ctx context.Context) {
	interval := s.cfg.GetDirect().Store.RetentionInterval
	runOnInterval(ctx, interval, func() {
		s.SweepOnce(ctx)
	})
}

// SweepOnce deletes trades older than the retention window.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) {
	days := s.cfg.GetDirect().Store.TradeRetentionDays
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	n, err := s.trades.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("trade retention sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("trade retention sweep", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}

	if s.alerts == nil {
		return
	}
	n, err = s.alerts.PruneDismissedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("alert retention sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("alert retention sweep", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
}
