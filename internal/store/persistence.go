package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polywatch/config"
	"polywatch/internal/metrics"
	"polywatch/internal/model"
)

// dedupWindow is how long a (wallet, market) pair stays quiet after an
// alert, unless a reviewer dismissed the earlier one.
const dedupWindow = 2 * time.Hour

// AlertStore is the durable alert surface the writer needs.
type AlertStore interface {
	Insert(ctx context.Context, a *model.Alert) error
	HasRecentNonDismissed(ctx context.Context, wallet, marketID string, window time.Duration) (bool, error)
	MarkNotified(ctx context.Context, id string) error
}

// AlertLocker serializes concurrent alert attempts for one
// (wallet, market) pair.
type AlertLocker interface {
	AcquireAlertLock(ctx context.Context, wallet, marketID string) (bool, error)
	ReleaseAlertLock(ctx context.Context, wallet, marketID string)
}

// Notifier fans an alert out to the configured channels and reports
// whether any channel accepted it.
type Notifier interface {
	Notify(ctx context.Context, alert *model.Alert) bool
}

// AlertWriter persists alerts behind the dedup guard and dispatches
// notifications for the ones that clear the confidence gate.
type AlertWriter struct {
	logger   *zap.Logger
	cfg      *config.LiveConfig
	alerts   AlertStore
	locker   AlertLocker
	notifier Notifier
}

// NewAlertWriter creates a writer. locker and notifier may be nil.
func NewAlertWriter(logger *zap.Logger, cfg *config.LiveConfig, alerts AlertStore, locker AlertLocker, notifier Notifier) *AlertWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertWriter{
		logger:   logger,
		cfg:      cfg,
		alerts:   alerts,
		locker:   locker,
		notifier: notifier,
	}
}

// Persist runs the dedup protocol and writes the alert. It returns
// false without error when the alert was suppressed as a duplicate.
// Notification failures never unwind the write.
func (w *AlertWriter) Persist(ctx context.Context, alert *model.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	if w.locker != nil {
		locked, err := w.locker.AcquireAlertLock(ctx, alert.WalletAddress, alert.MarketID)
		if err != nil {
			// Lock service down: the window query and the unique
			// constraint still hold the line.
			w.logger.Warn("alert lock unavailable, proceeding without it",
				zap.String("wallet", alert.WalletAddress), zap.Error(err))
		} else if !locked {
			w.suppress(alert, "lock held")
			return false, nil
		} else {
			defer w.locker.ReleaseAlertLock(ctx, alert.WalletAddress, alert.MarketID)
		}
	}

	recent, err := w.alerts.HasRecentNonDismissed(ctx, alert.WalletAddress, alert.MarketID, dedupWindow)
	if err != nil {
		return false, err
	}
	if recent {
		w.suppress(alert, "recent alert in window")
		return false, nil
	}

	if err := w.alerts.Insert(ctx, alert); err != nil {
		if errors.Is(err, ErrDuplicateAlert) {
			w.suppress(alert, "duplicate trade id")
			return false, nil
		}
		return false, err
	}

	metrics.AlertsPersisted.WithLabelValues(alert.Classification).Inc()
	w.logger.Info("alert persisted",
		zap.String("alertId", alert.ID),
		zap.String("wallet", alert.WalletAddress),
		zap.String("marketId", alert.MarketID),
		zap.Int("score", alert.Score.TotalScore),
		zap.String("classification", alert.Classification),
	)

	if w.shouldNotify(alert) && w.notifier != nil {
		if w.notifier.Notify(ctx, alert) {
			if err := w.alerts.MarkNotified(ctx, alert.ID); err != nil {
				w.logger.Warn("mark notified failed", zap.String("alertId", alert.ID), zap.Error(err))
			}
		} else {
			w.logger.Warn("no notification channel accepted alert", zap.String("alertId", alert.ID))
		}
	}

	return true, nil
}

// shouldNotify gates dispatch on fingerprint confidence, with a bypass
// for the strongest classification.
func (w *AlertWriter) shouldNotify(alert *model.Alert) bool {
	if alert.Classification == model.ClassStrongInsider {
		return true
	}
	min := w.cfg.GetDirect().Scoring.MinConfidenceScore
	return alert.ConfidenceScore >= min
}

func (w *AlertWriter) suppress(alert *model.Alert, reason string) {
	metrics.DedupSuppressed.Inc()
	w.logger.Info("alert suppressed",
		zap.String("wallet", alert.WalletAddress),
		zap.String("marketId", alert.MarketID),
		zap.String("reason", reason),
	)
}
