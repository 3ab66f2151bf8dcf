// Package notifier fans persisted alerts out to the configured
// channels. Channels fail independently; one broken transport never
// blocks the others.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"polywatch/internal/metrics"
	"polywatch/internal/model"
)

// Channel is one notification transport.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// SendAlert delivers one alert.
	SendAlert(ctx context.Context, alert *model.Alert) error

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to every registered channel.
type MultiNotifier struct {
	logger   *zap.Logger
	channels []Channel
}

// NewMultiNotifier creates a notifier over the given channels. Nil
// channels are dropped.
func NewMultiNotifier(logger *zap.Logger, channels ...Channel) *MultiNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	var active []Channel
	for _, c := range channels {
		if c != nil {
			active = append(active, c)
		}
	}
	return &MultiNotifier{logger: logger, channels: active}
}

// Notify sends the alert to every channel and reports whether any
// channel accepted it.
func (m *MultiNotifier) Notify(ctx context.Context, alert *model.Alert) bool {
	anySuccess := false
	for _, c := range m.channels {
		if err := c.SendAlert(ctx, alert); err != nil {
			metrics.NotificationFailures.WithLabelValues(c.Name()).Inc()
			m.logger.Error("notification send failed",
				zap.String("channel", c.Name()),
				zap.String("alertId", alert.ID),
				zap.Error(err),
			)
			continue
		}
		anySuccess = true
	}
	return anySuccess
}

// Close closes all registered channels.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, c := range m.channels {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active channels.
func (m *MultiNotifier) Count() int {
	return len(m.channels)
}

// Title renders the alert headline from its classification.
func Title(alert *model.Alert) string {
	switch alert.Classification {
	case model.ClassStrongInsider:
		return "🚨 Strong Insider Signal"
	case model.ClassHighConfidence:
		return "⚠️ High Confidence Alert"
	case model.ClassMediumConfidence:
		return "📊 Medium Confidence Alert"
	default:
		return "📝 Trade Alert"
	}
}

// Reasons lists the fingerprint flags that fired, in human terms.
func Reasons(fp model.WalletFingerprint) []string {
	var out []string
	if fp.Chain != nil {
		if fp.Chain.CEXFunded {
			out = append(out, "CEX funded")
		}
		if fp.Chain.LowTxCount {
			out = append(out, "low on-chain activity")
		}
		if fp.Chain.YoungWallet {
			out = append(out, "young wallet")
		}
		if fp.Chain.HighPolymarketNetflow {
			out = append(out, "funds flow straight to trading")
		}
		if fp.Chain.SinglePurpose {
			out = append(out, "single-purpose wallet")
		}
	}
	if fp.Subgraph.LowTradeCount {
		out = append(out, "low trade count")
	}
	if fp.Subgraph.YoungAccount {
		out = append(out, "young account")
	}
	if fp.Subgraph.LowVolume {
		out = append(out, "low lifetime volume")
	}
	if fp.Subgraph.HighConcentration {
		out = append(out, "concentrated positions")
	}
	if fp.Subgraph.FreshFatBet {
		out = append(out, "fresh wallet, outsized bet")
	}
	if fp.Subgraph.LowDiversification {
		out = append(out, "few markets traded")
	}
	return out
}

// ShortAddress renders a wallet address in 0x1234…abcd form.
func ShortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// WalletURL links to the wallet's public profile.
func WalletURL(addr string) string {
	return fmt.Sprintf("https://polymarket.com/profile/%s", strings.ToLower(addr))
}
