// Package telegram delivers alerts through the bot sendMessage API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"polywatch/clients/notifier"
	"polywatch/config"
	"polywatch/internal/model"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Channel.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
	baseURL  string
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  telegramAPIURL,
	}
}

// Name identifies the channel.
func (tc *TelegramClient) Name() string { return "telegram" }

// SendAlert sends one alert as a Markdown message.
// Implements notifier.Channel.
func (tc *TelegramClient) SendAlert(ctx context.Context, alert *model.Alert) error {
	if tc.botToken == "" || tc.chatID == "" {
		return fmt.Errorf("telegram not configured")
	}

	if err := tc.sendMessage(ctx, tc.buildAlertMessage(alert)); err != nil {
		return err
	}

	tc.logger.Info("sent telegram alert",
		zap.String("alertId", alert.ID),
		zap.String("wallet", alert.WalletAddress),
		zap.String("classification", alert.Classification),
	)
	return nil
}

func (tc *TelegramClient) buildAlertMessage(alert *model.Alert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(notifier.Title(alert))))

	sb.WriteString(fmt.Sprintf("*Wallet:* [%s](%s)\n",
		escapeMarkdown(notifier.ShortAddress(alert.WalletAddress)),
		notifier.WalletURL(alert.WalletAddress)))
	sb.WriteString(fmt.Sprintf("*Market:* %s\n\n", escapeMarkdown(alert.MarketID)))

	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == model.SideSell {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Side:* %s %s %s\n", sideEmoji, alert.Side, escapeMarkdown(alert.Outcome)))
	sb.WriteString(fmt.Sprintf("*Trade:* $%.0f (%.2f @ $%.3f)\n", alert.TradeUSDValue, alert.Size, alert.Price))
	sb.WriteString(fmt.Sprintf("*Impact:* %.1f%% of OI, ~%.1f%% price impact\n\n", alert.OIPercentage, alert.PriceImpact))

	sb.WriteString(fmt.Sprintf("*Score:* %d (wallet %.0f / impact %.0f)\n",
		alert.Score.TotalScore, alert.Score.WalletContribution, alert.Score.ImpactContribution))
	sb.WriteString(fmt.Sprintf("*Data Confidence:* %.0f (%s)\n", alert.ConfidenceScore, alert.Fingerprint.DataSource))

	if reasons := notifier.Reasons(alert.Fingerprint); len(reasons) > 0 {
		sb.WriteString(fmt.Sprintf("*Flags:* %s\n", escapeMarkdown(strings.Join(reasons, ", "))))
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pst, _ := time.LoadLocation("America/Los_Angeles")
	sb.WriteString(fmt.Sprintf("\n_polywatch • %s_", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf(tc.baseURL, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Channel.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
