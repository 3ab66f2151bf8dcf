// Package discord delivers alerts as rich embeds through a bot session.
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"polywatch/clients/notifier"
	"polywatch/config"
	"polywatch/internal/model"
)

// Embed colors per classification band.
const (
	colorStrong = 0xE74C3C
	colorHigh   = 0xE67E22
	colorMedium = 0xF1C40F
	colorLog    = 0x95A5A6
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Channel.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// Name identifies the channel.
func (dc *DiscordClient) Name() string { return "discord" }

// SendAlert sends one alert as an embed.
// Implements notifier.Channel.
func (dc *DiscordClient) SendAlert(ctx context.Context, alert *model.Alert) error {
	if dc.session == nil {
		return fmt.Errorf("discord session not initialized")
	}

	embed := dc.buildAlertEmbed(alert)
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send embed: %w", err)
	}

	dc.logger.Info("sent discord alert",
		zap.String("alertId", alert.ID),
		zap.String("wallet", alert.WalletAddress),
		zap.String("classification", alert.Classification),
	)
	return nil
}

func (dc *DiscordClient) buildAlertEmbed(alert *model.Alert) *discordgo.MessageEmbed {
	color := colorLog
	switch alert.Classification {
	case model.ClassStrongInsider:
		color = colorStrong
	case model.ClassHighConfidence:
		color = colorHigh
	case model.ClassMediumConfidence:
		color = colorMedium
	}

	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == model.SideSell {
		sideEmoji = "🔴"
	}

	walletDisplay := fmt.Sprintf("[%s](%s)",
		notifier.ShortAddress(alert.WalletAddress),
		notifier.WalletURL(alert.WalletAddress))

	reasonsStr := "none"
	if reasons := notifier.Reasons(alert.Fingerprint); len(reasons) > 0 {
		reasonsStr = strings.Join(reasons, ", ")
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Wallet",
			Value:  walletDisplay,
			Inline: true,
		},
		{
			Name:   "Side",
			Value:  fmt.Sprintf("%s %s %s", sideEmoji, alert.Side, alert.Outcome),
			Inline: true,
		},
		{
			Name:   "Trade",
			Value:  fmt.Sprintf("$%.0f (%.2f @ $%.3f)", alert.TradeUSDValue, alert.Size, alert.Price),
			Inline: true,
		},
		{
			Name:   "Impact",
			Value:  fmt.Sprintf("%.1f%% of OI, ~%.1f%% price impact", alert.OIPercentage, alert.PriceImpact),
			Inline: true,
		},
		{
			Name: "Score",
			Value: fmt.Sprintf("%d (wallet %.0f / impact %.0f)",
				alert.Score.TotalScore, alert.Score.WalletContribution, alert.Score.ImpactContribution),
			Inline: true,
		},
		{
			Name:   "Data Confidence",
			Value:  fmt.Sprintf("%.0f (%s)", alert.ConfidenceScore, alert.Fingerprint.DataSource),
			Inline: true,
		},
		{
			Name:   "Wallet Flags",
			Value:  reasonsStr,
			Inline: false,
		},
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pst, _ := time.LoadLocation("America/Los_Angeles")
	footerText := fmt.Sprintf("polywatch * %s", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)"))

	return &discordgo.MessageEmbed{
		Title:       notifier.Title(alert),
		URL:         notifier.WalletURL(alert.WalletAddress),
		Description: fmt.Sprintf("Market `%s`", alert.MarketID),
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
