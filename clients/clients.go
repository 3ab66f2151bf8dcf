// Package clients bundles every outbound client the service uses.
package clients

import (
	"go.uber.org/zap"

	"polywatch/clients/dataapi"
	"polywatch/clients/discord"
	"polywatch/clients/gammaapi"
	"polywatch/clients/marketws"
	"polywatch/clients/notifier"
	"polywatch/clients/subgraph"
	"polywatch/clients/telegram"
	"polywatch/config"
	"polywatch/internal/resilience"
)

type Clients struct {
	Logger   *zap.Logger
	Breakers *resilience.BreakerManager

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier *notifier.MultiNotifier

	Data     *dataapi.Client
	Gamma    *gammaapi.Client
	Subgraph *subgraph.Client

	// MarketWS is nil when the websocket feed is disabled.
	MarketWS *marketws.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config, breakers *resilience.BreakerManager) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	c := &Clients{
		Logger:   logger,
		Breakers: breakers,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: notifier.NewMultiNotifier(logger, discordClient, telegramClient),
		Data:     dataapi.NewClient(logger, cfg.Upstream.DataAPIURL, breakers),
		Gamma:    gammaapi.NewClient(logger, cfg.Upstream.GammaAPIURL),
		Subgraph: subgraph.NewClient(logger, cfg.Upstream.SubgraphURL, cfg.Forensics.IndexerRPS, breakers),
	}

	if cfg.Markets.UseWebSocket {
		c.MarketWS = marketws.NewClient(logger, cfg.Upstream.MarketWSURL)
	}

	return c
}

// Close releases every client that holds a connection.
func (c *Clients) Close() {
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil {
			c.Logger.Warn("notifier close failed", zap.Error(err))
		}
	}
	if c.MarketWS != nil {
		_ = c.MarketWS.Close()
	}
}
