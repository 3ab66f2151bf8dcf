package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Signal detector thresholds
	Detector DetectorConfig `json:"detector"`

	// Wallet forensics thresholds
	Forensics ForensicsConfig `json:"forensics"`

	// Alert scoring thresholds
	Scoring ScoringConfig `json:"scoring"`

	// Pipeline worker pool
	Pipeline PipelineConfig `json:"pipeline"`

	// Upstream API endpoints
	Upstream UpstreamConfig `json:"upstream"`

	// Durable store + cache
	Store StoreConfig `json:"store"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Market refresh
	Markets MarketsConfig `json:"markets"`
}

// DetectorConfig holds the per-trade gate thresholds.
type DetectorConfig struct {
	MinOIPercentage         float64 `json:"min_oi_percentage"`         // Minimum % of open interest a trade must represent
	MinPriceImpact          float64 `json:"min_price_impact"`          // Minimum estimated price impact %
	AbsoluteMinUSD          float64 `json:"absolute_min_usd"`          // Ceiling of the market-aware minimum
	RelativeLiquidityFactor float64 `json:"relative_liquidity_factor"` // Fraction of liquidity that forms the floor in thin markets
}

// ForensicsConfig holds wallet fingerprint flag thresholds.
type ForensicsConfig struct {
	LowTradeCount         int           `json:"low_trade_count"`
	YoungAccountDays      float64       `json:"young_account_days"`
	LowVolumeUSD          float64       `json:"low_volume_usd"`
	HighConcentrationPct  float64       `json:"high_concentration_pct"`
	FreshFatBetMaxTrades  int           `json:"fresh_fat_bet_max_trades"`
	FreshFatBetMinSizeUSD float64       `json:"fresh_fat_bet_min_size_usd"`
	FreshFatBetMaxOI      float64       `json:"fresh_fat_bet_max_oi"`
	LowDiversification    int           `json:"low_diversification"`
	CacheTTL              time.Duration `json:"cache_ttl"`
	IndexerRPS            float64       `json:"indexer_rps"`
}

// ScoringConfig holds alert score thresholds.
type ScoringConfig struct {
	MinConfidenceScore float64 `json:"min_confidence_score"` // Fingerprint confidence required for notification dispatch
	MinWalletScore     float64 `json:"min_wallet_score"`     // Total score required to persist an alert
}

// PipelineConfig holds orchestrator sizing.
type PipelineConfig struct {
	WorkerCount   int `json:"worker_count"`
	QueueCapacity int `json:"queue_capacity"`
}

// UpstreamConfig holds upstream API endpoints.
type UpstreamConfig struct {
	DataAPIURL  string `json:"data_api_url"`
	GammaAPIURL string `json:"gamma_api_url"`
	SubgraphURL string `json:"subgraph_url"`
	MarketWSURL string `json:"market_ws_url"`
}

// StoreConfig holds Postgres and Redis settings.
type StoreConfig struct {
	DatabaseURL        string        `json:"-"` // Excluded - env var only
	RedisAddr          string        `json:"redis_addr"`
	RedisPassword      string        `json:"-"` // Excluded - env var only
	TradeRetentionDays int           `json:"trade_retention_days"`
	RetentionInterval  time.Duration `json:"retention_interval"`
	HealthInterval     time.Duration `json:"health_interval"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// MarketsConfig holds market refresh configuration.
type MarketsConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
	EventSlugs      []string      `json:"event_slugs"` // Gamma event slugs to keep refreshed
	UseWebSocket    bool          `json:"use_websocket"`
	PollInterval    time.Duration `json:"poll_interval"` // Polling feed interval when websocket is off
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Markets.EventSlugs != nil {
		clone.Markets.EventSlugs = make([]string, len(c.Markets.EventSlugs))
		copy(clone.Markets.EventSlugs, c.Markets.EventSlugs)
	}
	return &clone
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Detector: DetectorConfig{
			MinOIPercentage:         20.0,
			MinPriceImpact:          20.0,
			AbsoluteMinUSD:          5000.0,
			RelativeLiquidityFactor: 0.5,
		},
		Forensics: ForensicsConfig{
			LowTradeCount:         10,
			YoungAccountDays:      30,
			LowVolumeUSD:          50000.0,
			HighConcentrationPct:  70.0,
			FreshFatBetMaxTrades:  2,
			FreshFatBetMinSizeUSD: 20000.0,
			FreshFatBetMaxOI:      500000.0,
			LowDiversification:    3,
			CacheTTL:              48 * time.Hour,
			IndexerRPS:            10.0,
		},
		Scoring: ScoringConfig{
			MinConfidenceScore: 75.0,
			MinWalletScore:     70.0,
		},
		Pipeline: PipelineConfig{
			WorkerCount:   8,
			QueueCapacity: 256,
		},
		Upstream: UpstreamConfig{
			DataAPIURL:  "https://data-api.polymarket.com",
			GammaAPIURL: "https://gamma-api.polymarket.com",
			SubgraphURL: "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/polymarket-orderbook-resync/prod/gn",
			MarketWSURL: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Store: StoreConfig{
			RedisAddr:          "localhost:6379",
			TradeRetentionDays: 7,
			RetentionInterval:  24 * time.Hour,
			HealthInterval:     30 * time.Second,
		},
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		Markets: MarketsConfig{
			RefreshInterval: 1 * time.Minute,
			UseWebSocket:    true,
			PollInterval:    10 * time.Second,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Detector: DetectorConfig{
			MinOIPercentage:         envFloat("MIN_OI_PERCENTAGE", 20.0),
			MinPriceImpact:          envFloat("MIN_PRICE_IMPACT", 20.0),
			AbsoluteMinUSD:          envFloat("ABSOLUTE_MIN_USD", 5000.0),
			RelativeLiquidityFactor: envFloat("RELATIVE_LIQUIDITY_FACTOR", 0.5),
		},

		Forensics: ForensicsConfig{
			LowTradeCount:         envInt("SUBGRAPH_LOW_TRADE_COUNT", 10),
			YoungAccountDays:      envFloat("SUBGRAPH_YOUNG_ACCOUNT_DAYS", 30),
			LowVolumeUSD:          envFloat("SUBGRAPH_LOW_VOLUME_USD", 50000.0),
			HighConcentrationPct:  envFloat("SUBGRAPH_HIGH_CONCENTRATION_PCT", 70.0),
			FreshFatBetMaxTrades:  envInt("SUBGRAPH_FRESH_FAT_BET_PRIOR_TRADES", 2),
			FreshFatBetMinSizeUSD: envFloat("SUBGRAPH_FRESH_FAT_BET_SIZE_USD", 20000.0),
			FreshFatBetMaxOI:      envFloat("SUBGRAPH_FRESH_FAT_BET_MAX_OI", 500000.0),
			LowDiversification:    envInt("SUBGRAPH_LOW_DIVERSIFICATION", 3),
			CacheTTL:              time.Duration(envInt("SUBGRAPH_CACHE_TTL_HOURS", 48)) * time.Hour,
			IndexerRPS:            envFloat("SUBGRAPH_RPS", 10.0),
		},

		Scoring: ScoringConfig{
			MinConfidenceScore: envFloat("MIN_CONFIDENCE_SCORE", 75.0),
			MinWalletScore:     envFloat("MIN_WALLET_SCORE", 70.0),
		},

		Pipeline: PipelineConfig{
			WorkerCount:   envInt("WORKER_COUNT", 8),
			QueueCapacity: envInt("QUEUE_CAPACITY", 256),
		},

		Upstream: UpstreamConfig{
			DataAPIURL:  envString("DATA_API_URL", "https://data-api.polymarket.com"),
			GammaAPIURL: envString("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
			SubgraphURL: envString("SUBGRAPH_URL", "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/polymarket-orderbook-resync/prod/gn"),
			MarketWSURL: envString("MARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		},

		Store: StoreConfig{
			DatabaseURL:        envString("DATABASE_URL", ""),
			RedisAddr:          envString("REDIS_ADDR", "localhost:6379"),
			RedisPassword:      envString("REDIS_PASSWORD", ""),
			TradeRetentionDays: envInt("TRADE_RETENTION_DAYS", 7),
			RetentionInterval:  envDuration("RETENTION_INTERVAL", 24*time.Hour),
			HealthInterval:     envDuration("HEALTH_INTERVAL", 30*time.Second),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Markets: MarketsConfig{
			RefreshInterval: envDuration("MARKET_REFRESH_INTERVAL", 1*time.Minute),
			EventSlugs:      envStringSlice("MARKET_EVENT_SLUGS"),
			UseWebSocket:    envBoolDefault("USE_WEBSOCKET", true),
			PollInterval:    envDuration("TRADE_POLL_INTERVAL", 10*time.Second),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
