// Package model holds the plain records shared across the pipeline.
// Services pass these by value (or as immutable snapshots); nothing in
// this package talks to the network or the database.
package model

import "time"

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Market tiers.
const (
	TierMajor = 1
	TierMid   = 2
	TierLong  = 3
)

// Market categories.
const (
	CategoryPolitics  = "politics"
	CategoryCorporate = "corporate"
	CategorySports    = "sports"
	CategoryMisc      = "misc"
)

// Market is a monitored market's registry entry.
type Market struct {
	ID           string  `db:"id" json:"id"`
	ConditionID  string  `db:"condition_id" json:"conditionId"`
	Question     string  `db:"question" json:"question"`
	Slug         string  `db:"slug" json:"slug"`
	Tier         int     `db:"tier" json:"tier"`
	Category     string  `db:"category" json:"category"`
	OpenInterest float64 `db:"open_interest" json:"openInterest"`
	Volume       float64 `db:"volume" json:"volume"`
	Enabled      bool    `db:"enabled" json:"enabled"`
	Active       bool    `db:"active" json:"active"`
	Closed       bool    `db:"closed" json:"closed"`
}

// Analyzable reports whether the detector should consider trades on this
// market at all.
func (m *Market) Analyzable() bool {
	return m.Enabled && m.Active && !m.Closed
}

// Trade is a single fill as delivered by the feed.
type Trade struct {
	ID        string  `db:"id" json:"id"`
	MarketID  string  `db:"market_id" json:"marketId"`
	Side      string  `db:"side" json:"side"`
	Size      float64 `db:"size" json:"size"`
	Price     float64 `db:"price" json:"price"`
	Outcome   string  `db:"outcome" json:"outcome"`
	Maker     string  `db:"maker" json:"maker"`
	Taker     string  `db:"taker" json:"taker"`
	Timestamp int64   `db:"ts" json:"timestamp"` // unix millis
}

// USDValue is the trade notional in USD.
func (t *Trade) USDValue() float64 {
	return t.Size * t.Price
}

// TradeSignal is emitted by the detector for trades that clear both gates.
type TradeSignal struct {
	MarketID      string  `json:"marketId"`
	TradeUSDValue float64 `json:"tradeUsdValue"`
	OIPercentage  float64 `json:"oiPercentage"`
	PriceImpact   float64 `json:"priceImpact"`
	OpenInterest  float64 `json:"openInterest"`
}

// Data sources a normalized wallet record can come from.
const (
	SourceIndexer  = "indexer"
	SourcePlatform = "platform"
	SourceCombined = "combined"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Confidence scores how trustworthy a derived record is, with reasons
// for every deduction.
type Confidence struct {
	Level   string   `json:"level"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// ConfidenceLevelFor maps a 0-100 score to its band.
func ConfidenceLevelFor(score float64) string {
	switch {
	case score >= 80:
		return ConfidenceHigh
	case score >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// NormalizedWallet is the source-independent shape both adapters
// normalize into.
type NormalizedWallet struct {
	Address             string     `json:"address"`
	TradeCount          int        `json:"tradeCount"`
	VolumeUSD           float64    `json:"volumeUsd"`
	AccountAgeDays      float64    `json:"accountAgeDays"`
	FirstTradeTimestamp int64      `json:"firstTradeTimestamp"` // unix millis, 0 = unknown
	LastTradeTimestamp  int64      `json:"lastTradeTimestamp"`
	WinRate             *float64   `json:"winRate,omitempty"`
	PnL                 *float64   `json:"pnl,omitempty"`
	MarketsTraded       int        `json:"marketsTraded"`
	MaxPositionPct      float64    `json:"maxPositionPct"` // largest position's share of total exposure
	DataSource          string     `json:"dataSource"`
	Confidence          Confidence `json:"confidence"`
	Warnings            []string   `json:"warnings,omitempty"`
}

// ChainFlags are derived from raw on-chain history. The whole set is
// nil on a fingerprint when only indexed data was available.
type ChainFlags struct {
	CEXFunded             bool `json:"cexFunded"`
	LowTxCount            bool `json:"lowTxCount"`
	YoungWallet           bool `json:"youngWallet"`
	HighPolymarketNetflow bool `json:"highPolymarketNetflow"`
	SinglePurpose         bool `json:"singlePurpose"`
}

// SubgraphFlags are derived from the merged platform/indexer record.
type SubgraphFlags struct {
	LowTradeCount      bool `json:"lowTradeCount"`
	YoungAccount       bool `json:"youngAccount"`
	LowVolume          bool `json:"lowVolume"`
	HighConcentration  bool `json:"highConcentration"`
	FreshFatBet        bool `json:"freshFatBet"`
	LowDiversification bool `json:"lowDiversification"`
}

// FingerprintMetadata carries the raw numbers behind the flags.
type FingerprintMetadata struct {
	TotalTransactions           int     `json:"totalTransactions"`
	WalletAgeDays               float64 `json:"walletAgeDays"`
	CEXFundingSource            string  `json:"cexFundingSource,omitempty"`
	PolymarketNetflowPercentage float64 `json:"polymarketNetflowPercentage"`
}

// WalletFingerprint is the forensics verdict for one wallet in the
// context of one trade. Cached by address; FreshFatBet is recomputed
// per trade context on cache hits.
type WalletFingerprint struct {
	Address      string              `json:"address"`
	Chain        *ChainFlags         `json:"chain,omitempty"`
	Subgraph     SubgraphFlags       `json:"subgraph"`
	Metadata     FingerprintMetadata `json:"metadata"`
	Confidence   Confidence          `json:"confidence"`
	DataSource   string              `json:"dataSource"`
	IsSuspicious bool                `json:"isSuspicious"`
	Warnings     []string            `json:"warnings,omitempty"`
	ComputedAt   time.Time           `json:"computedAt"`
}

// FlagCount counts true flags across both the on-chain and subgraph
// sets. Three or more marks the wallet suspicious.
func (f *WalletFingerprint) FlagCount() int {
	n := 0
	if f.Chain != nil {
		for _, b := range []bool{
			f.Chain.CEXFunded,
			f.Chain.LowTxCount,
			f.Chain.YoungWallet,
			f.Chain.HighPolymarketNetflow,
			f.Chain.SinglePurpose,
		} {
			if b {
				n++
			}
		}
	}
	for _, b := range []bool{
		f.Subgraph.LowTradeCount,
		f.Subgraph.YoungAccount,
		f.Subgraph.LowVolume,
		f.Subgraph.HighConcentration,
		f.Subgraph.FreshFatBet,
		f.Subgraph.LowDiversification,
	} {
		if b {
			n++
		}
	}
	return n
}

// Classification bands.
const (
	ClassLogOnly          = "LOG_ONLY"
	ClassMediumConfidence = "ALERT_MEDIUM_CONFIDENCE"
	ClassHighConfidence   = "ALERT_HIGH_CONFIDENCE"
	ClassStrongInsider    = "ALERT_STRONG_INSIDER"
)

// AlertScore is the scorer's output for one (signal, fingerprint) pair.
type AlertScore struct {
	TotalScore             int     `json:"totalScore"`
	WalletContribution     float64 `json:"walletContribution"`
	ImpactContribution     float64 `json:"impactContribution"`
	ExtremityContribution  float64 `json:"extremityContribution"` // always 0 under the 2-factor model
	Classification         string  `json:"classification"`
}

// Alert is the persisted decision record: trade snapshot, signal
// numerics, wallet flags, and score breakdown.
type Alert struct {
	ID            string `db:"id" json:"id"`
	TradeID       string `db:"trade_id" json:"tradeId"`
	WalletAddress string `db:"wallet_address" json:"walletAddress"`
	MarketID      string `db:"market_id" json:"marketId"`

	// Trade snapshot
	Side           string  `db:"side" json:"side"`
	Size           float64 `db:"size" json:"size"`
	Price          float64 `db:"price" json:"price"`
	Outcome        string  `db:"outcome" json:"outcome"`
	TradeTimestamp int64   `db:"trade_ts" json:"tradeTimestamp"`

	// Signal numerics
	TradeUSDValue float64 `db:"trade_usd_value" json:"tradeUsdValue"`
	OIPercentage  float64 `db:"oi_percentage" json:"oiPercentage"`
	PriceImpact   float64 `db:"price_impact" json:"priceImpact"`
	OpenInterest  float64 `db:"open_interest" json:"openInterest"`

	// Wallet fingerprint (flattened for storage, full copy for consumers)
	Fingerprint WalletFingerprint `db:"-" json:"fingerprint"`

	// Score breakdown
	Score           AlertScore `db:"-" json:"score"`
	ConfidenceScore float64    `db:"confidence_score" json:"confidenceScore"`
	Classification  string     `db:"classification" json:"classification"`

	Timestamp time.Time `db:"ts" json:"timestamp"`

	// Lifecycle
	Notified    bool       `db:"notified" json:"notified"`
	NotifiedAt  *time.Time `db:"notified_at" json:"notifiedAt,omitempty"`
	Dismissed   bool       `db:"dismissed" json:"dismissed"`
	DismissedAt *time.Time `db:"dismissed_at" json:"dismissedAt,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`

	// Retired gating inputs, retained for schema compatibility.
	DormancyDays        *int  `db:"dormancy_days" json:"dormancyDays,omitempty"`
	DormancyReactivated *bool `db:"dormancy_reactivated" json:"dormancyReactivated,omitempty"`
}
