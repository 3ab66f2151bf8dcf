// Package detector is the per-trade signal gate. It decides, cheaply,
// whether a trade is worth the expensive wallet forensics that follows.
package detector

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"polywatch/config"
	"polywatch/internal/metrics"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

// Drop reasons, used in logs and counters.
const (
	ReasonUnknownMarket      = "unknown_market"
	ReasonMarketAwareMinimum = "filtered_market_aware_minimum"
	ReasonImpact             = "filtered_impact"
)

const liquidityLookupTimeout = 3 * time.Second

// LiquiditySource resolves live liquidity for a market. Lookups may
// fail; the detector falls back to stored open interest.
type LiquiditySource interface {
	Liquidity(ctx context.Context, conditionID string) (float64, error)
}

// Detector applies the market-aware minimum and impact gates.
type Detector struct {
	logger    *zap.Logger
	cfg       *config.LiveConfig
	registry  *registry.Registry
	liquidity LiquiditySource
}

// New creates a detector. liquidity may be nil, in which case stored
// open interest always serves as the liquidity estimate.
func New(logger *zap.Logger, cfg *config.LiveConfig, reg *registry.Registry, liquidity LiquiditySource) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		logger:    logger,
		cfg:       cfg,
		registry:  reg,
		liquidity: liquidity,
	}
}

// Analyze gates one trade. It returns nil to silently drop: an
// uninteresting trade is not an error.
func (d *Detector) Analyze(ctx context.Context, trade model.Trade) *model.TradeSignal {
	cfg := d.cfg.GetDirect().Detector

	market, ok := d.registry.Get(trade.MarketID)
	if !ok || !market.Analyzable() {
		d.drop(trade, ReasonUnknownMarket, 0)
		return nil
	}

	tradeUSD := trade.USDValue()
	liquidity := d.availableLiquidity(ctx, market)

	// Market-aware minimum: the absolute floor is relaxed in thin
	// markets so that a dominant trade in a small book still passes,
	// while thin-book lottery tickets stay out.
	minThreshold := math.Min(cfg.AbsoluteMinUSD, cfg.RelativeLiquidityFactor*liquidity)
	if tradeUSD < minThreshold {
		d.drop(trade, ReasonMarketAwareMinimum, tradeUSD)
		return nil
	}

	oiPct := 0.0
	if market.OpenInterest > 0 {
		oiPct = 100 * tradeUSD / market.OpenInterest
	}
	impact := estimateImpact(tradeUSD, liquidity)

	if oiPct < cfg.MinOIPercentage && impact < cfg.MinPriceImpact {
		d.drop(trade, ReasonImpact, tradeUSD)
		return nil
	}

	metrics.TradesAnalyzed.Inc()
	d.logger.Info("trade signal emitted",
		zap.String("tradeId", trade.ID),
		zap.String("marketId", trade.MarketID),
		zap.Float64("usd", tradeUSD),
		zap.Float64("oiPct", oiPct),
		zap.Float64("impact", impact),
	)

	return &model.TradeSignal{
		MarketID:      trade.MarketID,
		TradeUSDValue: tradeUSD,
		OIPercentage:  oiPct,
		PriceImpact:   impact,
		OpenInterest:  market.OpenInterest,
	}
}

// availableLiquidity asks the market service for live liquidity and
// falls back to the stored open interest when the lookup fails or
// reports nothing.
func (d *Detector) availableLiquidity(ctx context.Context, market model.Market) float64 {
	if d.liquidity == nil || market.ConditionID == "" {
		return market.OpenInterest
	}

	lookupCtx, cancel := context.WithTimeout(ctx, liquidityLookupTimeout)
	defer cancel()

	liq, err := d.liquidity.Liquidity(lookupCtx, market.ConditionID)
	if err != nil || liq <= 0 {
		if err != nil {
			d.logger.Debug("live liquidity lookup failed, using stored OI",
				zap.String("marketId", market.ID),
				zap.Error(err),
			)
		}
		return market.OpenInterest
	}
	return liq
}

// estimateImpact approximates the price move a taker order of this size
// causes, as the trade's share of available liquidity. The feed carries
// no order-book snapshots, so a pre/post book diff is not an option.
func estimateImpact(tradeUSD, liquidity float64) float64 {
	return math.Min(100, 100*tradeUSD/math.Max(liquidity, 1))
}

func (d *Detector) drop(trade model.Trade, reason string, usd float64) {
	metrics.TradesFiltered.WithLabelValues(reason).Inc()
	d.logger.Debug("trade dropped",
		zap.String("tradeId", trade.ID),
		zap.String("marketId", trade.MarketID),
		zap.String("reason", reason),
		zap.Float64("usd", usd),
	)
}
