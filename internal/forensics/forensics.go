// Package forensics builds wallet fingerprints. It pulls the wallet's
// history from two independent sources in parallel, normalizes and
// merges them, derives behavioral flags, and caches the verdict.
package forensics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"polywatch/clients/dataapi"
	"polywatch/clients/subgraph"
	"polywatch/config"
	"polywatch/internal/metrics"
	"polywatch/internal/model"
	"polywatch/internal/normalize"
)

// suspiciousFlagFloor is the flag count that marks a wallet suspicious.
const suspiciousFlagFloor = 3

// deductSingleSource is the confidence penalty when only one of the two
// sources answered.
const deductSingleSource = 20

// PlatformSource is the data API's wallet view.
type PlatformSource interface {
	GetUserData(ctx context.Context, address string) (*dataapi.UserData, error)
}

// IndexerSource is the subgraph's wallet view.
type IndexerSource interface {
	GetUserAccount(ctx context.Context, address string) (*subgraph.Account, error)
	GetUserPositions(ctx context.Context, address string) ([]subgraph.Position, error)
}

// ChainAnalyzer derives flags from raw on-chain history. Optional;
// without it fingerprints carry no chain flag set.
type ChainAnalyzer interface {
	Analyze(ctx context.Context, address string) (*model.ChainFlags, *model.FingerprintMetadata, error)
}

// Cache stores computed fingerprints keyed by address.
type Cache interface {
	GetFingerprint(ctx context.Context, address string) (*model.WalletFingerprint, bool, error)
	SetFingerprint(ctx context.Context, address string, fp *model.WalletFingerprint, ttl time.Duration) error
	IncrStat(ctx context.Context, name string)
}

// TradeContext is the per-trade input to the fresh-fat-bet flag. The
// flag depends on the triggering trade, so it is recomputed on every
// lookup including cache hits.
type TradeContext struct {
	TradeSizeUSD float64
	MarketOI     float64
}

// Analyzer computes wallet fingerprints.
type Analyzer struct {
	logger   *zap.Logger
	cfg      *config.LiveConfig
	platform PlatformSource
	indexer  IndexerSource
	chain    ChainAnalyzer
	cache    Cache
}

// New creates an analyzer. chain and cache may be nil.
func New(logger *zap.Logger, cfg *config.LiveConfig, platform PlatformSource, indexer IndexerSource, chain ChainAnalyzer, cache Cache) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		logger:   logger,
		cfg:      cfg,
		platform: platform,
		indexer:  indexer,
		chain:    chain,
		cache:    cache,
	}
}

// Analyze returns the wallet's fingerprint for this trade context.
// Cached fingerprints are reused, with the trade-dependent flag and the
// suspicion verdict recomputed against the new context.
func (a *Analyzer) Analyze(ctx context.Context, address string, tc TradeContext) (*model.WalletFingerprint, error) {
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}
	cfg := a.cfg.GetDirect().Forensics

	if a.cache != nil {
		cached, ok, err := a.cache.GetFingerprint(ctx, address)
		if err != nil {
			a.logger.Warn("fingerprint cache read failed", zap.String("address", address), zap.Error(err))
		}
		if ok {
			cached.Subgraph.FreshFatBet = freshFatBet(cached.Metadata.TotalTransactions, tc, cfg)
			cached.IsSuspicious = cached.FlagCount() >= suspiciousFlagFloor
			metrics.WalletLookups.WithLabelValues("cache_hit").Inc()
			a.cache.IncrStat(ctx, "cache_hit")
			return cached, nil
		}
	}

	merged, sources, err := a.fetchAndMerge(ctx, address)
	if err != nil {
		metrics.WalletLookups.WithLabelValues("error").Inc()
		if a.cache != nil {
			a.cache.IncrStat(ctx, "errors")
		}
		return nil, err
	}

	fp := a.fingerprint(address, merged, sources, tc, cfg)

	if a.chain != nil {
		flags, meta, err := a.chain.Analyze(ctx, address)
		if err != nil {
			a.logger.Warn("chain analysis failed", zap.String("address", address), zap.Error(err))
			fp.Warnings = append(fp.Warnings, "chain analysis unavailable")
		} else {
			fp.Chain = flags
			if meta != nil {
				fp.Metadata.CEXFundingSource = meta.CEXFundingSource
				fp.Metadata.WalletAgeDays = meta.WalletAgeDays
				fp.Metadata.PolymarketNetflowPercentage = meta.PolymarketNetflowPercentage
			}
		}
	}

	fp.IsSuspicious = fp.FlagCount() >= suspiciousFlagFloor

	if a.cache != nil {
		if err := a.cache.SetFingerprint(ctx, address, fp, cfg.CacheTTL); err != nil {
			a.logger.Warn("fingerprint cache write failed", zap.String("address", address), zap.Error(err))
		}
		a.cache.IncrStat(ctx, "computed")
		if fp.IsSuspicious {
			a.cache.IncrStat(ctx, "suspicious")
		}
	}

	metrics.WalletLookups.WithLabelValues("computed").Inc()
	a.logger.Info("wallet fingerprint computed",
		zap.String("address", address),
		zap.String("dataSource", fp.DataSource),
		zap.Int("flags", fp.FlagCount()),
		zap.Bool("suspicious", fp.IsSuspicious),
		zap.Float64("confidence", fp.Confidence.Score),
	)
	return fp, nil
}

type sourceResults struct {
	platformOK bool
	indexerOK  bool
}

// fetchAndMerge queries both sources in parallel and merges whatever
// answered. One source failing degrades the record; both failing is an
// error.
func (a *Analyzer) fetchAndMerge(ctx context.Context, address string) (model.NormalizedWallet, sourceResults, error) {
	var (
		wg sync.WaitGroup

		userData    *dataapi.UserData
		platformErr error

		account     *subgraph.Account
		positions   []subgraph.Position
		indexerErr  error
	)

	if a.platform != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userData, platformErr = a.platform.GetUserData(ctx, address)
		}()
	}
	if a.indexer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, indexerErr = a.indexer.GetUserAccount(ctx, address)
			if indexerErr != nil {
				return
			}
			positions, indexerErr = a.indexer.GetUserPositions(ctx, address)
		}()
	}
	wg.Wait()

	var res sourceResults
	var platform, indexer *model.NormalizedWallet

	if a.platform != nil {
		if platformErr != nil {
			metrics.AdapterErrors.WithLabelValues("platform").Inc()
			a.logger.Warn("platform lookup failed", zap.String("address", address), zap.Error(platformErr))
		} else {
			w := normalize.Platform(address, userData)
			platform = &w
			res.platformOK = true
		}
	}
	if a.indexer != nil {
		if indexerErr != nil {
			metrics.AdapterErrors.WithLabelValues("indexer").Inc()
			a.logger.Warn("indexer lookup failed", zap.String("address", address), zap.Error(indexerErr))
		} else {
			w := normalize.Indexer(address, account, positions)
			indexer = &w
			res.indexerOK = true
		}
	}

	if platform == nil && indexer == nil {
		return model.NormalizedWallet{}, res, fmt.Errorf("all wallet data sources failed for %s", address)
	}

	merged := normalize.Merge(platform, indexer)
	if platform == nil || indexer == nil {
		merged.Confidence.Score -= deductSingleSource
		if merged.Confidence.Score < 0 {
			merged.Confidence.Score = 0
		}
		merged.Confidence.Level = model.ConfidenceLevelFor(merged.Confidence.Score)
		merged.Warnings = append(merged.Warnings, "single data source: no cross-source validation")
	}
	return merged, res, nil
}

// fingerprint derives the flag set from the merged record.
func (a *Analyzer) fingerprint(address string, w model.NormalizedWallet, sources sourceResults, tc TradeContext, cfg config.ForensicsConfig) *model.WalletFingerprint {
	fp := &model.WalletFingerprint{
		Address:    address,
		DataSource: w.DataSource,
		Confidence: w.Confidence,
		Warnings:   w.Warnings,
		ComputedAt: time.Now().UTC(),
		Metadata: model.FingerprintMetadata{
			TotalTransactions: w.TradeCount,
			WalletAgeDays:     w.AccountAgeDays,
		},
	}

	fp.Subgraph = model.SubgraphFlags{
		LowTradeCount:      w.TradeCount <= cfg.LowTradeCount,
		YoungAccount:       w.AccountAgeDays > 0 && w.AccountAgeDays <= cfg.YoungAccountDays,
		LowVolume:          w.VolumeUSD <= cfg.LowVolumeUSD,
		HighConcentration:  w.MaxPositionPct >= cfg.HighConcentrationPct,
		FreshFatBet:        freshFatBet(w.TradeCount, tc, cfg),
		LowDiversification: w.MarketsTraded > 0 && w.MarketsTraded <= cfg.LowDiversification,
	}

	if !sources.platformOK || !sources.indexerOK {
		a.logger.Debug("fingerprint from single source",
			zap.String("address", address),
			zap.Bool("platform", sources.platformOK),
			zap.Bool("indexer", sources.indexerOK),
		)
	}
	return fp
}

// freshFatBet flags a near-empty wallet making an outsized bet in a
// market small enough for the position to matter.
func freshFatBet(tradeCount int, tc TradeContext, cfg config.ForensicsConfig) bool {
	return tradeCount <= cfg.FreshFatBetMaxTrades &&
		tc.TradeSizeUSD >= cfg.FreshFatBetMinSizeUSD &&
		tc.MarketOI > 0 && tc.MarketOI <= cfg.FreshFatBetMaxOI
}
