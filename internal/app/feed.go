package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"polywatch/clients/dataapi"
	"polywatch/clients/marketws"
	"polywatch/config"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

// Reconnect backoff bounds for the websocket feed.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// resubscribeInterval is how often the feed reconciles its asset
// subscriptions against the registry.
const resubscribeInterval = 30 * time.Second

// AssetResolver maps feed asset ids to markets.
type AssetResolver interface {
	MarketIDForAsset(assetID string) (string, bool)
	AssetIDs() []string
}

// TradeSink accepts trades off the feed without blocking it.
type TradeSink interface {
	Enqueue(trade model.Trade) bool
}

// WSFeed drives the realtime websocket and feeds the pipeline. It
// reconnects with doubling backoff when the connection drops.
type WSFeed struct {
	logger   *zap.Logger
	ws       *marketws.Client
	resolver AssetResolver
	sink     TradeSink
}

// NewWSFeed creates the realtime feed.
func NewWSFeed(logger *zap.Logger, ws *marketws.Client, resolver AssetResolver, sink TradeSink) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{logger: logger, ws: ws, resolver: resolver, sink: sink}
}

// Run connects and pumps messages until ctx is done.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := reconnectBase

	for ctx.Err() == nil {
		assets := f.resolver.AssetIDs()
		if len(assets) == 0 {
			f.logger.Warn("no assets to subscribe, retrying")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if err := f.ws.Connect(ctx, assets); err != nil {
			f.logger.Error("feed connect failed", zap.Error(err), zap.Duration("retryIn", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = reconnectBase

		f.pump(ctx, assets)
		_ = f.ws.Close()

		if ctx.Err() == nil {
			f.logger.Warn("feed disconnected, reconnecting", zap.Duration("retryIn", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		}
	}
}

// pump forwards messages until the connection errors or ctx ends. A
// ticker reconciles the subscription set against the registry so markets
// added or dropped by a refresh take effect without a reconnect.
func (f *WSFeed) pump(ctx context.Context, subscribed []string) {
	current := make(map[string]struct{}, len(subscribed))
	for _, id := range subscribed {
		current[id] = struct{}{}
	}

	sync := time.NewTicker(resubscribeInterval)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-f.ws.Errors():
			f.logger.Warn("feed read error", zap.Error(err))
			return
		case msg := <-f.ws.Messages():
			f.handleMessage(msg)
		case <-sync.C:
			f.syncSubscriptions(current)
		}
	}
}

// syncSubscriptions diffs the live subscription set against the
// registry's assets and sends the delta frames.
func (f *WSFeed) syncSubscriptions(current map[string]struct{}) {
	want := make(map[string]struct{})
	for _, id := range f.resolver.AssetIDs() {
		want[id] = struct{}{}
	}

	var added, removed []string
	for id := range want {
		if _, ok := current[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range current {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	if len(added) > 0 {
		if err := f.ws.SubscribeAssets(added); err != nil {
			f.logger.Warn("asset subscribe failed", zap.Int("assets", len(added)), zap.Error(err))
			return
		}
		for _, id := range added {
			current[id] = struct{}{}
		}
	}
	if len(removed) > 0 {
		if err := f.ws.UnsubscribeAssets(removed); err != nil {
			f.logger.Warn("asset unsubscribe failed", zap.Int("assets", len(removed)), zap.Error(err))
			return
		}
		for _, id := range removed {
			delete(current, id)
		}
	}

	f.logger.Info("feed subscriptions updated",
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)),
		zap.Int("total", len(current)),
	)
}

func (f *WSFeed) handleMessage(msg json.RawMessage) {
	event := marketws.ParseTradeEvent(msg)
	if event == nil {
		return
	}

	marketID, ok := f.resolver.MarketIDForAsset(event.AssetID)
	if !ok {
		f.logger.Debug("trade for unknown asset", zap.String("assetId", shortID(event.AssetID)))
		return
	}

	f.sink.Enqueue(event.Trade(marketID))
}

// Stats exposes the underlying connection counters.
func (f *WSFeed) Stats() marketws.WSStats {
	return f.ws.Stats()
}

// pollTradeLimit is the per-market fetch size for each polling round.
const pollTradeLimit = 100

// TradeSource is the batched REST view of recent trades.
type TradeSource interface {
	GetRecentTradesForMarkets(ctx context.Context, conditionIDs []string, limit int, minUsdValue float64) ([]dataapi.Trade, error)
}

// PollFeed is the fallback feed for deployments without a websocket.
// It polls recent trades per market batch and dedups what it has seen.
type PollFeed struct {
	logger   *zap.Logger
	cfg      *config.LiveConfig
	source   TradeSource
	registry *registry.Registry
	sink     TradeSink

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewPollFeed creates the polling feed.
func NewPollFeed(logger *zap.Logger, cfg *config.LiveConfig, source TradeSource, reg *registry.Registry, sink TradeSink) *PollFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollFeed{
		logger:   logger,
		cfg:      cfg,
		source:   source,
		registry: reg,
		sink:     sink,
		seen:     make(map[string]time.Time),
	}
}

// Run polls on the configured interval until ctx is done.
func (f *PollFeed) Run(ctx context.Context) {
	interval := f.cfg.GetDirect().Markets.PollInterval
	runOnInterval(ctx, interval, func() {
		if err := f.PollOnce(ctx); err != nil {
			f.logger.Error("trade poll failed", zap.Error(err))
		}
	})
}

// PollOnce fetches one round of recent trades and enqueues the new ones.
func (f *PollFeed) PollOnce(ctx context.Context) error {
	conditions := f.registry.ConditionIDs()
	if len(conditions) == 0 {
		return nil
	}

	trades, err := f.source.GetRecentTradesForMarkets(ctx, conditions, pollTradeLimit, 0)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, t := range trades {
		if !f.markSeen(tradeKey(t)) {
			continue
		}
		market, ok := f.registry.GetByCondition(t.ConditionID)
		if !ok {
			continue
		}
		if f.sink.Enqueue(convertRESTTrade(t, market.ID)) {
			enqueued++
		}
	}

	f.logger.Debug("trade poll complete", zap.Int("fetched", len(trades)), zap.Int("new", enqueued))
	return nil
}

// markSeen records a trade key and reports whether it was new. Old
// entries age out so the set stays bounded.
func (f *PollFeed) markSeen(key string) bool {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = now

	if len(f.seen) > 10000 {
		cutoff := now.Add(-time.Hour)
		for k, at := range f.seen {
			if at.Before(cutoff) {
				delete(f.seen, k)
			}
		}
	}
	return true
}

func tradeKey(t dataapi.Trade) string {
	if t.TransactionHash != "" {
		return t.TransactionHash
	}
	return t.ID
}

func convertRESTTrade(t dataapi.Trade, marketID string) model.Trade {
	ts := t.Timestamp
	if ts > 0 && ts < 1e12 {
		ts *= 1000
	}
	return model.Trade{
		ID:        tradeKey(t),
		MarketID:  marketID,
		Side:      t.Side,
		Size:      t.Size,
		Price:     t.Price,
		Outcome:   t.Outcome,
		Taker:     t.ProxyWallet,
		Timestamp: ts,
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMax {
		return reconnectMax
	}
	return d
}
