package app

import (
	"context"
	"sync"
	"time"

	"polywatch/clients/dataapi"
	"polywatch/clients/gammaapi"
	"polywatch/config"
	"polywatch/internal/forensics"
	"polywatch/internal/model"
)

func testLiveConfig() *config.LiveConfig {
	cfg := config.Defaults()
	cfg.Markets.EventSlugs = []string{"test-event"}
	return config.NewLiveConfig(cfg)
}

type fakeGate struct {
	mu     sync.Mutex
	signal *model.TradeSignal
	trades []model.Trade
}

func (g *fakeGate) Analyze(_ context.Context, trade model.Trade) *model.TradeSignal {
	g.mu.Lock()
	g.trades = append(g.trades, trade)
	g.mu.Unlock()
	return g.signal
}

type panicGate struct{}

func (panicGate) Analyze(context.Context, model.Trade) *model.TradeSignal {
	panic("boom")
}

type fakeWallets struct {
	mu        sync.Mutex
	fp        *model.WalletFingerprint
	err       error
	addresses []string
	contexts  []forensics.TradeContext
}

func (w *fakeWallets) Analyze(_ context.Context, address string, tc forensics.TradeContext) (*model.WalletFingerprint, error) {
	w.mu.Lock()
	w.addresses = append(w.addresses, address)
	w.contexts = append(w.contexts, tc)
	w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	return w.fp, nil
}

type fakeSink struct {
	mu        sync.Mutex
	persisted bool
	err       error
	alerts    []*model.Alert
}

func (s *fakeSink) Persist(_ context.Context, alert *model.Alert) (bool, error) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	return s.persisted, s.err
}

type fakeTradeLog struct {
	mu     sync.Mutex
	err    error
	trades []model.Trade
}

func (l *fakeTradeLog) Insert(_ context.Context, t model.Trade) error {
	l.mu.Lock()
	l.trades = append(l.trades, t)
	l.mu.Unlock()
	return l.err
}

type fakeEvents struct {
	events map[string]*gammaapi.Event
	errs   map[string]error
}

func (e *fakeEvents) GetEventBySlug(_ context.Context, slug string) (*gammaapi.Event, error) {
	if err, ok := e.errs[slug]; ok {
		return nil, err
	}
	if ev, ok := e.events[slug]; ok {
		return ev, nil
	}
	return &gammaapi.Event{Slug: slug}, nil
}

type fakeMarketStore struct {
	mu      sync.Mutex
	err     error
	upserts [][]model.Market
}

func (s *fakeMarketStore) UpsertAll(_ context.Context, markets []model.Market) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, markets)
	s.mu.Unlock()
	return s.err
}

type fakeResolver struct {
	assets map[string]string
}

func (r *fakeResolver) MarketIDForAsset(assetID string) (string, bool) {
	id, ok := r.assets[assetID]
	return id, ok
}

func (r *fakeResolver) AssetIDs() []string {
	out := make([]string, 0, len(r.assets))
	for id := range r.assets {
		out = append(out, id)
	}
	return out
}

type fakeTradeSink struct {
	mu     sync.Mutex
	full   bool
	trades []model.Trade
}

func (s *fakeTradeSink) Enqueue(trade model.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.trades = append(s.trades, trade)
	return true
}

func (s *fakeTradeSink) received() []model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

type fakeTradeSource struct {
	mu     sync.Mutex
	trades []dataapi.Trade
	err    error
	calls  int
}

func (s *fakeTradeSource) GetRecentTradesForMarkets(_ context.Context, _ []string, _ int, _ float64) ([]dataapi.Trade, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.trades, nil
}

type fakePruner struct {
	mu      sync.Mutex
	deleted int64
	err     error
	cutoffs []time.Time
}

func (p *fakePruner) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	p.cutoffs = append(p.cutoffs, cutoff)
	p.mu.Unlock()
	return p.deleted, p.err
}

type fakeHealthSink struct {
	mu        sync.Mutex
	err       error
	snapshots []any
}

func (s *fakeHealthSink) WriteHealth(_ context.Context, snapshot any) error {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	s.mu.Unlock()
	return s.err
}
