package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"polywatch/clients/gammaapi"
	"polywatch/config"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

// EventSource loads event metadata by slug.
type EventSource interface {
	GetEventBySlug(ctx context.Context, slug string) (*gammaapi.Event, error)
}

// MarketStore persists the refreshed market set. Optional.
type MarketStore interface {
	UpsertAll(ctx context.Context, markets []model.Market) error
}

// Refresher keeps the market registry in sync with the metadata API and
// maintains the asset-to-market mapping the feed needs.
type Refresher struct {
	logger   *zap.Logger
	cfg      *config.LiveConfig
	events   EventSource
	registry *registry.Registry
	store    MarketStore

	mu            sync.RWMutex
	assetToMarket map[string]string
}

// NewRefresher creates a refresher. store may be nil.
func NewRefresher(logger *zap.Logger, cfg *config.LiveConfig, events EventSource, reg *registry.Registry, store MarketStore) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		logger:        logger,
		cfg:           cfg,
		events:        events,
		registry:      reg,
		store:         store,
		assetToMarket: make(map[string]string),
	}
}

// RefreshOnce reloads every configured event slug and swaps the
// registry. Individual slug failures degrade the refresh, not abort it.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	slugs := r.cfg.GetDirect().Markets.EventSlugs
	if len(slugs) == 0 {
		return fmt.Errorf("no event slugs configured")
	}

	var markets []model.Market
	assetMap := make(map[string]string)
	failed := 0

	for _, slug := range slugs {
		ev, err := r.events.GetEventBySlug(ctx, slug)
		if err != nil {
			failed++
			r.logger.Warn("event refresh failed", zap.String("slug", slug), zap.Error(err))
			continue
		}
		for i := range ev.Markets {
			m := convertMarket(&ev.Markets[i])
			markets = append(markets, m)
			for _, token := range ev.Markets[i].GetTokenIDs() {
				assetMap[token] = m.ID
			}
		}
	}

	if len(markets) == 0 {
		return fmt.Errorf("market refresh produced nothing (%d/%d slugs failed)", failed, len(slugs))
	}

	r.registry.Replace(markets)

	r.mu.Lock()
	r.assetToMarket = assetMap
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertAll(ctx, markets); err != nil {
			r.logger.Warn("market upsert failed", zap.Error(err))
		}
	}

	r.logger.Info("markets refreshed",
		zap.Int("markets", len(markets)),
		zap.Int("assets", len(assetMap)),
		zap.Int("failedSlugs", failed),
	)
	return nil
}

// Run refreshes on the configured interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.cfg.GetDirect().Markets.RefreshInterval
	runOnInterval(ctx, interval, func() {
		if err := r.RefreshOnce(ctx); err != nil {
			r.logger.Error("market refresh failed", zap.Error(err))
		}
	})
}

// MarketIDForAsset resolves a feed asset id to its market.
func (r *Refresher) MarketIDForAsset(assetID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.assetToMarket[assetID]
	return id, ok
}

// AssetIDs lists every known asset id for feed subscriptions.
func (r *Refresher) AssetIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assetToMarket))
	for id := range r.assetToMarket {
		out = append(out, id)
	}
	return out
}

// Tier boundaries on open interest.
const (
	tierMajorMinOI = 1_000_000
	tierMidMinOI   = 100_000
)

func convertMarket(m *gammaapi.Market) model.Market {
	oi := m.GetOpenInterest()
	if oi == 0 {
		oi = m.GetLiquidity()
	}

	return model.Market{
		ID:           m.ID,
		ConditionID:  m.ConditionID,
		Question:     m.Question,
		Slug:         m.Slug,
		Tier:         tierFor(oi),
		Category:     categorize(m.Question),
		OpenInterest: oi,
		Volume:       maxFloat(m.VolumeNum, m.Volume24hr),
		Enabled:      true,
		Active:       m.Active,
		Closed:       m.Closed,
	}
}

func tierFor(oi float64) int {
	switch {
	case oi >= tierMajorMinOI:
		return model.TierMajor
	case oi >= tierMidMinOI:
		return model.TierMid
	default:
		return model.TierLong
	}
}

func categorize(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "election", "president", "senate", "congress", "nominee", "minister"):
		return model.CategoryPolitics
	case containsAny(q, "earnings", "ceo", "merger", "acquisition", "ipo", "bankruptcy"):
		return model.CategoryCorporate
	case containsAny(q, "win the", "championship", "super bowl", "world cup", "finals", "match"):
		return model.CategorySports
	default:
		return model.CategoryMisc
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
