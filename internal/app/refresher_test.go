package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"polywatch/clients/gammaapi"
	"polywatch/config"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

func gammaMarket(id, conditionID, question string, oi float64, tokens ...string) gammaapi.Market {
	rawTokens, _ := json.Marshal(tokens)
	rawOI, _ := json.Marshal(oi)
	return gammaapi.Market{
		ID:           id,
		ConditionID:  conditionID,
		Question:     question,
		Slug:         id + "-slug",
		ClobTokenIDs: rawTokens,
		OpenInterest: rawOI,
		VolumeNum:    1000,
		Active:       true,
	}
}

func TestRefreshOncePopulatesRegistryAndAssetMap(t *testing.T) {
	events := &fakeEvents{events: map[string]*gammaapi.Event{
		"test-event": {
			Slug: "test-event",
			Markets: []gammaapi.Market{
				gammaMarket("m1", "0xc1", "Will the election be won?", 2_000_000, "tok1", "tok2"),
				gammaMarket("m2", "0xc2", "Will the merger close?", 150_000, "tok3", "tok4"),
			},
		},
	}}
	reg := registry.New(nil)
	store := &fakeMarketStore{}

	r := NewRefresher(nil, testLiveConfig(), events, reg, store)

	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("expected 2 markets, got %d", reg.Len())
	}
	m1, ok := reg.Get("m1")
	if !ok {
		t.Fatal("m1 missing from registry")
	}
	if m1.Tier != model.TierMajor || m1.Category != model.CategoryPolitics {
		t.Fatalf("unexpected m1 derivation: tier=%d category=%s", m1.Tier, m1.Category)
	}
	m2, _ := reg.Get("m2")
	if m2.Tier != model.TierMid || m2.Category != model.CategoryCorporate {
		t.Fatalf("unexpected m2 derivation: tier=%d category=%s", m2.Tier, m2.Category)
	}

	if id, ok := r.MarketIDForAsset("tok3"); !ok || id != "m2" {
		t.Fatalf("tok3 should map to m2, got %q ok=%v", id, ok)
	}
	if got := len(r.AssetIDs()); got != 4 {
		t.Fatalf("expected 4 asset ids, got %d", got)
	}
	if len(store.upserts) != 1 || len(store.upserts[0]) != 2 {
		t.Fatalf("expected one upsert of 2 markets, got %+v", store.upserts)
	}
}

func TestRefreshOnceToleratesPartialFailure(t *testing.T) {
	raw := config.Defaults()
	raw.Markets.EventSlugs = []string{"good", "bad"}
	cfg := config.NewLiveConfig(raw)

	events := &fakeEvents{
		events: map[string]*gammaapi.Event{
			"good": {
				Slug:    "good",
				Markets: []gammaapi.Market{gammaMarket("m1", "0xc1", "Who wins the finals?", 50_000, "tok1")},
			},
		},
		errs: map[string]error{"bad": errors.New("upstream 500")},
	}
	reg := registry.New(nil)

	r := NewRefresher(nil, cfg, events, reg, nil)

	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("one healthy slug should be enough: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 market, got %d", reg.Len())
	}
}

func TestRefreshOnceFailsWhenEverySlugFails(t *testing.T) {
	events := &fakeEvents{errs: map[string]error{"test-event": errors.New("upstream 500")}}

	r := NewRefresher(nil, testLiveConfig(), events, registry.New(nil), nil)

	if err := r.RefreshOnce(context.Background()); err == nil {
		t.Fatal("expected error when no markets load")
	}
}

func TestConvertMarketFallsBackToLiquidity(t *testing.T) {
	m := gammaMarket("m1", "0xc1", "Anything", 0)
	m.OpenInterest = nil
	m.LiquidityNum = 42_000

	got := convertMarket(&m)
	if got.OpenInterest != 42_000 {
		t.Fatalf("expected liquidity fallback, got %v", got.OpenInterest)
	}
	if !got.Enabled {
		t.Fatal("converted markets start enabled")
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		oi   float64
		want int
	}{
		{5_000_000, model.TierMajor},
		{1_000_000, model.TierMajor},
		{500_000, model.TierMid},
		{100_000, model.TierMid},
		{50_000, model.TierLong},
		{0, model.TierLong},
	}
	for _, tc := range cases {
		if got := tierFor(tc.oi); got != tc.want {
			t.Errorf("tierFor(%v) = %d, want %d", tc.oi, got, tc.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"Will the Senate confirm the nominee?", model.CategoryPolitics},
		{"Will the IPO price above range?", model.CategoryCorporate},
		{"Will they win the Super Bowl?", model.CategorySports},
		{"Will it rain tomorrow?", model.CategoryMisc},
	}
	for _, tc := range cases {
		if got := categorize(tc.question); got != tc.want {
			t.Errorf("categorize(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}
