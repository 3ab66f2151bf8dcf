package detector

import (
	"context"
	"errors"
	"math"
	"testing"

	"polywatch/config"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

type fakeLiquidity struct {
	value float64
	err   error
	calls int
}

func (f *fakeLiquidity) Liquidity(ctx context.Context, conditionID string) (float64, error) {
	f.calls++
	return f.value, f.err
}

func newDetector(t *testing.T, markets []model.Market, liq LiquiditySource) *Detector {
	t.Helper()
	reg := registry.New(nil)
	reg.Replace(markets)
	return New(nil, config.NewLiveConfig(config.Defaults()), reg, liq)
}

func analyzableMarket(oi float64) model.Market {
	return model.Market{
		ID:           "m1",
		ConditionID:  "0xcond",
		OpenInterest: oi,
		Enabled:      true,
		Active:       true,
	}
}

func TestAnalyzeUnknownMarketDrops(t *testing.T) {
	d := newDetector(t, nil, nil)
	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "ghost", Size: 100000, Price: 0.5})
	if sig != nil {
		t.Fatalf("signal = %+v, want nil for unknown market", sig)
	}
}

func TestAnalyzeDisabledMarketDrops(t *testing.T) {
	m := analyzableMarket(100000)
	m.Closed = true
	d := newDetector(t, []model.Market{m}, nil)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 100000, Price: 0.5})
	if sig != nil {
		t.Fatalf("signal = %+v, want nil for closed market", sig)
	}
}

func TestThinMarketLotteryTicketDrops(t *testing.T) {
	// OI 3000, trade 900: minThreshold = min(5000, 0.5*3000) = 1500.
	d := newDetector(t, []model.Market{analyzableMarket(3000)}, nil)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 3000, Price: 0.3})
	if sig != nil {
		t.Fatalf("signal = %+v, want nil: 900 < 1500", sig)
	}
}

func TestDominantTradeInThinMarketPasses(t *testing.T) {
	// OI 3000: minThreshold 1500; a 2000 USD trade is 66% of OI.
	d := newDetector(t, []model.Market{analyzableMarket(3000)}, nil)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 4000, Price: 0.5})
	if sig == nil {
		t.Fatal("signal = nil, want emission for dominant thin-market trade")
	}
	if math.Abs(sig.OIPercentage-66.67) > 0.01 {
		t.Errorf("OIPercentage = %v, want ~66.67", sig.OIPercentage)
	}
}

func TestLowImpactTradeDrops(t *testing.T) {
	// 6000 USD on a 200k book: above the absolute minimum but only 3%
	// of OI and 3% estimated impact.
	d := newDetector(t, []model.Market{analyzableMarket(200000)}, nil)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 12000, Price: 0.5})
	if sig != nil {
		t.Fatalf("signal = %+v, want nil for low impact", sig)
	}
}

func TestStrongSignalEmission(t *testing.T) {
	// OI 200k, trade 40k @0.03: oi% = 20, which meets the threshold.
	d := newDetector(t, []model.Market{analyzableMarket(200000)}, nil)

	trade := model.Trade{
		ID:       "t1",
		MarketID: "m1",
		Side:     model.SideBuy,
		Size:     40000 / 0.03,
		Price:    0.03,
		Taker:    "0xfresh",
	}
	sig := d.Analyze(context.Background(), trade)
	if sig == nil {
		t.Fatal("signal = nil, want emission")
	}
	if math.Abs(sig.TradeUSDValue-40000) > 0.01 {
		t.Errorf("TradeUSDValue = %v, want 40000", sig.TradeUSDValue)
	}
	if math.Abs(sig.OIPercentage-20) > 0.01 {
		t.Errorf("OIPercentage = %v, want 20", sig.OIPercentage)
	}
	if sig.PriceImpact < 20 {
		t.Errorf("PriceImpact = %v, want >= 20", sig.PriceImpact)
	}
	if sig.OpenInterest != 200000 {
		t.Errorf("OpenInterest = %v", sig.OpenInterest)
	}
}

func TestGateCoherenceProperty(t *testing.T) {
	// A trade passes iff usd >= min(absMin, 0.5*liquidity) AND
	// (oiPct >= 20 OR impact >= 20).
	cases := []struct {
		oi   float64
		usd  float64
		want bool
	}{
		{200000, 40000, true},   // 20% of OI
		{200000, 39000, false},  // 19.5%: below both impact gates
		{3000, 900, false},      // below market-aware minimum
		{3000, 1500, true},      // exactly at minimum, 50% of OI
		{1000000, 5000, false},  // 0.5% of OI, no impact
		{10000, 5000, true},     // 50% of OI
	}

	for _, tc := range cases {
		d := newDetector(t, []model.Market{analyzableMarket(tc.oi)}, nil)
		sig := d.Analyze(context.Background(), model.Trade{
			ID: "t", MarketID: "m1", Size: tc.usd * 2, Price: 0.5,
		})
		got := sig != nil
		if got != tc.want {
			t.Errorf("oi=%v usd=%v: pass=%v, want %v", tc.oi, tc.usd, got, tc.want)
		}
	}
}

func TestLiveLiquidityPreferredOverOI(t *testing.T) {
	// Live liquidity 8000 halves the floor: min(5000, 0.5*8000) = 4000.
	liq := &fakeLiquidity{value: 8000}
	d := newDetector(t, []model.Market{analyzableMarket(200000)}, liq)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 9000, Price: 0.5})
	if sig == nil {
		t.Fatal("signal = nil; impact against live liquidity should pass")
	}
	if liq.calls != 1 {
		t.Errorf("liquidity lookups = %d, want 1", liq.calls)
	}
	// impact = 100 * 4500/8000 = 56.25
	if math.Abs(sig.PriceImpact-56.25) > 0.01 {
		t.Errorf("PriceImpact = %v, want 56.25", sig.PriceImpact)
	}
}

func TestLiquidityLookupFailureFallsBackToOI(t *testing.T) {
	liq := &fakeLiquidity{err: errors.New("gamma down")}
	d := newDetector(t, []model.Market{analyzableMarket(200000)}, liq)

	sig := d.Analyze(context.Background(), model.Trade{ID: "t1", MarketID: "m1", Size: 80000, Price: 0.5})
	if sig == nil {
		t.Fatal("signal = nil, want emission with OI fallback")
	}
	// impact = 100 * 40000/200000 = 20 against the stored OI.
	if math.Abs(sig.PriceImpact-20) > 0.01 {
		t.Errorf("PriceImpact = %v, want 20", sig.PriceImpact)
	}
}

func TestEstimateImpactCappedAt100(t *testing.T) {
	if got := estimateImpact(50000, 10000); got != 100 {
		t.Errorf("estimateImpact = %v, want capped 100", got)
	}
	if got := estimateImpact(500, 0); got != 100 {
		t.Errorf("estimateImpact with zero liquidity = %v, want 100", got)
	}
}
