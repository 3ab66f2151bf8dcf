package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"polywatch/clients/dataapi"
	"polywatch/internal/model"
	"polywatch/internal/registry"
)

// The polling feed must accept the real client without an adapter.
var _ TradeSource = (*dataapi.Client)(nil)

func TestHandleMessageForwardsKnownAsset(t *testing.T) {
	resolver := &fakeResolver{assets: map[string]string{"tok1": "m1"}}
	sink := &fakeTradeSink{}
	f := NewWSFeed(nil, nil, resolver, sink)

	msg := json.RawMessage(`{
		"event_type": "trade",
		"asset_id": "tok1",
		"price": "0.40",
		"size": "100000",
		"side": "BUY",
		"outcome": "Yes",
		"taker_address": "0xTaker",
		"timestamp": "1700000000",
		"transaction_hash": "0xabc"
	}`)
	f.handleMessage(msg)

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	if got[0].MarketID != "m1" || got[0].Taker != "0xTaker" {
		t.Fatalf("unexpected trade %+v", got[0])
	}
	if got[0].Timestamp != 1700000000000 {
		t.Fatalf("expected millis timestamp, got %d", got[0].Timestamp)
	}
}

func TestHandleMessageDropsUnknownAsset(t *testing.T) {
	resolver := &fakeResolver{assets: map[string]string{}}
	sink := &fakeTradeSink{}
	f := NewWSFeed(nil, nil, resolver, sink)

	f.handleMessage(json.RawMessage(`{"event_type":"trade","asset_id":"mystery","size":"1","price":"0.5"}`))

	if len(sink.received()) != 0 {
		t.Fatal("unknown asset should not reach the sink")
	}
}

func TestHandleMessageIgnoresNonTradeFrames(t *testing.T) {
	resolver := &fakeResolver{assets: map[string]string{"tok1": "m1"}}
	sink := &fakeTradeSink{}
	f := NewWSFeed(nil, nil, resolver, sink)

	f.handleMessage(json.RawMessage(`{"event_type":"book","asset_id":"tok1"}`))

	if len(sink.received()) != 0 {
		t.Fatal("book frames should be ignored")
	}
}

func TestSyncSubscriptionsNoDeltaIsQuiet(t *testing.T) {
	resolver := &fakeResolver{assets: map[string]string{"tok1": "m1", "tok2": "m1"}}
	f := NewWSFeed(nil, nil, resolver, &fakeTradeSink{})

	current := map[string]struct{}{"tok1": {}, "tok2": {}}

	// No delta means no frames are sent; must not touch the connection.
	f.syncSubscriptions(current)

	if len(current) != 2 {
		t.Fatalf("subscription set should be unchanged, got %d", len(current))
	}
}

func pollRegistry() *registry.Registry {
	reg := registry.New(nil)
	reg.Replace([]model.Market{{
		ID:          "m1",
		ConditionID: "0xc1",
		Enabled:     true,
		Active:      true,
	}})
	return reg
}

func TestPollOnceEnqueuesNewTradesOnly(t *testing.T) {
	source := &fakeTradeSource{trades: []dataapi.Trade{
		{ID: "a", TransactionHash: "0x1", ConditionID: "0xc1", ProxyWallet: "0xW", Side: "BUY", Size: 100, Price: 0.5, Timestamp: 1700000000},
		{ID: "b", TransactionHash: "0x2", ConditionID: "0xc1", ProxyWallet: "0xW", Side: "SELL", Size: 50, Price: 0.5, Timestamp: 1700000001},
		{ID: "dup", TransactionHash: "0x1", ConditionID: "0xc1", ProxyWallet: "0xW", Side: "BUY", Size: 100, Price: 0.5, Timestamp: 1700000000},
	}}
	sink := &fakeTradeSink{}

	f := NewPollFeed(nil, testLiveConfig(), source, pollRegistry(), sink)

	if err := f.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if got := len(sink.received()); got != 2 {
		t.Fatalf("expected 2 trades after hash dedup, got %d", got)
	}

	// Second round sees the same trades again.
	if err := f.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if got := len(sink.received()); got != 2 {
		t.Fatalf("repeat poll should enqueue nothing, got %d", got)
	}
}

func TestPollOnceSkipsUnknownConditions(t *testing.T) {
	source := &fakeTradeSource{trades: []dataapi.Trade{
		{ID: "a", ConditionID: "0xunknown", ProxyWallet: "0xW", Size: 1, Price: 0.5},
	}}
	sink := &fakeTradeSink{}

	f := NewPollFeed(nil, testLiveConfig(), source, pollRegistry(), sink)

	if err := f.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(sink.received()) != 0 {
		t.Fatal("trades on unknown conditions should be dropped")
	}
}

func TestPollOnceSurfacesSourceError(t *testing.T) {
	source := &fakeTradeSource{err: errors.New("api down")}

	f := NewPollFeed(nil, testLiveConfig(), source, pollRegistry(), &fakeTradeSink{})

	if err := f.PollOnce(context.Background()); err == nil {
		t.Fatal("expected source error to surface")
	}
}

func TestConvertRESTTradeWidensSeconds(t *testing.T) {
	got := convertRESTTrade(dataapi.Trade{
		ID:          "a",
		ProxyWallet: "0xW",
		Side:        "BUY",
		Size:        10,
		Price:       0.3,
		Timestamp:   1700000000,
	}, "m1")

	if got.Timestamp != 1700000000000 {
		t.Fatalf("expected millis, got %d", got.Timestamp)
	}
	if got.Taker != "0xW" || got.MarketID != "m1" {
		t.Fatalf("unexpected conversion %+v", got)
	}
}

func TestTradeKeyPrefersTransactionHash(t *testing.T) {
	if got := tradeKey(dataapi.Trade{ID: "a", TransactionHash: "0x1"}); got != "0x1" {
		t.Fatalf("expected hash, got %q", got)
	}
	if got := tradeKey(dataapi.Trade{ID: "a"}); got != "a" {
		t.Fatalf("expected id fallback, got %q", got)
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	d := reconnectBase
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != reconnectMax {
		t.Fatalf("expected cap at %v, got %v", reconnectMax, d)
	}
	if got := nextBackoff(2 * time.Second); got != 4*time.Second {
		t.Fatalf("expected doubling, got %v", got)
	}
}
