package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"polywatch/internal/resilience"
)

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(nil, srv.URL, nil)
	c.retry = fastRetry()
	return c, srv
}

func TestGetUserDataFetchesAllViews(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if got := r.URL.Query().Get("user"); got != "0xabc" {
			t.Errorf("user param = %q, want 0xabc", got)
		}
		switch r.URL.Path {
		case "/activity":
			json.NewEncoder(w).Encode([]Activity{{Type: "TRADE", UsdcSize: 1200, Timestamp: 1700000000000}})
		case "/trades":
			json.NewEncoder(w).Encode([]Trade{{ID: "t1", Size: 100, Price: 0.4}})
		case "/positions":
			json.NewEncoder(w).Encode([]Position{{CurrentValue: 500}})
		case "/closed-positions":
			json.NewEncoder(w).Encode([]ClosedPosition{{RealizedPnl: 40}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	data, err := c.GetUserData(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("GetUserData: %v", err)
	}

	if atomic.LoadInt32(&hits) != 4 {
		t.Errorf("server hits = %d, want 4", hits)
	}
	if len(data.Activity) != 1 || len(data.RecentTrades) != 1 ||
		len(data.Positions) != 1 || len(data.ClosedPositions) != 1 {
		t.Errorf("incomplete user data: %+v", data)
	}
	if data.QueriedAt.IsZero() {
		t.Error("QueriedAt not set")
	}
}

func TestGetUserDataTolerates404(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/activity" {
			json.NewEncoder(w).Encode([]Activity{{Type: "TRADE"}})
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})

	data, err := c.GetUserData(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetUserData: %v", err)
	}
	if len(data.Activity) != 1 {
		t.Errorf("activity len = %d, want 1", len(data.Activity))
	}
	if len(data.Positions) != 0 {
		t.Errorf("positions len = %d, want 0", len(data.Positions))
	}
}

func TestGetUserDataFailsOnServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/positions" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]any{})
	})

	if _, err := c.GetUserData(context.Background(), "0xabc"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestDoGetRetriesTransientFailures(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]Activity{})
	})

	if _, err := c.getUserActivity(context.Background(), "0xabc", 10); err != nil {
		t.Fatalf("getUserActivity: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDoGetDoesNotRetry404(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, err := c.getUserActivity(context.Background(), "0xabc", 10)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestGetRecentTradesForMarketsBatches(t *testing.T) {
	var batches int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		markets := strings.Split(r.URL.Query().Get("market"), ",")
		if len(markets) > maxMarketsPerBatch {
			t.Errorf("batch of %d markets exceeds limit", len(markets))
		}
		if got := r.URL.Query().Get("takerOnly"); got != "true" {
			t.Errorf("takerOnly = %q, want true", got)
		}
		atomic.AddInt32(&batches, 1)

		trades := []Trade{
			{ID: "a-" + markets[0], TransactionHash: "0x" + markets[0], Timestamp: 100},
			{ID: "b-" + markets[0], TransactionHash: "0xshared", Timestamp: 300},
		}
		json.NewEncoder(w).Encode(trades)
	})

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("0xcond%02d", i)
	}

	trades, err := c.GetRecentTradesForMarkets(context.Background(), ids, 50, 0)
	if err != nil {
		t.Fatalf("GetRecentTradesForMarkets: %v", err)
	}

	if got := atomic.LoadInt32(&batches); got != 3 {
		t.Errorf("batches = %d, want 3 for 45 ids", got)
	}

	// 0xshared dedups across batches: 3 batches x 2 trades - 2 dupes.
	if len(trades) != 4 {
		t.Errorf("trades = %d, want 4 after dedup", len(trades))
	}
	for i := 1; i < len(trades); i++ {
		if trades[i-1].Timestamp < trades[i].Timestamp {
			t.Fatalf("trades not sorted newest-first at %d", i)
		}
	}
}

func TestGetRecentTradesForMarketsAppliesCashFilter(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filterType"); got != "CASH" {
			t.Errorf("filterType = %q, want CASH", got)
		}
		if got := r.URL.Query().Get("filterAmount"); got != "5000" {
			t.Errorf("filterAmount = %q, want 5000", got)
		}
		json.NewEncoder(w).Encode([]Trade{})
	})

	if _, err := c.GetRecentTradesForMarkets(context.Background(), []string{"0xcond"}, 10, 5000); err != nil {
		t.Fatalf("GetRecentTradesForMarkets: %v", err)
	}
}

func TestGetRecentTradesToleratesPartialBatchFailure(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			http.Error(w, "boom", http.StatusBadRequest) // permanent, no retry
			return
		}
		json.NewEncoder(w).Encode([]Trade{{ID: "t", TransactionHash: fmt.Sprintf("0x%d", n), Timestamp: int64(n)}})
	})

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("0xcond%02d", i)
	}

	trades, err := c.GetRecentTradesForMarkets(context.Background(), ids, 10, 0)
	if err != nil {
		t.Fatalf("partial failure should not fail the call: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trades = %d, want 1 from the surviving batch", len(trades))
	}
}

func TestBreakerShortCircuitsAfterSustainedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := resilience.NewBreakerManager(nil, resilience.BreakerSettings{
		FailureThreshold:    2,
		Cooldown:            time.Minute,
		MaxHalfOpenRequests: 1,
	})
	c := NewClient(nil, srv.URL, breakers)
	c.retry = resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	for i := 0; i < 2; i++ {
		if _, err := c.GetUserData(context.Background(), "0xabc"); err == nil {
			t.Fatal("expected failure")
		}
	}

	before := atomic.LoadInt32(&calls)
	_, err := c.GetUserData(context.Background(), "0xabc")
	if !errors.Is(err, resilience.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Errorf("open breaker still made %d network calls", got-before)
	}
}

func TestChunk(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	got := chunk(ids, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Errorf("chunk() = %v", got)
	}
	if chunk(nil, 2) != nil {
		t.Error("chunk(nil) should be nil")
	}
}
