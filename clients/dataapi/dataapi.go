// Package dataapi is the read-only client for the prediction market's
// data REST API: per-user history and market-filtered trade queries.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"polywatch/internal/resilience"
)

// BreakerName is the circuit breaker identity for this endpoint.
const BreakerName = "platform"

const (
	requestTimeout = 10 * time.Second
	batchTimeout   = 5 * time.Second

	// maxMarketsPerBatch keeps the market csv under URL-length limits.
	maxMarketsPerBatch = 20

	// maxConcurrentBatches bounds parallel batch requests.
	maxConcurrentBatches = 5
)

// StatusError carries a non-2xx HTTP status to the caller.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}

// IsNotFound reports whether err is an HTTP 404, which user endpoints
// use to mean "no data".
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return resilience.RetryableStatus(se.Code)
	}
	// Anything that never reached HTTP status is network-class.
	return err != nil
}

// ---- Data API types ----

// Trade is a fill as reported by /trades.
type Trade struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // BUY or SELL
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
}

// Activity is one row of a wallet's activity history.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, SPLIT, MERGE, REDEEM, REWARD, CONVERSION
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
}

// Position is an open position.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	PercentPnl   float64 `json:"percentPnl"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
}

// ClosedPosition is a resolved/exited position.
type ClosedPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	AvgPrice    float64 `json:"avgPrice"`
	TotalBought float64 `json:"totalBought"`
	RealizedPnl float64 `json:"realizedPnl"`
	Timestamp   int64   `json:"timestamp"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// UserData bundles the four per-user views fetched in parallel.
type UserData struct {
	Activity        []Activity
	RecentTrades    []Trade
	Positions       []Position
	ClosedPositions []ClosedPosition
	QueriedAt       time.Time
}

// Empty reports whether no view returned any data.
func (u *UserData) Empty() bool {
	return len(u.Activity) == 0 &&
		len(u.RecentTrades) == 0 &&
		len(u.Positions) == 0 &&
		len(u.ClosedPositions) == 0
}

// Client talks to the data API behind the "platform" circuit breaker.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	breakers   *resilience.BreakerManager
	retry      resilience.RetryPolicy
}

// NewClient creates a data API client.
func NewClient(logger *zap.Logger, baseURL string, breakers *resilience.BreakerManager) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = resilience.NewBreakerManager(logger, resilience.DefaultBreakerSettings())
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL:  baseURL,
		breakers: breakers,
		retry:    resilience.DefaultRetryPolicy(),
	}
}

// GetUserData issues the four per-user GETs in parallel. A 404 on any
// view is treated as "no data" for that view; any other failure fails
// the whole call. The breaker wraps the combined operation.
func (c *Client) GetUserData(ctx context.Context, wallet string) (*UserData, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	out, err := c.breakers.Execute(BreakerName, func() (any, error) {
		return c.fetchUserData(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return out.(*UserData), nil
}

func (c *Client) fetchUserData(ctx context.Context, wallet string) (*UserData, error) {
	data := &UserData{QueriedAt: time.Now()}
	errs := make([]error, 4)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		data.Activity, errs[0] = c.getUserActivity(ctx, wallet, 500)
	}()
	go func() {
		defer wg.Done()
		data.RecentTrades, errs[1] = c.getUserTrades(ctx, wallet, 100)
	}()
	go func() {
		defer wg.Done()
		data.Positions, errs[2] = c.getPositions(ctx, wallet, 200)
	}()
	go func() {
		defer wg.Done()
		data.ClosedPositions, errs[3] = c.getClosedPositions(ctx, wallet, 200)
	}()

	wg.Wait()

	for _, err := range errs {
		if err == nil || IsNotFound(err) {
			continue
		}
		return nil, fmt.Errorf("get user data for %s: %w", wallet, err)
	}

	return data, nil
}

func (c *Client) getUserActivity(ctx context.Context, wallet string, limit int) ([]Activity, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/activity"

	q := u.Query()
	q.Set("user", wallet)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var activity []Activity
	if err := c.doGet(ctx, u.String(), &activity); err != nil {
		return nil, fmt.Errorf("get user activity: %w", err)
	}

	return activity, nil
}

func (c *Client) getUserTrades(ctx context.Context, wallet string, limit int) ([]Trade, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("user", wallet)
	q.Set("takerOnly", "true")
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get user trades: %w", err)
	}

	return trades, nil
}

func (c *Client) getPositions(ctx context.Context, wallet string, limit int) ([]Position, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/positions"

	q := u.Query()
	q.Set("user", wallet)
	q.Set("sizeThreshold", "0")
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var positions []Position
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	return positions, nil
}

func (c *Client) getClosedPositions(ctx context.Context, wallet string, limit int) ([]ClosedPosition, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/closed-positions"

	q := u.Query()
	q.Set("user", wallet)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var positions []ClosedPosition
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get closed positions: %w", err)
	}

	return positions, nil
}

// GetRecentTradesForMarkets fetches recent trades across many markets.
// Condition ids are batched to stay under URL-length limits, batches run
// with bounded concurrency and a per-batch deadline, and the combined
// result is deduped by transaction hash and sorted newest-first.
// minUsdValue > 0 applies the server-side cash filter.
func (c *Client) GetRecentTradesForMarkets(
	ctx context.Context,
	conditionIDs []string,
	limit int,
	minUsdValue float64,
) ([]Trade, error) {
	if len(conditionIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	out, err := c.breakers.Execute(BreakerName, func() (any, error) {
		return c.fetchTradeBatches(ctx, conditionIDs, limit, minUsdValue)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Trade), nil
}

func (c *Client) fetchTradeBatches(
	ctx context.Context,
	conditionIDs []string,
	limit int,
	minUsdValue float64,
) ([]Trade, error) {
	batches := chunk(conditionIDs, maxMarketsPerBatch)

	sem := make(chan struct{}, maxConcurrentBatches)
	results := make([][]Trade, len(batches))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
			defer cancel()

			results[i], errs[i] = c.getMarketTrades(batchCtx, batch, limit, minUsdValue)
		}(i, batch)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var trades []Trade
	var failed int
	for i := range batches {
		if errs[i] != nil {
			failed++
			c.logger.Warn("trade batch failed",
				zap.Int("batch", i),
				zap.Error(errs[i]),
			)
			continue
		}
		for _, t := range results[i] {
			key := t.TransactionHash
			if key == "" {
				key = t.ID
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			trades = append(trades, t)
		}
	}

	if failed == len(batches) {
		return nil, fmt.Errorf("all %d trade batches failed: %w", failed, errs[0])
	}

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp > trades[j].Timestamp
	})

	return trades, nil
}

func (c *Client) getMarketTrades(
	ctx context.Context,
	conditionIDs []string,
	limit int,
	minUsdValue float64,
) ([]Trade, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("market", strings.Join(conditionIDs, ","))
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("takerOnly", "true")
	if minUsdValue > 0 {
		q.Set("filterType", "CASH")
		q.Set("filterAmount", fmt.Sprintf("%.0f", minUsdValue))
	}
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get market trades: %w", err)
	}

	return trades, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// doGet performs a GET with retry on transient failures and decodes the
// JSON response. Non-2xx statuses surface as *StatusError.
func (c *Client) doGet(ctx context.Context, url string, dest any) error {
	return c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode/100 != 2 {
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}

		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}

		return nil
	}, retryable)
}
