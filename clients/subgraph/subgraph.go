// Package subgraph is the GraphQL client for the public indexer. It is
// the second, independent source of wallet history next to the data API.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"polywatch/internal/resilience"
)

// BreakerName is the circuit breaker identity for this endpoint.
const BreakerName = "indexer"

const requestTimeout = 10 * time.Second

// accountQuery fetches the wallet's aggregate trading history.
const accountQuery = `query Account($id: ID!) {
  account(id: $id) {
    id
    creationTimestamp
    lastSeenTimestamp
    numTrades
    scaledCollateralVolume
    scaledProfit
  }
}`

// positionsQuery fetches the wallet's per-market positions.
const positionsQuery = `query Positions($user: String!) {
  marketPositions(where: { user: $user }, first: 500) {
    id
    market { id }
    netQuantity
    netValue
    valueBought
    valueSold
  }
}`

// Account is the indexer's aggregate view of one wallet. Subgraph
// numerics arrive as decimal strings.
type Account struct {
	ID                     string `json:"id"`
	CreationTimestamp      string `json:"creationTimestamp"` // unix seconds
	LastSeenTimestamp      string `json:"lastSeenTimestamp"`
	NumTrades              string `json:"numTrades"`
	ScaledCollateralVolume string `json:"scaledCollateralVolume"`
	ScaledProfit           string `json:"scaledProfit"`
}

// CreatedAt returns the account creation time, zero when unknown.
func (a *Account) CreatedAt() time.Time {
	secs := parseInt(a.CreationTimestamp)
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// LastSeenAt returns the last activity time, zero when unknown.
func (a *Account) LastSeenAt() time.Time {
	secs := parseInt(a.LastSeenTimestamp)
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// TradeCount returns the parsed trade count.
func (a *Account) TradeCount() int {
	return int(parseInt(a.NumTrades))
}

// VolumeUSD returns the parsed lifetime collateral volume.
func (a *Account) VolumeUSD() float64 {
	return parseFloat(a.ScaledCollateralVolume)
}

// ProfitUSD returns the parsed lifetime profit.
func (a *Account) ProfitUSD() float64 {
	return parseFloat(a.ScaledProfit)
}

// Position is one per-market position row.
type Position struct {
	ID          string    `json:"id"`
	Market      MarketRef `json:"market"`
	NetQuantity string    `json:"netQuantity"`
	NetValue    string    `json:"netValue"`
	ValueBought string    `json:"valueBought"`
	ValueSold   string    `json:"valueSold"`
}

// MarketRef is the nested market reference on a position.
type MarketRef struct {
	ID string `json:"id"`
}

// MarketID returns the market this position belongs to.
func (p *Position) MarketID() string { return p.Market.ID }

// ExposureUSD returns the position's current value.
func (p *Position) ExposureUSD() float64 {
	if v := parseFloat(p.NetValue); v != 0 {
		return v
	}
	return parseFloat(p.ValueBought) - parseFloat(p.ValueSold)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// Client issues GraphQL queries through a token bucket and the
// "indexer" circuit breaker.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter
	breakers   *resilience.BreakerManager
	retry      resilience.RetryPolicy
}

// NewClient creates an indexer client. rps bounds outbound query rate.
func NewClient(logger *zap.Logger, endpoint string, rps float64, breakers *resilience.BreakerManager) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rps <= 0 {
		rps = 10
	}
	if breakers == nil {
		breakers = resilience.NewBreakerManager(logger, resilience.DefaultBreakerSettings())
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		endpoint: endpoint,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		breakers: breakers,
		retry:    resilience.DefaultRetryPolicy(),
	}
}

// GetUserAccount fetches the wallet's aggregate history. A missing
// account or a GraphQL-level error resolves to (nil, nil) so the caller
// can fall back to the other source.
func (c *Client) GetUserAccount(ctx context.Context, address string) (*Account, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}

	out, err := c.breakers.Execute(BreakerName, func() (any, error) {
		var result struct {
			Account *Account `json:"account"`
		}
		ok, err := c.query(ctx, accountQuery, map[string]any{"id": address}, &result)
		if err != nil {
			return nil, err
		}
		if !ok {
			return (*Account)(nil), nil
		}
		return result.Account, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*Account), nil
}

// GetUserPositions fetches the wallet's per-market positions. GraphQL
// errors resolve to (nil, nil).
func (c *Client) GetUserPositions(ctx context.Context, address string) ([]Position, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}

	out, err := c.breakers.Execute(BreakerName, func() (any, error) {
		var result struct {
			MarketPositions []Position `json:"marketPositions"`
		}
		ok, err := c.query(ctx, positionsQuery, map[string]any{"user": address}, &result)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []Position(nil), nil
		}
		return result.MarketPositions, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]Position), nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query runs one GraphQL request with rate limiting and retry. It
// returns ok=false when the server answered with errors[]; transport
// and HTTP failures return an error.
func (c *Client) query(ctx context.Context, query string, variables map[string]any, dest any) (bool, error) {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return false, fmt.Errorf("encode query: %w", err)
	}

	var gqlErrs []graphqlError
	err = c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
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
			return &statusError{code: resp.StatusCode, body: string(body)}
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphqlError  `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		gqlErrs = envelope.Errors
		if len(envelope.Errors) > 0 {
			return nil
		}

		if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			gqlErrs = []graphqlError{{Message: "empty data"}}
			return nil
		}

		return json.Unmarshal(envelope.Data, dest)
	}, retryableQueryError)
	if err != nil {
		return false, err
	}

	if len(gqlErrs) > 0 {
		c.logger.Warn("indexer returned graphql errors",
			zap.String("first", gqlErrs[0].Message),
			zap.Int("count", len(gqlErrs)),
		)
		return false, nil
	}

	return true, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.code, e.body)
}

func retryableQueryError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return resilience.RetryableStatus(se.code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}
