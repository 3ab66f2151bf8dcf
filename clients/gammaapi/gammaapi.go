// Package gammaapi is the client for the market-metadata REST API.
// The refresher uses it to load events and their markets; the detector
// uses it for live liquidity lookups.
package gammaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the gamma-style metadata API.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a metadata client.
func NewClient(logger *zap.Logger, baseURL string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

// Event wraps one or more markets under a shared slug.
type Event struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Markets     []Market `json:"markets"`
}

// Market is the metadata API's market shape. Liquidity and open
// interest arrive as either numbers or strings depending on endpoint.
type Market struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`

	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	Volume24hr   float64         `json:"volume24hr"`
	VolumeNum    float64         `json:"volumeNum"`
	LiquidityNum float64         `json:"liquidityNum"`
	Liquidity    json.RawMessage `json:"liquidity"`
	OpenInterest json.RawMessage `json:"openInterest"`

	Active bool `json:"active"`
	Closed bool `json:"closed"`
}

// GetLiquidity returns the best available liquidity figure, 0 if the
// API reported none.
func (m *Market) GetLiquidity() float64 {
	if m.LiquidityNum > 0 {
		return m.LiquidityNum
	}
	return parseRawNumber(m.Liquidity)
}

// GetOpenInterest returns the reported open interest, 0 if absent.
func (m *Market) GetOpenInterest() float64 {
	return parseRawNumber(m.OpenInterest)
}

// GetOutcomes parses the Outcomes field and returns the outcome names.
func (m *Market) GetOutcomes() []string {
	return parseStringArray(m.Outcomes)
}

// GetTokenIDs parses the ClobTokenIDs field. The feed subscribes by
// these token (asset) ids.
func (m *Market) GetTokenIDs() []string {
	return parseStringArray(m.ClobTokenIDs)
}

// GetOutcomePrices parses the OutcomePrices field.
func (m *Market) GetOutcomePrices() []float64 {
	raw := parseStringArray(m.OutcomePrices)
	if raw == nil {
		var prices []float64
		if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
			return prices
		}
		return nil
	}
	prices := make([]float64, len(raw))
	for i, s := range raw {
		prices[i], _ = strconv.ParseFloat(s, 64)
	}
	return prices
}

// parseRawNumber handles fields encoded as either a JSON number or a
// numeric string.
func parseRawNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, _ = strconv.ParseFloat(s, 64)
		return f
	}
	return 0
}

// parseStringArray handles fields that may be a JSON array or a string
// containing a JSON array.
func parseStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		// Single-element arrays sometimes hold a nested encoding.
		if len(arr) == 1 && len(arr[0]) > 0 && arr[0][0] == '[' {
			var nested []string
			if err := json.Unmarshal([]byte(arr[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		return arr
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}

	return nil
}

// GetEventBySlug fetches the event metadata for an event slug.
func (c *Client) GetEventBySlug(ctx context.Context, slug string) (*Event, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("slug is empty")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = fmt.Sprintf("/events/slug/%s", url.PathEscape(slug))

	var ev Event
	if err := c.doGet(ctx, u.String(), &ev); err != nil {
		return nil, fmt.Errorf("get event by slug: %w", err)
	}

	return &ev, nil
}

// GetMarketByConditionID fetches a single market, used for live
// liquidity lookups during gating.
func (c *Client) GetMarketByConditionID(ctx context.Context, conditionID string) (*Market, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("condition_id", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []Market
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	return &markets[0], nil
}

// Liquidity returns the live liquidity for a market, satisfying the
// detector's market-service lookup.
func (c *Client) Liquidity(ctx context.Context, conditionID string) (float64, error) {
	m, err := c.GetMarketByConditionID(ctx, conditionID)
	if err != nil {
		return 0, err
	}
	return m.GetLiquidity(), nil
}

// doGet is a helper that performs a GET request and decodes JSON response.
func (c *Client) doGet(ctx context.Context, url string, dest any) error {
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
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
