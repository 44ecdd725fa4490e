package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/item-price-sync/internal/config"
)

const priceOverviewPath = "/market/priceoverview/"

// PriceOverview is the market API answer for one item
type PriceOverview struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	MedianPrice string `json:"median_price"`
	Volume      string `json:"volume"`
}

// BestPrice returns the lowest listed price, falling back to the median
// when the lowest is absent or unparsable.
func (p *PriceOverview) BestPrice() (decimal.Decimal, bool) {
	if price, ok := ParsePrice(p.LowestPrice); ok {
		return price, true
	}
	return ParsePrice(p.MedianPrice)
}

// Client wraps the third-party market price API. It holds no state besides
// the HTTP client; pacing is the caller's job.
type Client struct {
	http     *resty.Client
	appID    string
	currency string
}

// NewClient creates a market API client from config
func NewClient(cfg config.MarketConfig) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		appID:    strconv.Itoa(cfg.AppID),
		currency: strconv.Itoa(cfg.Currency),
	}
}

// PriceOverview fetches the current price overview for one market hash name
func (c *Client) PriceOverview(ctx context.Context, marketHashName string) (*PriceOverview, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"appid":            c.appID,
			"currency":         c.currency,
			"market_hash_name": marketHashName,
		}).
		Get(priceOverviewPath)
	if err != nil {
		return nil, fmt.Errorf("failed to call market api: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if !resp.IsSuccess() {
		return nil, &FetchError{StatusCode: resp.StatusCode(), Reason: truncate(resp.String(), 200)}
	}

	var overview PriceOverview
	if err := json.Unmarshal(resp.Body(), &overview); err != nil {
		return nil, fmt.Errorf("failed to decode price overview: %w", err)
	}
	if !overview.Success {
		return nil, &FetchError{StatusCode: resp.StatusCode(), Reason: "listing unavailable"}
	}

	return &overview, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
