// Package pricefeed fetches the current spot price of the volatile asset from
// an external HTTP API. It is never used to price a reconciled swap; callers
// use it for manual entries and dashboards. No retries are performed here.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/metrics"
)

// ErrPriceFeed wraps every network, status or decode failure.
var ErrPriceFeed = errors.New("pricefeed: price feed error")

// Supported providers.
const (
	ProviderCoinGecko = "coingecko"
	ProviderBinance   = "binance"
)

// Quote is a spot price and the moment it was fetched.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Feed returns the current spot price.
type Feed interface {
	SpotPrice(ctx context.Context) (Quote, error)
	Name() string
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string
	BaseURL  string // overrides the provider default, used by tests and proxies
	Asset    string // CoinGecko coin id, e.g. "ethereum"
	Symbol   string // Binance symbol, e.g. "ETHUSDT"
	Timeout  time.Duration
}

// New builds the provider named in cfg.Provider.
func New(cfg Config) (Feed, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch strings.ToLower(cfg.Provider) {
	case ProviderCoinGecko, "":
		return NewCoinGecko(client, cfg.BaseURL, cfg.Asset), nil
	case ProviderBinance:
		return NewBinance(client, cfg.BaseURL, cfg.Symbol), nil
	}
	return nil, fmt.Errorf("pricefeed: unknown provider %q (valid: coingecko, binance)", cfg.Provider)
}

// getJSON performs a GET and decodes the body into out. Any failure is an
// ErrPriceFeed.
func getJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.PriceFeedRequests.WithLabelValues(provider, status).Inc()
		metrics.PriceFeedLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: create request: %w", ErrPriceFeed, provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: send request: %w", ErrPriceFeed, provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: unexpected status %d: %s", ErrPriceFeed, provider, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", ErrPriceFeed, provider, err)
	}
	status = "ok"
	return nil
}

func positive(provider string, p decimal.Decimal) (Quote, error) {
	if !p.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s: non-positive price %s", ErrPriceFeed, provider, p)
	}
	return Quote{Price: p, FetchedAt: time.Now().UTC()}, nil
}
