package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	defaultBinanceURL   = "https://api.binance.com"
)

// CoinGecko reads /simple/price?ids={asset}&vs_currencies=usd.
type CoinGecko struct {
	client  *http.Client
	baseURL string
	asset   string
}

// NewCoinGecko creates a CoinGecko provider. Empty arguments take defaults.
func NewCoinGecko(client *http.Client, baseURL, asset string) *CoinGecko {
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	if asset == "" {
		asset = "ethereum"
	}
	return &CoinGecko{client: client, baseURL: strings.TrimRight(baseURL, "/"), asset: asset}
}

func (c *CoinGecko) Name() string { return ProviderCoinGecko }

// SpotPrice fetches the USD price of the configured asset.
func (c *CoinGecko) SpotPrice(ctx context.Context) (Quote, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(c.asset))

	// {"ethereum":{"usd":2345.67}}
	var body map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, c.client, c.Name(), u, &body); err != nil {
		return Quote{}, err
	}
	p, ok := body[c.asset]["usd"]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s: no usd price for %s", ErrPriceFeed, c.Name(), c.asset)
	}
	return positive(c.Name(), p)
}

// Binance reads /api/v3/ticker/price?symbol={symbol}.
type Binance struct {
	client  *http.Client
	baseURL string
	symbol  string
}

// NewBinance creates a Binance provider. Empty arguments take defaults.
func NewBinance(client *http.Client, baseURL, symbol string) *Binance {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	if symbol == "" {
		symbol = "ETHUSDT"
	}
	return &Binance{client: client, baseURL: strings.TrimRight(baseURL, "/"), symbol: strings.ToUpper(symbol)}
}

func (b *Binance) Name() string { return ProviderBinance }

// SpotPrice fetches the last traded price of the configured symbol.
func (b *Binance) SpotPrice(ctx context.Context) (Quote, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, url.QueryEscape(b.symbol))

	// {"symbol":"ETHUSDT","price":"2345.67000000"}
	var body struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := getJSON(ctx, b.client, b.Name(), u, &body); err != nil {
		return Quote{}, err
	}
	return positive(b.Name(), body.Price)
}
