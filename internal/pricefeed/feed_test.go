package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinGecko_SpotPrice(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2345.67}}`))
	}))
	defer srv.Close()

	feed, err := New(Config{Provider: ProviderCoinGecko, BaseURL: srv.URL, Asset: "ethereum", Timeout: time.Second})
	require.NoError(t, err)

	q, err := feed.SpotPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("2345.67")))
	assert.False(t, q.FetchedAt.IsZero())
	assert.Equal(t, "/simple/price?ids=ethereum&vs_currencies=usd", gotPath)
}

func TestBinance_SpotPrice(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"symbol":"ETHUSDT","price":"2100.50000000"}`)

	feed, err := New(Config{Provider: ProviderBinance, BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, ProviderBinance, feed.Name())

	q, err := feed.SpotPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("2100.5")))
}

func TestSpotPrice_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		status   int
		body     string
	}{
		{"coingecko non-2xx", ProviderCoinGecko, http.StatusTooManyRequests, `{"status":"rate limited"}`},
		{"coingecko malformed", ProviderCoinGecko, http.StatusOK, `not json`},
		{"coingecko missing asset", ProviderCoinGecko, http.StatusOK, `{"bitcoin":{"usd":1}}`},
		{"binance non-2xx", ProviderBinance, http.StatusInternalServerError, ``},
		{"binance bad price", ProviderBinance, http.StatusOK, `{"symbol":"ETHUSDT","price":"nan?"}`},
		{"binance zero price", ProviderBinance, http.StatusOK, `{"symbol":"ETHUSDT","price":"0"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body)
			feed, err := New(Config{Provider: tc.provider, BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = feed.SpotPrice(context.Background())
			assert.ErrorIs(t, err, ErrPriceFeed)
		})
	}
}

func TestSpotPrice_Unreachable(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	feed, err := New(Config{Provider: ProviderBinance, BaseURL: url})
	require.NoError(t, err)
	_, err = feed.SpotPrice(context.Background())
	assert.ErrorIs(t, err, ErrPriceFeed)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "kraken"})
	assert.Error(t, err)
}
