package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/pricefeed"
)

var (
	usdcToEth = model.TokenPair{FromSymbol: "USDC", ToSymbol: "ETH"}
	ethToUsdc = model.TokenPair{FromSymbol: "ETH", ToSymbol: "USDC"}
)

type fakeFeed struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeFeed) SpotPrice(context.Context) (pricefeed.Quote, error) {
	f.calls++
	if f.err != nil {
		return pricefeed.Quote{}, f.err
	}
	return pricefeed.Quote{Price: f.price, FetchedAt: time.Now()}, nil
}

func TestResolve_BuyDirection(t *testing.T) {
	r := NewResolver(nil, nil)
	p, err := r.Resolve(model.SwapResult{FromAmount: "2000", ToAmount: "1"}, usdcToEth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2000)), "got %s", p)
}

func TestResolve_SellDirection(t *testing.T) {
	r := NewResolver(nil, nil)
	p, err := r.Resolve(model.SwapResult{FromAmount: "0.5", ToAmount: "1100"}, ethToUsdc)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2200)), "got %s", p)
}

func TestResolve_ReflectsExecutedAmounts(t *testing.T) {
	r := NewResolver(nil, nil)
	// Quoted price is ignored on the strict path.
	p, err := r.Resolve(model.SwapResult{FromAmount: "1990", ToAmount: "0.995", PriceUSD: "2100"}, usdcToEth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2000)), "got %s", p)
}

func TestResolve_Failures(t *testing.T) {
	feed := &fakeFeed{price: decimal.NewFromInt(1234)}
	r := NewResolver(nil, feed)

	tests := []struct {
		name string
		swap model.SwapResult
		pair model.TokenPair
	}{
		{"missing to amount", model.SwapResult{FromAmount: "2000"}, usdcToEth},
		{"missing from amount", model.SwapResult{ToAmount: "1"}, usdcToEth},
		{"zero amount", model.SwapResult{FromAmount: "2000", ToAmount: "0"}, usdcToEth},
		{"negative amount", model.SwapResult{FromAmount: "-1", ToAmount: "2000"}, ethToUsdc},
		{"garbage amount", model.SwapResult{FromAmount: "abc", ToAmount: "1"}, usdcToEth},
		{"unsupported pair", model.SwapResult{FromAmount: "1", ToAmount: "1"}, model.TokenPair{FromSymbol: "DAI", ToSymbol: "BTC"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.swap, tc.pair)
			assert.ErrorIs(t, err, ErrPriceUnavailable)
		})
	}
	assert.Zero(t, feed.calls, "strict path must never consult the feed")
}

func TestResolve_UnsupportedPairWrapsCause(t *testing.T) {
	r := NewResolver(nil, nil)
	_, err := r.Resolve(model.SwapResult{FromAmount: "1", ToAmount: "1"}, model.TokenPair{FromSymbol: "ETH", ToSymbol: "WETH"})
	assert.ErrorIs(t, err, ErrUnsupportedPair)
}

func TestResolveLoose_Pipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("amounts win", func(t *testing.T) {
		feed := &fakeFeed{price: decimal.NewFromInt(1)}
		r := NewResolver(nil, feed)
		p, err := r.ResolveLoose(ctx, model.SwapResult{FromAmount: "3000", ToAmount: "1.5", PriceUSD: "9"}, model.SideBuy)
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(2000)))
		assert.Zero(t, feed.calls)
	})

	t.Run("quoted price next", func(t *testing.T) {
		feed := &fakeFeed{price: decimal.NewFromInt(1)}
		r := NewResolver(nil, feed)
		p, err := r.ResolveLoose(ctx, model.SwapResult{PriceUSD: "2050.5"}, model.SideSell)
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.RequireFromString("2050.5")))
		assert.Zero(t, feed.calls)
	})

	t.Run("feed last", func(t *testing.T) {
		feed := &fakeFeed{price: decimal.NewFromInt(1999)}
		r := NewResolver(nil, feed)
		p, err := r.ResolveLoose(ctx, model.SwapResult{}, model.SideBuy)
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(1999)))
		assert.Equal(t, 1, feed.calls)
	})

	t.Run("all fail", func(t *testing.T) {
		feed := &fakeFeed{err: pricefeed.ErrPriceFeed}
		r := NewResolver(nil, feed)
		_, err := r.ResolveLoose(ctx, model.SwapResult{}, model.SideBuy)
		assert.ErrorIs(t, err, ErrPriceUnavailable)
		assert.True(t, errors.Is(err, pricefeed.ErrPriceFeed))
	})
}

func TestVolatileAmount(t *testing.T) {
	swap := model.SwapResult{FromAmount: "2000", ToAmount: "1"}
	buy := VolatileAmount(swap, model.SideBuy)
	require.True(t, buy.Valid)
	assert.True(t, buy.Decimal.Equal(decimal.NewFromInt(1)))

	sell := VolatileAmount(swap, model.SideSell)
	require.True(t, sell.Valid)
	assert.True(t, sell.Decimal.Equal(decimal.NewFromInt(2000)))

	assert.False(t, VolatileAmount(model.SwapResult{}, model.SideBuy).Valid)
}
