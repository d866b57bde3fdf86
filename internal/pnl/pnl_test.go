package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/0xd3bs/buysmart/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		side    model.Side
		open    decimal.Decimal
		close   decimal.Decimal
		wantAbs decimal.Decimal
		wantPct decimal.Decimal
	}{
		{"buy profit", model.SideBuy, d(2000), d(2200), d(200), d(10)},
		{"buy loss", model.SideBuy, d(2000), d(1800), d(-200), d(-10)},
		{"sell profit", model.SideSell, d(2000), d(1800), d(200), d(10)},
		{"sell loss", model.SideSell, d(2000), d(2500), d(-500), d(-25)},
		{"flat", model.SideBuy, d(1500), d(1500), decimal.Zero, decimal.Zero},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(tc.side, tc.open, tc.close)
			assert.True(t, got.Absolute.Equal(tc.wantAbs), "absolute: got %s want %s", got.Absolute, tc.wantAbs)
			assert.True(t, got.Percent.Equal(tc.wantPct), "percent: got %s want %s", got.Percent, tc.wantPct)
		})
	}
}

func TestCompute_NoRounding(t *testing.T) {
	got := Compute(model.SideBuy, d(3), d(4))
	// 1/3*100 keeps the full division precision.
	assert.True(t, got.Percent.GreaterThan(d(33.3333333)))
	assert.True(t, got.Percent.LessThan(d(33.3333334)))
}

func TestCompute_ZeroOpenPrice(t *testing.T) {
	got := Compute(model.SideBuy, decimal.Zero, d(10))
	assert.True(t, got.Absolute.Equal(d(10)))
	assert.True(t, got.Percent.IsZero())
}

func TestUnrealizedAndRealized(t *testing.T) {
	p := model.Position{Side: model.SideSell, Status: model.StatusOpen, PriceUSD: d(2000)}

	u := Unrealized(p, d(1900))
	assert.True(t, u.Absolute.Equal(d(100)))
	assert.True(t, u.Percent.Equal(d(5)))

	_, ok := Realized(p)
	assert.False(t, ok)

	now := time.Now()
	p.Status = model.StatusClosed
	p.ClosedAt = &now
	p.ClosePriceUSD = decimal.NewNullDecimal(d(1900))
	p.ProfitLoss = decimal.NewNullDecimal(d(100))
	p.ProfitLossPercent = decimal.NewNullDecimal(d(5))

	r, ok := Realized(p)
	assert.True(t, ok)
	assert.True(t, r.Absolute.Equal(d(100)))
}
