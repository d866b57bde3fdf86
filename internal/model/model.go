// Package model defines the core domain types shared across the position tracker.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("model: invalid side %q (expected BUY or SELL)", s)
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the side a swap in direction s closes against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status tracks whether a position is open or closed.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is a tracked directional exposure. Status moves OPEN -> CLOSED
// exactly once; the close fields are either all set or all empty.
type Position struct {
	ID                string              `json:"id"`
	Side              Side                `json:"side"`
	Status            Status              `json:"status"`
	PriceUSD          decimal.Decimal     `json:"price_usd"`
	OpenedAt          time.Time           `json:"opened_at"`
	ClosePriceUSD     decimal.NullDecimal `json:"close_price_usd"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
	ProfitLoss        decimal.NullDecimal `json:"profit_loss"`
	ProfitLossPercent decimal.NullDecimal `json:"profit_loss_percent"`
	Amount            decimal.NullDecimal `json:"amount"` // informational only
}

// IsOpen reports whether the position can still be closed.
func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// ClosedBeforeOpened flags the data-quality condition closedAt < openedAt.
// It is never rejected, only reported.
func (p Position) ClosedBeforeOpened() bool {
	return p.ClosedAt != nil && p.ClosedAt.Before(p.OpenedAt)
}

// OpenPosition is the read-only projection the reconciler matches against.
type OpenPosition struct {
	ID       string    `json:"id"`
	OpenedAt time.Time `json:"opened_at"`
	Side     Side      `json:"side"`
}

// SwapResult is the payload produced by the swap-execution collaborator.
// Every field may be missing; Timestamp and BlockTimestamp are epoch seconds
// (milliseconds are tolerated and detected by magnitude).
type SwapResult struct {
	FromAmount     string `json:"from_amount"`
	ToAmount       string `json:"to_amount"`
	Timestamp      *int64 `json:"timestamp,omitempty"`
	BlockTimestamp *int64 `json:"block_timestamp,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	PriceUSD       string `json:"price_usd,omitempty"` // quoted price, never used on the strict path
}

// TokenPair names the two assets of a swap in execution order.
type TokenPair struct {
	FromSymbol string `json:"from_symbol"`
	ToSymbol   string `json:"to_symbol"`
}

func (p TokenPair) String() string { return p.FromSymbol + "->" + p.ToSymbol }

// ActionKind is the outcome of reconciling one swap.
type ActionKind string

const (
	ActionOpened  ActionKind = "opened"
	ActionClosed  ActionKind = "closed"
	ActionIgnored ActionKind = "ignored"
)

// Action describes what reconciliation did to the position book.
// For ActionClosed, Side is the side of the position that was closed.
type Action struct {
	Kind       ActionKind      `json:"kind"`
	Side       Side            `json:"side,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	At         time.Time       `json:"at"`
	Position   *Position       `json:"position,omitempty"`
}
