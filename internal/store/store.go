// Package store defines the persistence interface for positions.
// Implementations include in-memory (tests, development), SQLite (single-node
// file), PostgreSQL (source of truth for deployments), and a Redis
// read-through cache that wraps any of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/id"
	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/pnl"
)

var (
	// ErrPositionNotFound is returned when no position has the requested id.
	ErrPositionNotFound = errors.New("store: position not found")

	// ErrAlreadyClosed is returned by Close on a CLOSED position. A second
	// close would rewrite the P&L history, so it is rejected.
	ErrAlreadyClosed = errors.New("store: position already closed")

	// ErrStorage wraps failures of the underlying persistence layer.
	ErrStorage = errors.New("store: storage failure")

	// ErrInvalidPosition is returned for a bad side or non-positive price.
	ErrInvalidPosition = errors.New("store: invalid position")
)

// OpenParams describes a new position. A zero OpenedAt means "now".
type OpenParams struct {
	Side     model.Side
	PriceUSD decimal.Decimal
	OpenedAt time.Time
	Amount   decimal.NullDecimal
}

// PositionStore owns the canonical collection of positions. It is the only
// place where a position changes state.
type PositionStore interface {
	// Open creates a new OPEN position with a fresh id.
	Open(ctx context.Context, p OpenParams) (model.Position, error)

	// Close sets the exit price and time, computes P&L and flips the status.
	Close(ctx context.Context, id string, closedAt time.Time, closePriceUSD decimal.Decimal) (model.Position, error)

	// Get returns one position.
	Get(ctx context.Context, id string) (model.Position, error)

	// List returns all positions in insertion order.
	List(ctx context.Context) ([]model.Position, error)

	// ListOpen returns the OPEN positions ordered by OpenedAt, oldest
	// first, ties in insertion order.
	ListOpen(ctx context.Context) ([]model.OpenPosition, error)

	// Delete removes a position. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
}

// newPosition validates params and builds the record to insert.
func newPosition(p OpenParams) (model.Position, error) {
	if !p.Side.Valid() {
		return model.Position{}, fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	}
	if !p.PriceUSD.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: price_usd must be positive, got %s", ErrInvalidPosition, p.PriceUSD)
	}
	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	return model.Position{
		ID:       id.New(),
		Side:     p.Side,
		Status:   model.StatusOpen,
		PriceUSD: p.PriceUSD,
		OpenedAt: openedAt.UTC(),
		Amount:   p.Amount,
	}, nil
}

// applyClose transitions pos to CLOSED in place. Every backend calls this
// under its own lock or transaction so the transition happens once.
func applyClose(pos *model.Position, closedAt time.Time, closePrice decimal.Decimal) error {
	if pos.Status == model.StatusClosed {
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, pos.ID)
	}
	if !closePrice.IsPositive() {
		return fmt.Errorf("%w: close_price_usd must be positive, got %s", ErrInvalidPosition, closePrice)
	}
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	at := closedAt.UTC()
	res := pnl.Compute(pos.Side, pos.PriceUSD, closePrice)

	pos.Status = model.StatusClosed
	pos.ClosePriceUSD = decimal.NewNullDecimal(closePrice)
	pos.ClosedAt = &at
	pos.ProfitLoss = decimal.NewNullDecimal(res.Absolute)
	pos.ProfitLossPercent = decimal.NewNullDecimal(res.Percent)
	return nil
}

// sortOpen orders by OpenedAt; the stable sort keeps insertion order on ties.
func sortOpen(open []model.OpenPosition) {
	slices.SortStableFunc(open, func(a, b model.OpenPosition) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// parseDecimal reads a NUMERIC/TEXT column.
func parseDecimal(col, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", col, s, err)
	}
	return d, nil
}

// parseNullDecimal reads a nullable NUMERIC/TEXT column.
func parseNullDecimal(col string, s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(col, *s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// nullString renders an optional decimal for a nullable column.
func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// buildPosition assembles a row read from a SQL backend.
func buildPosition(p model.Position, side, status, price string, closePrice *string,
	closedAt *time.Time, pl, plPct, amount *string) (model.Position, error) {
	var err error
	p.Side = model.Side(side)
	p.Status = model.Status(status)
	p.OpenedAt = p.OpenedAt.UTC()
	if p.PriceUSD, err = parseDecimal("price_usd", price); err != nil {
		return model.Position{}, err
	}
	if p.ClosePriceUSD, err = parseNullDecimal("close_price_usd", closePrice); err != nil {
		return model.Position{}, err
	}
	if p.ProfitLoss, err = parseNullDecimal("profit_loss", pl); err != nil {
		return model.Position{}, err
	}
	if p.ProfitLossPercent, err = parseNullDecimal("profit_loss_percent", plPct); err != nil {
		return model.Position{}, err
	}
	if p.Amount, err = parseNullDecimal("amount", amount); err != nil {
		return model.Position{}, err
	}
	if closedAt != nil {
		at := closedAt.UTC()
		p.ClosedAt = &at
	}
	return p, nil
}
