// Package reconcile maps completed swaps onto the position book.
//
// A buy-direction swap (stable -> volatile) closes the oldest open SELL or,
// if there is none, opens a BUY. A sell-direction swap mirrors that against
// open BUYs. Prices come only from the executed amounts of the swap.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/metrics"
	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/price"
	"github.com/0xd3bs/buysmart/internal/store"
)

// Metric origin label for positions touched by reconciliation.
const originSwap = "swap"

// Store is the slice of the position store the reconciler needs.
type Store interface {
	Open(ctx context.Context, p store.OpenParams) (model.Position, error)
	Close(ctx context.Context, id string, closedAt time.Time, closePriceUSD decimal.Decimal) (model.Position, error)
	ListOpen(ctx context.Context) ([]model.OpenPosition, error)
}

// Reconciler turns one swap into one store mutation.
type Reconciler struct {
	store    Store
	resolver *price.Resolver
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the fallback clock used when a swap has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler. A nil resolver uses the default USDC/ETH pair.
func New(st Store, resolver *price.Resolver, logger *slog.Logger, opts ...Option) *Reconciler {
	if resolver == nil {
		resolver = price.NewResolver(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:    st,
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies a completed swap to the position book. Unsupported pairs
// yield an ActionIgnored with a nil error. On any error the store is left as
// it was before the call.
func (r *Reconciler) Reconcile(ctx context.Context, swap model.SwapResult, pair model.TokenPair) (model.Action, error) {
	side, err := r.resolver.Classifier().Classify(pair)
	if err != nil {
		r.logger.DebugContext(ctx, "swap ignored",
			slog.String("pair", pair.String()),
			slog.String("reason", err.Error()),
		)
		return model.Action{Kind: model.ActionIgnored}, nil
	}

	unitPrice, err := r.resolver.Resolve(swap, pair)
	if err != nil {
		return model.Action{}, fmt.Errorf("reconcile: resolve price: %w", err)
	}

	at, source := price.ResolveTimestamp(swap, r.now)

	open, err := r.store.ListOpen(ctx)
	if err != nil {
		return model.Action{}, fmt.Errorf("reconcile: list open positions: %w", err)
	}

	// ListOpen is oldest first, so the first opposing entry is the one to close.
	opposite := side.Opposite()
	for _, op := range open {
		if op.Side != opposite {
			continue
		}
		return r.close(ctx, op, at, unitPrice)
	}
	return r.open(ctx, side, swap, at, source, unitPrice)
}

func (r *Reconciler) close(ctx context.Context, op model.OpenPosition, at time.Time, unitPrice decimal.Decimal) (model.Action, error) {
	pos, err := r.store.Close(ctx, op.ID, at, unitPrice)
	if err != nil {
		return model.Action{}, fmt.Errorf("reconcile: close position %s: %w", op.ID, err)
	}
	metrics.PositionsClosed.WithLabelValues(string(pos.Side), originSwap).Inc()

	if pos.ClosedBeforeOpened() {
		r.logger.WarnContext(ctx, "position closed before it was opened",
			slog.String("id", pos.ID),
			slog.Time("opened_at", pos.OpenedAt),
			slog.Time("closed_at", at),
		)
	}
	r.logger.InfoContext(ctx, "position closed",
		slog.String("id", pos.ID),
		slog.String("side", string(pos.Side)),
		slog.String("close_price_usd", unitPrice.String()),
		slog.String("profit_loss", pos.ProfitLoss.Decimal.String()),
	)
	return model.Action{
		Kind:       model.ActionClosed,
		Side:       pos.Side,
		PositionID: pos.ID,
		Price:      unitPrice,
		At:         at,
		Position:   &pos,
	}, nil
}

func (r *Reconciler) open(ctx context.Context, side model.Side, swap model.SwapResult, at time.Time, source string, unitPrice decimal.Decimal) (model.Action, error) {
	pos, err := r.store.Open(ctx, store.OpenParams{
		Side:     side,
		PriceUSD: unitPrice,
		OpenedAt: at,
		Amount:   price.VolatileAmount(swap, side),
	})
	if err != nil {
		return model.Action{}, fmt.Errorf("reconcile: open %s position: %w", side, err)
	}
	metrics.PositionsOpened.WithLabelValues(string(side), originSwap).Inc()

	r.logger.InfoContext(ctx, "position opened",
		slog.String("id", pos.ID),
		slog.String("side", string(side)),
		slog.String("price_usd", unitPrice.String()),
		slog.String("time_source", source),
	)
	return model.Action{
		Kind:       model.ActionOpened,
		Side:       side,
		PositionID: pos.ID,
		Price:      unitPrice,
		At:         at,
		Position:   &pos,
	}, nil
}

