package price

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/pricefeed"
)

// ErrPriceUnavailable is returned when no source in a pipeline could produce
// a positive price.
var ErrPriceUnavailable = errors.New("price: price unavailable")

// SpotPricer is the slice of the price feed the loose path needs.
type SpotPricer interface {
	SpotPrice(ctx context.Context) (pricefeed.Quote, error)
}

// Input is what a Source extracts a price from.
type Input struct {
	Swap model.SwapResult
	Side model.Side // direction of the swap, BUY = stable->volatile
}

// Source is one step of a price extraction pipeline.
type Source interface {
	Name() string
	Price(ctx context.Context, in Input) (decimal.Decimal, error)
}

// Resolver runs extraction pipelines in a fixed priority order.
type Resolver struct {
	classifier *Classifier
	strict     []Source
	loose      []Source
}

// NewResolver creates a resolver. feed may be nil, in which case the loose
// pipeline stops at the quoted price.
func NewResolver(classifier *Classifier, feed SpotPricer) *Resolver {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	loose := []Source{AmountSource{}, QuotedSource{}}
	if feed != nil {
		loose = append(loose, FeedSource{Feed: feed})
	}
	return &Resolver{
		classifier: classifier,
		strict:     []Source{AmountSource{}},
		loose:      loose,
	}
}

// Classifier returns the pair classifier the resolver was built with.
func (r *Resolver) Classifier() *Classifier { return r.classifier }

// Resolve computes the executed unit price of a swap from its amounts only.
// It never consults a feed.
func (r *Resolver) Resolve(swap model.SwapResult, pair model.TokenPair) (decimal.Decimal, error) {
	side, err := r.classifier.Classify(pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	// The amount source never blocks, a background context is enough.
	return run(context.Background(), r.strict, Input{Swap: swap, Side: side})
}

// ResolveLoose is the manual-entry variant: executed amounts first, then the
// payload's quoted price, then the spot feed.
func (r *Resolver) ResolveLoose(ctx context.Context, swap model.SwapResult, side model.Side) (decimal.Decimal, error) {
	return run(ctx, r.loose, Input{Swap: swap, Side: side})
}

func run(ctx context.Context, sources []Source, in Input) (decimal.Decimal, error) {
	var errs []error
	for _, src := range sources {
		p, err := src.Price(ctx, in)
		if err == nil && p.IsPositive() {
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %s", p)
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	return decimal.Zero, fmt.Errorf("%w: %w", ErrPriceUnavailable, errors.Join(errs...))
}

// AmountSource divides the stable amount by the volatile amount.
type AmountSource struct{}

func (AmountSource) Name() string { return "amounts" }

func (AmountSource) Price(_ context.Context, in Input) (decimal.Decimal, error) {
	stableRaw, volatileRaw := in.Swap.FromAmount, in.Swap.ToAmount
	if in.Side == model.SideSell {
		stableRaw, volatileRaw = in.Swap.ToAmount, in.Swap.FromAmount
	}

	stable, err := parseAmount("stable amount", stableRaw)
	if err != nil {
		return decimal.Zero, err
	}
	volatile, err := parseAmount("volatile amount", volatileRaw)
	if err != nil {
		return decimal.Zero, err
	}
	return stable.Div(volatile), nil
}

// QuotedSource reads the optional price carried by the payload.
type QuotedSource struct{}

func (QuotedSource) Name() string { return "quoted" }

func (QuotedSource) Price(_ context.Context, in Input) (decimal.Decimal, error) {
	return parseAmount("quoted price", in.Swap.PriceUSD)
}

// FeedSource asks the external spot feed.
type FeedSource struct {
	Feed SpotPricer
}

func (FeedSource) Name() string { return "feed" }

func (s FeedSource) Price(ctx context.Context, _ Input) (decimal.Decimal, error) {
	q, err := s.Feed.SpotPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// VolatileAmount returns the quantity of the volatile asset moved by a swap,
// if it parses.
func VolatileAmount(swap model.SwapResult, side model.Side) decimal.NullDecimal {
	raw := swap.ToAmount
	if side == model.SideSell {
		raw = swap.FromAmount
	}
	v, err := parseAmount("volatile amount", raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s missing", field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive, got %s", field, v)
	}
	return v, nil
}
