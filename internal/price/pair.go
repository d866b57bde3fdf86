// Package price turns completed swaps into execution prices.
//
// The strict path (Resolver.Resolve) only ever divides the executed amounts
// of the swap, so a recorded entry or exit price always reflects the real
// trade including slippage and fees. The loose path (Resolver.ResolveLoose)
// is reserved for manual entries and may fall back to a quoted price or a
// spot feed.
package price

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/0xd3bs/buysmart/internal/model"
)

var (
	ErrInvalidPair     = errors.New("price: invalid pair format")
	ErrUnsupportedPair = errors.New("price: unsupported token pair")
)

// pairRegex matches "USDC->ETH", "USDC:ETH", "USDC/ETH" or "USDC→ETH".
var pairRegex = regexp.MustCompile(`^([A-Za-z0-9.]+)\s*(?:->|→|:|/)\s*([A-Za-z0-9.]+)$`)

// ParsePair parses a pair written as FROM->TO.
func ParsePair(s string) (model.TokenPair, error) {
	m := pairRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return model.TokenPair{}, fmt.Errorf("%w: %q (expected FROM->TO, e.g. USDC->ETH)", ErrInvalidPair, s)
	}
	return model.TokenPair{FromSymbol: strings.ToUpper(m[1]), ToSymbol: strings.ToUpper(m[2])}, nil
}

// Classifier decides swap direction from which side holds the stable asset.
type Classifier struct {
	stable   map[string]bool
	volatile map[string]bool
}

// NewClassifier builds a classifier over the given symbol sets. Symbols are
// compared case-insensitively.
func NewClassifier(stable, volatile []string) *Classifier {
	c := &Classifier{
		stable:   make(map[string]bool, len(stable)),
		volatile: make(map[string]bool, len(volatile)),
	}
	for _, s := range stable {
		c.stable[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	for _, s := range volatile {
		c.volatile[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return c
}

// DefaultClassifier treats USDC as the stable reference and ETH as the
// volatile asset.
func DefaultClassifier() *Classifier {
	return NewClassifier([]string{"USDC"}, []string{"ETH", "WETH"})
}

// Classify maps stable->volatile to a BUY-direction swap and volatile->stable
// to a SELL-direction swap. Anything else is ErrUnsupportedPair.
func (c *Classifier) Classify(pair model.TokenPair) (model.Side, error) {
	from := strings.ToUpper(strings.TrimSpace(pair.FromSymbol))
	to := strings.ToUpper(strings.TrimSpace(pair.ToSymbol))

	switch {
	case c.stable[from] && c.volatile[to]:
		return model.SideBuy, nil
	case c.volatile[from] && c.stable[to]:
		return model.SideSell, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedPair, pair)
}
