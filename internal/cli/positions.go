package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/store"
)

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Inspect and edit positions",
	}

	cmd.AddCommand(
		newPositionsListCmd(opts),
		newPositionsGetCmd(opts),
		newPositionsOpenCmd(opts),
		newPositionsCloseCmd(opts),
		newPositionsDeleteCmd(opts),
	)
	return cmd
}

// withDeps loads config, builds the collaborators and runs fn.
func withDeps(opts *rootOptions, cmd *cobra.Command, fn func(d *deps) error) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	d, err := build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

func newPositionsListCmd(opts *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List positions in insertion order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			want := model.Status(strings.ToUpper(status))
			if want != "" && want != model.StatusOpen && want != model.StatusClosed {
				return fmt.Errorf("bad --status %q (valid: open, closed)", status)
			}
			return withDeps(opts, cmd, func(d *deps) error {
				all, err := d.store.List(cmd.Context())
				if err != nil {
					return err
				}
				out := make([]model.Position, 0, len(all))
				for _, p := range all {
					if want == "" || p.Status == want {
						out = append(out, p)
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: open or closed")
	return cmd
}

func newPositionsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(opts, cmd, func(d *deps) error {
				p, err := d.store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newPositionsOpenCmd(opts *rootOptions) *cobra.Command {
	var (
		side     string
		priceStr string
		atStr    string
		amount   string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a position manually",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := model.ParseSide(side)
			if err != nil {
				return err
			}
			at, err := parseTimeFlag("at", atStr)
			if err != nil {
				return err
			}
			params := store.OpenParams{Side: s, OpenedAt: at}
			if amount != "" {
				a, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("bad --amount: %w", err)
				}
				params.Amount = decimal.NewNullDecimal(a)
			}
			return withDeps(opts, cmd, func(d *deps) error {
				entry, err := priceOrSpot(cmd, d, priceStr, s)
				if err != nil {
					return err
				}
				params.PriceUSD = entry
				p, err := d.store.Open(cmd.Context(), params)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", string(model.SideBuy), "BUY or SELL")
	cmd.Flags().StringVar(&priceStr, "price", "", "entry price in USD (default: spot price)")
	cmd.Flags().StringVar(&atStr, "at", "", "open time, RFC 3339 (default: now)")
	cmd.Flags().StringVar(&amount, "amount", "", "volatile asset amount (informational)")
	return cmd
}

func newPositionsCloseCmd(opts *rootOptions) *cobra.Command {
	var (
		priceStr string
		atStr    string
	)

	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an open position manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimeFlag("at", atStr)
			if err != nil {
				return err
			}
			return withDeps(opts, cmd, func(d *deps) error {
				pos, err := d.store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				closePrice, err := priceOrSpot(cmd, d, priceStr, pos.Side.Opposite())
				if err != nil {
					return err
				}
				closed, err := d.store.Close(cmd.Context(), pos.ID, at, closePrice)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), closed)
			})
		},
	}
	cmd.Flags().StringVar(&priceStr, "price", "", "exit price in USD (default: spot price)")
	cmd.Flags().StringVar(&atStr, "at", "", "close time, RFC 3339 (default: now)")
	return cmd
}

func newPositionsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(opts, cmd, func(d *deps) error {
				if err := d.store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// priceOrSpot parses an explicit --price or, when it is empty, asks the loose
// resolver, which ends at the spot feed.
func priceOrSpot(cmd *cobra.Command, d *deps, raw string, side model.Side) (decimal.Decimal, error) {
	if raw == "" {
		return d.resolver.ResolveLoose(cmd.Context(), model.SwapResult{}, side)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad --price: %w", err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("bad --price: must be positive, got %s", p)
	}
	return p, nil
}

func parseTimeFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad --%s: %w", name, err)
	}
	return t, nil
}
