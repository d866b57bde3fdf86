package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/price"
	"github.com/0xd3bs/buysmart/internal/reconcile"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		pairStr    string
		from, to   string
		fromAmount string
		toAmount   string
		timestamp  int64
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one completed swap against the position store",
		Example: `  buysmart reconcile --pair USDC->ETH --from-amount 1000 --to-amount 0.5
  buysmart reconcile --from ETH --to USDC --from-amount 0.5 --to-amount 1100 --timestamp 1700000000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair := model.TokenPair{FromSymbol: from, ToSymbol: to}
			if pairStr != "" {
				p, err := price.ParsePair(pairStr)
				if err != nil {
					return err
				}
				pair = p
			}
			if pair.FromSymbol == "" || pair.ToSymbol == "" {
				return fmt.Errorf("missing pair: set --pair or both --from and --to")
			}

			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			d, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			swap := model.SwapResult{
				FromAmount: fromAmount,
				ToAmount:   toAmount,
			}
			if cmd.Flags().Changed("timestamp") {
				swap.Timestamp = &timestamp
			}

			action, err := reconcile.New(d.store, d.resolver, logger).Reconcile(cmd.Context(), swap, pair)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), action)
		},
	}

	cmd.Flags().StringVar(&pairStr, "pair", "", `token pair, e.g. "USDC->ETH"`)
	cmd.Flags().StringVar(&from, "from", "", "symbol sold")
	cmd.Flags().StringVar(&to, "to", "", "symbol bought")
	cmd.Flags().StringVar(&fromAmount, "from-amount", "", "amount sold")
	cmd.Flags().StringVar(&toAmount, "to-amount", "", "amount received")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "swap time, unix seconds or milliseconds")
	return cmd
}
