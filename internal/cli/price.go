package cli

import (
	"github.com/spf13/cobra"

	"github.com/0xd3bs/buysmart/internal/pricefeed"
)

func newPriceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Print the current spot price of the volatile asset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(opts, cmd, func(d *deps) error {
				q, err := d.feed.SpotPrice(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Provider string `json:"provider"`
					pricefeed.Quote
				}{d.feed.Name(), q})
			})
		},
	}
}
