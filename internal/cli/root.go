// Package cli wires configuration, storage, pricing and the reconciliation
// queue into the buysmart command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/0xd3bs/buysmart/internal/config"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "buysmart",
		Short: "Swap-to-position reconciliation engine",
		Long: `buysmart turns completed stable/volatile swaps (USDC/ETH by default)
into tracked positions.

A stable->volatile swap is a BUY, the reverse is a SELL. Each swap closes
the oldest open position of the opposite side at the executed price and
records its P&L; when there is none, it opens a position of its own side.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (TOML, or YAML for .yaml/.yml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newReconcileCmd(opts),
		newPositionsCmd(opts),
		newPriceCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads and validates the configuration and builds the logger. Logs go
// to stderr so command output on stdout stays machine-readable.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	return o.loadTo(cmd.ErrOrStderr())
}

func (o *rootOptions) loadTo(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
