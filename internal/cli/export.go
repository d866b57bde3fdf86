package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xd3bs/buysmart/internal/archive"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		beforeStr string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload closed positions to the archive bucket as JSON",
		Example: `  buysmart export
  buysmart export --older-than 720h
  buysmart export --before 2025-01-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket is not configured")
			}

			before := time.Now()
			switch {
			case beforeStr != "":
				if before, err = parseTimeFlag("before", beforeStr); err != nil {
					return err
				}
			case olderThan > 0:
				before = before.Add(-olderThan)
			}

			d, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			w, err := archive.NewS3Writer(cmd.Context(), archive.ClientConfig{
				Endpoint:       cfg.Archive.Endpoint,
				Region:         cfg.Archive.Region,
				Bucket:         cfg.Archive.Bucket,
				AccessKey:      cfg.Archive.AccessKey,
				SecretKey:      cfg.Archive.SecretKey,
				ForcePathStyle: cfg.Archive.ForcePathStyle,
			})
			if err != nil {
				return err
			}
			if err := w.Health(cmd.Context()); err != nil {
				return err
			}

			key, n, err := archive.NewExporter(d.store, w, cfg.Archive.Prefix, logger).ExportClosed(cmd.Context(), before)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Bucket string `json:"bucket"`
				Key    string `json:"key,omitempty"`
				Count  int    `json:"count"`
			}{w.Bucket(), key, n})
		},
	}
	cmd.Flags().StringVar(&beforeStr, "before", "", "export positions closed before this RFC 3339 time (default: now)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "export positions closed more than this long ago")
	return cmd
}
