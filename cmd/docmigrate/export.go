package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/systemshift/docmigrate/internal/exitcode"
	"github.com/systemshift/docmigrate/internal/notify"
	"github.com/systemshift/docmigrate/internal/snapshot"
)

func (a *app) exportCmd() *cobra.Command {
	var (
		catalog []string
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a point-in-time snapshot of the store, one file per document type",
		Long: `Exports every document type in the catalog into a new timestamped
directory, together with inbound and outbound references, a manifest and a
human-readable summary. Existing snapshot directories are never overwritten.

Catalog entries may be glob patterns (e.g. "faq*"), resolved against the
types present in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(catalog) == 0 {
				catalog = a.cfg.Catalog
			}
			if dir == "" {
				dir = a.cfg.SnapshotDir
			}
			cat := snapshot.Catalog(catalog)
			if err := cat.Validate(); err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			exporter := snapshot.NewExporter(client, snapshot.Options{
				Dir:      dir,
				Catalog:  cat,
				PageSize: a.cfg.PageSize,
				Source:   a.source(),
			}, a.log)

			out, manifest, err := exporter.Export(cmd.Context())
			if manifest != nil {
				fmt.Fprint(cmd.OutOrStdout(), snapshot.Summary(manifest))
				fmt.Fprintf(cmd.OutOrStdout(), "\nSnapshot written to %s\n", out)
				a.notify(cmd.Context(), notify.Event{
					Type: notify.EventExportFinished,
					Summary: map[string]any{
						"dir":    out,
						"total":  manifest.Total,
						"counts": manifest.Counts,
						"errors": len(manifest.Errors),
					},
				})
			}
			if errors.Is(err, snapshot.ErrIncomplete) {
				return fmt.Errorf("%w: %w", exitcode.ErrOperationsFailed, err)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&catalog, "catalog", nil, "document types or patterns to export (default: config catalog)")
	cmd.Flags().StringVar(&dir, "dir", "", "parent directory for snapshots (default: snapshot_dir)")
	return remote(cmd)
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot-dir>",
		Short: "Check a snapshot directory against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := snapshot.Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d files, %s documents, %s\n",
				len(manifest.Files), humanize.Comma(int64(manifest.Total)), humanize.Bytes(uint64(manifest.Bytes)))
			return nil
		},
	}
}
