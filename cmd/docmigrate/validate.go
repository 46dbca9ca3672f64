package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/docmigrate/internal/exitcode"
	"github.com/systemshift/docmigrate/internal/notify"
	"github.com/systemshift/docmigrate/internal/validate"
)

func (a *app) validateCmd() *cobra.Command {
	var (
		candidates string
		dangling   bool
		types      []string
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Classify deletion and rename candidates against the live reference graph",
		Long: `Reads a candidate file and classifies every deletion candidate as Safe (no
other document references it) or Blocked (with the referencing documents).
Rename candidates are simulated; --dangling also scans the store for
references whose target does not exist.

Candidate file:
  deletions:  [{id: faq-A, type: faq, reason: duplicate}]
  renames:    [{type: center, from: centerCount, to: centreCount}]
  duplicates: [{type: faq, field: question}]

Nothing is mutated. A JSON report is written to report_dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := validate.Input{}
			client, err := a.client()
			if err != nil {
				return err
			}
			if candidates != "" {
				file, err := validate.LoadCandidates(candidates)
				if err != nil {
					return err
				}
				in, err = file.Resolve(cmd.Context(), client, a.cfg.PageSize)
				if err != nil {
					return err
				}
			}
			in.Dangling = dangling
			in.DanglingTypes = types

			v := validate.New(client, validate.Options{
				Concurrency: a.cfg.Concurrency,
				PageSize:    a.cfg.PageSize,
			}, a.log)
			report, err := v.Validate(cmd.Context(), in)
			if err != nil {
				return err
			}

			printValidation(cmd.OutOrStdout(), report)
			path, err := validate.WriteReport(a.cfg.ReportDir, report)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nReport written to %s\n", path)
			a.notify(cmd.Context(), notify.Event{
				Type: notify.EventValidateFinished,
				Summary: map[string]any{
					"safe":     len(report.Safe()),
					"blocked":  len(report.Blocked()),
					"renames":  len(report.Renames),
					"dangling": len(report.Dangling),
				},
				Meta: map[string]any{"report": path},
			})

			if strict && (len(report.Blocked()) > 0 || len(report.Dangling) > 0) {
				return fmt.Errorf("%w: %d blocked, %d dangling", exitcode.ErrOperationsFailed, len(report.Blocked()), len(report.Dangling))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&candidates, "candidates", "", "candidate file (YAML)")
	cmd.Flags().BoolVar(&dangling, "dangling", false, "scan for references to missing documents")
	cmd.Flags().StringSliceVar(&types, "types", nil, "limit the dangling scan to these document types")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when anything is blocked or dangling")
	return remote(cmd)
}

func printValidation(w io.Writer, r *validate.Report) {
	fmt.Fprintf(w, "Deletion candidates: %d safe, %d blocked\n", len(r.Safe()), len(r.Blocked()))
	for _, c := range r.Deletions {
		switch {
		case !c.Exists:
			fmt.Fprintf(w, "  %-8s %s (already absent)\n", c.Status, c.ID)
		case c.Status == validate.Blocked:
			fmt.Fprintf(w, "  %-8s %s <- %s\n", c.Status, c.ID, strings.Join(c.BlockedBy(), ", "))
		default:
			fmt.Fprintf(w, "  %-8s %s\n", c.Status, c.ID)
		}
	}

	if len(r.Renames) > 0 {
		fmt.Fprintf(w, "\nRenames: %d\n", len(r.Renames))
		for _, rc := range r.Renames {
			fmt.Fprintf(w, "  %-14s %s %s -> %s", rc.Status, rc.ID, rc.From, rc.To)
			if len(rc.Dangling) > 0 {
				fmt.Fprintf(w, " (dangling: %s)", strings.Join(rc.Dangling, ", "))
			}
			fmt.Fprintln(w)
		}
	}

	if len(r.Dangling) > 0 {
		fmt.Fprintf(w, "\nDangling references: %d\n", len(r.Dangling))
		for _, ref := range r.Dangling {
			fmt.Fprintf(w, "  %s.%s -> %s\n", ref.FromID, ref.Path, ref.ToID)
		}
	}
}
