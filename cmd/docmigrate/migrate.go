package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/exitcode"
	"github.com/systemshift/docmigrate/internal/gate"
	"github.com/systemshift/docmigrate/internal/migration"
	"github.com/systemshift/docmigrate/internal/mutate"
	"github.com/systemshift/docmigrate/internal/notify"
	"github.com/systemshift/docmigrate/internal/validate"
)

func (a *app) migrateCmd() *cobra.Command {
	var (
		planFile  string
		dryRun    bool
		yes       bool
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply a migration plan in dependency order",
		Long: `Loads a plan file (documents, patches, renames, deletes, remap), orders it
into phases so referenced documents are written before their referrers, and
applies each phase in bounded windows. Deletes run last, after a live
reference check; blocked deletes are skipped and reported.

Every phase that can overwrite or remove data asks for "yes" unless --yes is
given. --dry-run prints the phases and the delete classification without
writing anything. Re-running a completed plan changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := migration.LoadPlan(planFile)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.FailureThreshold
			}

			out := cmd.OutOrStdout()
			confirm := gate.Interactive(cmd.InOrStdin(), out)
			if yes {
				confirm = gate.AutoApprove
			}

			m := mutate.New(client, mutate.Options{Concurrency: a.cfg.Concurrency, Pause: a.cfg.WindowPause}, a.log)
			m.SetEventEmitter(func(ev mutate.Event) {
				fmt.Fprintf(out, "  window %d/%d: %d/%d done, %d applied, %d unchanged, %d failed\n",
					ev.Window, ev.Windows, ev.Done, ev.Total, ev.Applied, ev.Unchanged, ev.Failed)
			})
			v := validate.New(client, validate.Options{Concurrency: a.cfg.Concurrency, PageSize: a.cfg.PageSize}, a.log)

			o := migration.New(client, m, v, confirm, migration.Options{
				FailureThreshold: threshold,
				DryRun:           dryRun,
				PageSize:         a.cfg.PageSize,
			}, a.log)
			o.OnPhase(func(ev migration.PhaseEvent) {
				printPhase(out, ev, dryRun)
			})

			report, runErr := o.Run(cmd.Context(), plan)
			printMigration(out, report)
			ev := notify.Event{
				Type:    notify.EventMigrateFinished,
				RunID:   report.RunID,
				Summary: report.Summary,
				Meta:    map[string]any{"plan": report.Plan, "dry_run": report.DryRun},
			}
			if report.Aborted != "" {
				ev.Type = notify.EventMigrateAborted
				ev.Meta["aborted"] = report.Aborted
			}
			if path, err := migration.WriteReport(a.cfg.ReportDir, report); err != nil {
				a.log.Warn("could not write report", zap.Error(err))
			} else {
				fmt.Fprintf(out, "Report written to %s\n", path)
				ev.Meta["report"] = path
			}
			a.notify(cmd.Context(), ev)

			switch {
			case errors.Is(runErr, migration.ErrThresholdExceeded):
				return fmt.Errorf("%w: %w", exitcode.ErrAborted, runErr)
			case runErr != nil:
				return runErr
			case len(report.Failed) > 0:
				return fmt.Errorf("%w: %d of %d", exitcode.ErrOperationsFailed, len(report.Failed), report.Summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "plan file (YAML or JSON)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without writing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every phase without prompting")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "abort when a phase's failure rate exceeds this fraction (0 disables)")
	_ = cmd.MarkFlagRequired("plan")
	return remote(cmd)
}

func printPhase(w io.Writer, ev migration.PhaseEvent, dryRun bool) {
	p := ev.Phase
	switch {
	case dryRun:
		fmt.Fprintf(w, "%s (dry run)\n", p.Label)
		for _, op := range p.Ops {
			fmt.Fprintf(w, "    %s\n", op)
		}
	case p.Declined:
		fmt.Fprintf(w, "%s: declined\n", p.Label)
	default:
		fmt.Fprintf(w, "%s: %d applied, %d unchanged, %d failed\n",
			p.Label, p.Summary.Successful, p.Summary.Unchanged, p.Summary.Failed)
	}
}

func printMigration(w io.Writer, r *migration.Report) {
	s := r.Summary
	fmt.Fprintf(w, "\nSummary: %d operations, %d applied, %d unchanged, %d failed, %d blocked, %d skipped\n",
		s.Total, s.Successful, s.Unchanged, s.Failed, s.Blocked, s.Skipped)
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed   %s: %s\n", f.Op, f.Error)
	}
	for _, b := range r.Blocked {
		fmt.Fprintf(w, "  blocked  %s (referenced by %d)\n", b.ID, len(b.By))
	}
	for _, sk := range r.Skipped {
		fmt.Fprintf(w, "  skipped  %s: %s\n", sk.Op, sk.Reason)
	}
	if r.Aborted != "" {
		fmt.Fprintf(w, "Run aborted: %s\n", r.Aborted)
	}
}
