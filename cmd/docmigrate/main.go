package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/config"
	"github.com/systemshift/docmigrate/internal/exitcode"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/notify"
	"github.com/systemshift/docmigrate/internal/store"
)

var version = "dev"

// app carries the state shared by every subcommand
type app struct {
	cfgFile string
	verbose bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "docmigrate",
		Short: "Snapshot, validate and migrate documents in a remote content store",
		Long: `docmigrate keeps a remote content store consistent while its content model
changes. It exports per-type snapshots, checks deletion candidates against the
live reference graph, and applies ordered, idempotent migration plans.

Settings come from docmigrate.yaml, --config, or DOCMIGRATE_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a.log, err = logger.New(a.verbose)
			if err != nil {
				return err
			}
			a.cfg, err = config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Annotations["remote"] == "true" {
				return a.cfg.Validate()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./docmigrate.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.exportCmd(),
		a.verifyCmd(),
		a.validateCmd(),
		a.migrateCmd(),
		a.serveCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the docmigrate version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "docmigrate", version)
			},
		},
	)
	return root
}

// remote marks a command that talks to the content store, so its
// configuration is validated before it runs
func remote(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations["remote"] = "true"
	return cmd
}

func (a *app) client() (*store.HTTPClient, error) {
	return store.NewHTTPClient(store.OptionsFromConfig(a.cfg), a.log)
}

func (a *app) source() string {
	return a.cfg.Project + "/" + a.cfg.Dataset
}

// notify delivers ev to the configured webhooks. Delivery problems are logged
// and never change the command's outcome.
func (a *app) notify(ctx context.Context, ev notify.Event) {
	if len(a.cfg.Webhooks) == 0 {
		return
	}
	ev.Source = a.source()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := notify.New(a.cfg.Webhooks, notify.Options{}, a.log).Notify(ctx, ev); err != nil {
		a.log.Warn("notification failed", zap.String("event", ev.Type), zap.Error(err))
	}
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := exitcode.FromError(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code != exitcode.GeneralError {
			fmt.Fprintf(os.Stderr, "(%s)\n", exitcode.String(code))
		}
	}
	return code
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
