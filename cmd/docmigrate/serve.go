package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/config"
	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/server/api"
	"github.com/systemshift/docmigrate/internal/server/graph"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr    string
		backend string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local content API for rehearsals",
		Long: `Serves the content API that docmigrate talks to, backed by SQLite (default)
or Neo4j. Point api_url at it to rehearse exports and migrations against a
disposable copy of the data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			if backend != "" {
				sc.Backend = backend
			}

			ctx := cmd.Context()
			repo, err := openRepository(ctx, sc)
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())

			server := api.New(repo, api.Options{
				Project: a.cfg.Project,
				Dataset: a.cfg.Dataset,
				Token:   a.cfg.Token,
			}, a.log)

			srv := &http.Server{
				Addr:         sc.Addr,
				Handler:      server.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("content API listening",
					zap.String("addr", sc.Addr),
					zap.String("backend", sc.Backend))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down content API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&backend, "backend", "", "storage backend: sqlite or neo4j (default: server.backend)")
	return cmd
}

func openRepository(ctx context.Context, sc config.ServerConfig) (graph.Repository, error) {
	switch sc.Backend {
	case "sqlite", "":
		return graph.NewSQLite(ctx, sc.DBPath)
	case "neo4j":
		repo, err := graph.NewNeo4j(ctx, graph.Config{
			URI:      sc.Neo4jURI,
			Username: sc.Neo4jUser,
			Password: sc.Neo4jPassword,
			Database: sc.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	default:
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("unknown server backend %q", sc.Backend)}
	}
}
