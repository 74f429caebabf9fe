// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tenderscope/tenderscope/internal/config"
	"github.com/tenderscope/tenderscope/internal/gemini"
	"github.com/tenderscope/tenderscope/internal/secrets"
	"github.com/tenderscope/tenderscope/internal/server"
	"github.com/tenderscope/tenderscope/internal/store"
	"github.com/tenderscope/tenderscope/internal/store/sqlite"
	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// healthStoreFactory opens the configured health-store backend. It is a
// package-level variable so tests can substitute an in-memory store.
var healthStoreFactory = openHealthStore

func openHealthStore(cfg config.StorageConfig) (store.HealthStore, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryHealthStore(), nil
	case "sqlite":
		return sqlite.NewHealthStore(cfg.Path)
	default:
		return nil, tserr.Errorf(tserr.CodeStoreBackendUnsupported, "unsupported storage backend %q", cfg.Backend)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tenderscope API server",
		Long:  "Load configuration, open the credential health store, and serve the generation API over HTTP.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	health, err := healthStoreFactory(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening health store: %w", err)
	}
	defer health.Close() //nolint:errcheck

	svc := gemini.NewService(cfg.Gemini, health, secrets.NewKeyringStore())

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.RegisterServices(svc, health)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting tenderscope",
		"listen", cfg.Server.Listen,
		"tier", cfg.Gemini.Tier,
		"strategy", cfg.Gemini.Strategy,
		"storage", cfg.Storage.Backend,
		"gemini_available", svc.Available(),
	)

	return srv.Start(ctx)
}
