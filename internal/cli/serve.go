// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-webauthn-rp/internal/config"
	"github.com/jeremyhahn/go-webauthn-rp/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd starts the relying-party HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relying-party server",
	Long: `Start the WebAuthn relying-party HTTP server using the
configuration file given by --config (overridable via the
WEBAUTHN_RP_CONFIG environment variable).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if envConfig := os.Getenv("WEBAUTHN_RP_CONFIG"); envConfig != "" {
			path = envConfig
		}

		slog.Info("Starting relying-party server",
			"config", path,
			"version", Version)

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		shutdownCtx := setupSignalHandler()

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()

		select {
		case <-shutdownCtx.Done():
			slog.Info("Shutdown signal received")
		case err := <-errChan:
			return err
		}

		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownTimeout); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil
	},
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
