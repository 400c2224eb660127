// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianForge/pkg/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/ingest"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Forge HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the full service and blocks until SIGINT or SIGTERM,
// then drains in-flight requests within the configured grace period.
func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	slogger := logger.Slog()

	cfg, err := forge.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The service survives without telemetry; requests do not.
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slogger.Warn("telemetry_init_failed", "error", err)
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				slogger.Warn("telemetry_shutdown_failed", "error", err)
			}
		}()
	}

	mets, err := telemetry.NewMetrics(otel.Meter("forge"))
	if err != nil {
		slogger.Warn("metrics_init_failed", "error", err)
		mets = nil
	}

	svc, err := forge.New(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slogger.Warn("service_close_failed", "error", err)
		}
	}()

	ingestor, err := ingest.New(svc.Embedder, svc.Store, ingest.DefaultChunkSize, slogger)
	if err != nil {
		return err
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(router, svc, ingestor, mets, slogger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("server_listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slogger.Info("server_draining", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slogger.Info("server_stopped")
	return nil
}
