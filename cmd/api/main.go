// Command api is the Momentum API server.
//
// Usage:
//
//	momentum-api
//	API_PORT=8080 DATABASE_URL=postgres://... momentum-api

// @title Momentum API
// @version 1.0.0
// @description Engagement momentum scoring, intervention rules, notification dispatch, deep-link routing and content effectiveness tracking.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Momentum
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/momentum/internal/api"
	"github.com/albapepper/momentum/internal/app"
	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/listener"
	"github.com/albapepper/momentum/internal/maintenance"

	_ "github.com/albapepper/momentum/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if cfg.IsProduction() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Opening store...")
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("Components wired",
		"cache", cfg.CacheEnabled,
		"rules", len(a.Interventions.Rules()),
		"tests", len(a.Variants.Tests()))

	// LISTEN/NOTIFY consumer needs the Postgres trigger
	if a.Pool != nil {
		go listener.Start(ctx, cfg.DatabaseURL, a.Pipeline, a.Cache, logger)
	} else {
		logger.Info("Event listener disabled (SQLite backend)")
	}

	// Start maintenance tickers (batch, sweep, optimizer, cleanup)
	go maintenance.Start(ctx, a, maintenance.FromConfig(cfg))

	// Create router
	router := api.NewRouter(a)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Momentum API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
