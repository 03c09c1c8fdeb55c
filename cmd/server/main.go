package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/clinicops/intake/internal/application"
	"github.com/clinicops/intake/internal/config"
	"github.com/clinicops/intake/internal/logging"
	"github.com/clinicops/intake/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"date_order", cfg.Import.DateOrder,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start import service", "error", err)
		os.Exit(1)
	}

	var tableKeys []string
	for _, t := range app.Service.ListTables() {
		tableKeys = append(tableKeys, t.Key)
	}
	slog.Info("tables registered",
		"tables", tableKeys,
		"custom_fields", app.CustomFields,
	)

	server := web.NewServer(app.Service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := app.Close(shutdownCtx); err != nil {
			slog.Error("close store", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		app.Close(ctx)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
