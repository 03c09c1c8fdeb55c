// Package application wires configuration into a running import service.
// The HTTP server and the intake CLI both start from New.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinicops/intake/internal/config"
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/core/tables"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/store/memstore"
	"github.com/clinicops/intake/internal/store/pgstore"
	"github.com/clinicops/intake/internal/store/sqlitestore"
)

// App is a configured import service and the store behind it.
type App struct {
	Config       *config.Config
	Store        store.Store
	Fields       *fields.Registry
	Service      *core.Service
	Logger       *slog.Logger
	CustomFields int // loaded at startup
}

// New opens the configured store, loads custom fields and creates the
// import service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := tables.NewRegistry()
	loaded := 0
	if path := cfg.Import.CustomFieldsFile; path != "" {
		loaded, err = fields.LoadCustomFile(registry, path)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load custom fields: %w", err)
		}
		logger.Info("custom fields loaded", "file", path, "count", loaded)
	}

	svc := core.NewService(st, registry, tables.NewCatalog(), ServiceOptions(cfg, logger))

	return &App{
		Config:       cfg,
		Store:        st,
		Fields:       registry,
		Service:      svc,
		Logger:       logger,
		CustomFields: loaded,
	}, nil
}

// ServiceOptions maps the import configuration onto core.Options.
func ServiceOptions(cfg *config.Config, logger *slog.Logger) core.Options {
	return core.Options{
		ChunkSize:         cfg.Import.BulkChunkSize,
		DateOrder:         cfg.Import.DateOrderFormat(),
		Timeout:           cfg.Import.Timeout,
		SessionTTL:        cfg.Import.SessionTTL,
		DeriveEligibility: cfg.Import.DeriveEligibility,
		MaxConcurrent:     cfg.Import.MaxConcurrent,
		MaxWait:           cfg.Import.MaxWaitTime,
		Logger:            logger,
	}
}

// OpenStore opens the store selected by DB_DRIVER.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, pgstore.Options{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		return sqlitestore.Open(ctx, cfg.SQLitePath)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Close waits for running imports, bounded by ctx, and closes the store.
func (a *App) Close(ctx context.Context) error {
	if status := a.Service.LimiterStatus(); status.Active > 0 {
		a.Logger.Info("waiting for imports to complete", "active", status.Active)
		if err := a.Service.WaitForImports(ctx); err != nil {
			a.Logger.Warn("imports did not complete in time", "error", err)
		}
	}
	return a.Store.Close()
}
