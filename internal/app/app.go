// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/config"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier/memory"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier/postgres"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier/sqlite"
	"github.com/JakeFAU/bssid-geolocator/internal/logging"
)

// App holds the shared, long-lived services for one CLI invocation: the
// loaded configuration, the logger and the frontier store handle. It is
// built once in the root command's PersistentPreRunE and closed in
// PersistentPostRun.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  frontier.Store
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStore returns the open frontier store.
func (a *App) GetStore() frontier.Store {
	return a.store
}

// NewApp loads configuration from cfgPath (empty means defaults plus
// environment), builds the logger and opens the configured store with its
// schema in place. It fails fast: a store that cannot be opened or migrated
// is fatal.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithConfig(ctx, cfg, logger)
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("table", cfg.Store.Table),
	)
	store, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &App{cfg: cfg, logger: logger, store: store}, nil
}

// OpenStore opens the frontier backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (frontier.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("opening sqlite store", zap.String("path", cfg.SQLite.Path))
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.SQLite.Path,
			Table:       cfg.Table,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		logger.Info("connecting to postgres store")
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store; nothing will be persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// Close releases the store and flushes the logger. It is safe to call more
// than once.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
		a.store = nil
	}
	// Syncing stderr fails on some platforms; nothing useful can be done then.
	_ = a.logger.Sync()
}
