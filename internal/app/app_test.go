package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/app"
	"github.com/JakeFAU/bssid-geolocator/internal/config"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier/memory"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier/sqlite"
)

func TestNewApp_SQLiteFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "bssid.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
store:
  driver: sqlite
  sqlite:
    path: `+dbPath+`
logging:
  development: false
  level: warn
`), 0o600))

	a, err := app.NewApp(context.Background(), cfgPath)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.IsType(t, &sqlite.Store{}, a.GetStore())
	require.Equal(t, dbPath, a.GetConfig().Store.SQLite.Path)
	require.NotNil(t, a.GetLogger())
	require.FileExists(t, dbPath)

	stats, err := a.GetStore().Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Total)
}

func TestNewApp_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: mysql\n"), 0o600))

	_, err := app.NewApp(context.Background(), cfgPath)
	require.ErrorContains(t, err, "load config")
}

func TestNewWithConfig_Memory(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Driver = config.DriverMemory

	a, err := app.NewWithConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, a.GetStore())

	a.Close()
	a.Close()
}

func TestOpenStore_Errors(t *testing.T) {
	t.Parallel()

	_, err := app.OpenStore(context.Background(), config.StoreConfig{Driver: "mysql"}, zap.NewNop())
	require.ErrorContains(t, err, "unknown store driver: mysql")

	_, err = app.OpenStore(context.Background(), config.StoreConfig{
		Driver: config.DriverSQLite,
		Table:  "bad table; drop",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db")},
	}, zap.NewNop())
	require.Error(t, err)
}
