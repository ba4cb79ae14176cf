// Package config loads and validates geolocator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	WLOC    WLOCConfig    `mapstructure:"wloc"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Vendor  VendorConfig  `mapstructure:"vendor"`
	Wigle   WigleConfig   `mapstructure:"wigle"`
	Render  RenderConfig  `mapstructure:"render"`
}

// StoreConfig selects and configures the frontier backend.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Table    string         `mapstructure:"table"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig locates the database file.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// PostgresConfig controls the Postgres pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// CrawlerConfig governs the expansion loop.
type CrawlerConfig struct {
	MaxBSSIDs    int           `mapstructure:"max_bssids"`
	Concurrency  int           `mapstructure:"concurrency"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig controls in-line retries of a single query.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// WLOCConfig configures the location service client and codec.
type WLOCConfig struct {
	Endpoint           string        `mapstructure:"endpoint"`
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Locale             string        `mapstructure:"locale"`
	ClientID           string        `mapstructure:"client_id"`
	OSVersion          string        `mapstructure:"os_version"`
	ResponsePrefixLen  int           `mapstructure:"response_prefix_len"`
	ResponseVersion    uint16        `mapstructure:"response_version"`
	MaxResponseBytes   int64         `mapstructure:"max_response_bytes"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development    bool   `mapstructure:"development"`
	Level          string `mapstructure:"level"`
	ProgressEvents bool   `mapstructure:"progress_events"`
}

// VendorConfig configures the MAC vendor lookup.
type VendorConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	Delay     time.Duration `mapstructure:"delay"`
}

// WigleConfig configures the WiGLE network search used for seeding.
type WigleConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Username   string        `mapstructure:"username"`
	APIKey     string        `mapstructure:"api_key"`
	PageSize   int           `mapstructure:"page_size"`
	MaxResults int           `mapstructure:"max_results"`
	Delay      time.Duration `mapstructure:"delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
	LatMin     float64       `mapstructure:"lat_min"`
	LatMax     float64       `mapstructure:"lat_max"`
	LonMin     float64       `mapstructure:"lon_min"`
	LonMax     float64       `mapstructure:"lon_max"`
}

// RenderConfig tunes the generated Leaflet maps.
type RenderConfig struct {
	Title   string `mapstructure:"title"`
	Zoom    int    `mapstructure:"zoom"`
	TileURL string `mapstructure:"tile_url"`
}

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load builds a Config from disk and BSSID_* environment variables. An empty
// path searches for config.{yaml,json,toml} in the working directory and
// $XDG_CONFIG_HOME/bssid-geolocator.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BSSID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "bssid-geolocator"))
	}
	if err := v.ReadInConfig(); err != nil {
		// Without an explicit path a missing file means defaults and env only.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.table", "bssid_data")
	v.SetDefault("store.sqlite.path", "bssid_data.db")
	v.SetDefault("store.sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 0)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", 0)

	v.SetDefault("crawler.max_bssids", 1_000_000)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.request_delay", time.Second)
	v.SetDefault("crawler.batch_size", 0)
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry.max_retries", 2)
	v.SetDefault("crawler.retry.base_delay", 250*time.Millisecond)
	v.SetDefault("crawler.retry.max_delay", 5*time.Second)

	v.SetDefault("wloc.endpoint", "https://gs-loc.apple.com/clls/wloc")
	v.SetDefault("wloc.user_agent", "locationd/1753.17 CFNetwork/711.1.12 Darwin/14.0.0")
	v.SetDefault("wloc.timeout", 10*time.Second)
	v.SetDefault("wloc.insecure_skip_verify", false)
	v.SetDefault("wloc.locale", "en_US")
	v.SetDefault("wloc.client_id", "com.apple.locationd")
	v.SetDefault("wloc.os_version", "8.1.12B411")
	v.SetDefault("wloc.response_prefix_len", 10)
	v.SetDefault("wloc.response_version", 1)
	v.SetDefault("wloc.max_response_bytes", 4<<20)

	v.SetDefault("server.addr", "")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.progress_events", false)

	v.SetDefault("vendor.endpoint", "https://api.macvendors.com/")
	v.SetDefault("vendor.timeout", 3*time.Second)
	v.SetDefault("vendor.batch_size", 20)
	v.SetDefault("vendor.delay", time.Second)

	v.SetDefault("wigle.endpoint", "https://api.wigle.net/api/v2/network/search")
	v.SetDefault("wigle.username", "")
	v.SetDefault("wigle.api_key", "")
	v.SetDefault("wigle.page_size", 100)
	v.SetDefault("wigle.max_results", 1000)
	v.SetDefault("wigle.delay", time.Second)
	v.SetDefault("wigle.timeout", 30*time.Second)
	v.SetDefault("wigle.lat_min", 23.5)
	v.SetDefault("wigle.lat_max", 37.3)
	v.SetDefault("wigle.lon_min", 60.9)
	v.SetDefault("wigle.lon_max", 77.0)

	v.SetDefault("render.title", "")
	v.SetDefault("render.zoom", 5)
	v.SetDefault("render.tile_url", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}
	if c.Crawler.MaxBSSIDs <= 0 {
		return fmt.Errorf("crawler.max_bssids must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestDelay < 0 {
		return fmt.Errorf("crawler.request_delay must be >= 0")
	}
	if c.Crawler.BatchSize < 0 || c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.batch_size and crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.Retry.MaxRetries < 0 {
		return fmt.Errorf("crawler.retry.max_retries must be >= 0")
	}
	if c.WLOC.Endpoint == "" {
		return fmt.Errorf("wloc.endpoint is required")
	}
	if c.WLOC.Timeout <= 0 {
		return fmt.Errorf("wloc.timeout must be > 0")
	}
	if c.WLOC.ResponsePrefixLen < 2 {
		return fmt.Errorf("wloc.response_prefix_len must be >= 2")
	}
	if c.Vendor.BatchSize <= 0 {
		return fmt.Errorf("vendor.batch_size must be > 0")
	}
	if c.Wigle.PageSize <= 0 || c.Wigle.PageSize > 100 {
		return fmt.Errorf("wigle.page_size must be within 1..100")
	}
	if c.Render.Zoom < 1 || c.Render.Zoom > 19 {
		return fmt.Errorf("render.zoom must be within 1..19")
	}
	return nil
}

// HasWigleCredentials reports whether both WiGLE credentials are set.
func (c Config) HasWigleCredentials() bool {
	return c.Wigle.Username != "" && c.Wigle.APIKey != ""
}
