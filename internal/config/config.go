package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported store backends
const (
	BackendTiKV   = "tikv"
	BackendBadger = "badger"
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// MaxBatchSize is the largest scan batch any backend accepts.
const MaxBatchSize = 10240

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all configuration for kvexplorer
type Config struct {
	Listen    string `mapstructure:"listen"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json, text

	Store     StoreConfig     `mapstructure:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// StoreConfig selects and configures the key-value store being explored
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // tikv, badger, pebble, sqlite

	// TiKV placement driver endpoints
	Addresses []string `mapstructure:"addresses"`

	// Badger and Pebble data directory
	DataDir  string `mapstructure:"data_dir"`
	ReadOnly bool   `mapstructure:"read_only"`

	// SQLite database file and the table holding (key BLOB, value BLOB) rows
	SQLitePath  string `mapstructure:"sqlite_path"`
	SQLiteTable string `mapstructure:"sqlite_table"`

	// Maximum pairs requested per scan call
	BatchSize int `mapstructure:"batch_size"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// RateLimitConfig bounds how often the API may trigger a full keyspace scan.
// A zero RequestsPerSecond disables the limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
}

// Load loads configuration from defaults, flags, an optional config file and
// KVEXPLORER_* environment variables.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KVEXPLORER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("store.backend", BackendTiKV)
	v.SetDefault("store.addresses", []string{"127.0.0.1:2379"})
	v.SetDefault("store.read_only", true)
	v.SetDefault("store.sqlite_table", "kv")
	v.SetDefault("store.batch_size", 1000)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 4)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":      "listen",
		"log-level":   "log_level",
		"log-format":  "log_format",
		"backend":     "store.backend",
		"addresses":   "store.addresses",
		"data-dir":    "store.data_dir",
		"sqlite-path": "store.sqlite_path",
		"table":       "store.sqlite_table",
		"batch-size":  "store.batch_size",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.Store.BatchSize < 1 || cfg.Store.BatchSize > MaxBatchSize {
		return fmt.Errorf("store.batch_size must be between 1 and %d, got %d", MaxBatchSize, cfg.Store.BatchSize)
	}

	switch cfg.Store.Backend {
	case BackendTiKV:
		addrs := cfg.Store.Addresses[:0]
		for _, a := range cfg.Store.Addresses {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) == 0 {
			return fmt.Errorf("store.addresses is required for the tikv backend")
		}
		cfg.Store.Addresses = addrs

	case BackendBadger, BackendPebble:
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the %s backend: specify via --data-dir flag, config file, or KVEXPLORER_STORE_DATA_DIR environment variable", cfg.Store.Backend)
		}
		if !filepath.IsAbs(cfg.Store.DataDir) {
			if abs, err := filepath.Abs(cfg.Store.DataDir); err == nil {
				cfg.Store.DataDir = abs
			}
		}

	case BackendSQLite:
		if cfg.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
		if !tableNamePattern.MatchString(cfg.Store.SQLiteTable) {
			return fmt.Errorf("invalid store.sqlite_table %q", cfg.Store.SQLiteTable)
		}

	default:
		return fmt.Errorf("unknown store.backend %q (expected tikv, badger, pebble or sqlite)", cfg.Store.Backend)
	}

	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1 when rate limiting is enabled")
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q (expected json or text)", cfg.LogFormat)
	}

	return nil
}
