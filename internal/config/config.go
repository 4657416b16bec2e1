package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for rainfalld.
type Config struct {
	ListenAddr   string             `mapstructure:"listen_addr"`
	LogFormat    string             `mapstructure:"log_format"`
	LogLevel     string             `mapstructure:"log_level"`
	CORSOrigin   string             `mapstructure:"cors_origin"`
	Dataset      DatasetConfig      `mapstructure:"dataset"`
	Aggregation  AggregationConfig  `mapstructure:"aggregation"`
	Autocomplete AutocompleteConfig `mapstructure:"autocomplete"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Unresolved   UnresolvedConfig   `mapstructure:"unresolved"`
}

// DatasetConfig locates the rainfall source files.
type DatasetConfig struct {
	Dir            string `mapstructure:"dir"`
	Pattern        string `mapstructure:"pattern"`
	ReloadSchedule string `mapstructure:"reload_schedule"` // cron spec, empty disables
}

// AggregationConfig sets the trailing month windows.
type AggregationConfig struct {
	MeanMonths int `mapstructure:"mean_months"`
	SumMonths  int `mapstructure:"sum_months"`
}

// AutocompleteConfig bounds autocomplete lookups.
type AutocompleteConfig struct {
	Limit     int `mapstructure:"limit"`
	MinLength int `mapstructure:"min_length"`
}

// StorageConfig defines the unresolved-query log backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite", "postgres" or "json"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	JSON     JSONConfig     `mapstructure:"json"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JSONConfig holds the JSON file log configuration.
type JSONConfig struct {
	Path string `mapstructure:"path"`
}

// UnresolvedConfig tunes the circuit breaker around the unresolved log.
type UnresolvedConfig struct {
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// envKeyReplacer maps nested keys to env names, e.g. storage.postgres.dsn
// to RAINFALLD_STORAGE_POSTGRES_DSN.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $RAINFALLD_CONFIG env → ~/.config/rainfalld/config.yaml → /etc/rainfalld/config.yaml
//
// A .env file in the working directory, when present, is loaded into the
// environment first so RAINFALLD_* variables can live there.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("dataset.dir", ".")
	v.SetDefault("dataset.pattern", "chuva_parte_*.json")
	v.SetDefault("dataset.reload_schedule", "")
	v.SetDefault("aggregation.mean_months", 6)
	v.SetDefault("aggregation.sum_months", 12)
	v.SetDefault("autocomplete.limit", 20)
	v.SetDefault("autocomplete.min_length", 2)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "rainfalld.db")
	v.SetDefault("storage.json.path", "cidades_nao_encontradas.json")
	v.SetDefault("unresolved.breaker_failures", 5)
	v.SetDefault("unresolved.breaker_timeout", 30*time.Second)

	// Env var support
	v.SetEnvPrefix("RAINFALLD")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("RAINFALLD_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rainfalld"))
		}
		v.AddConfigPath("/etc/rainfalld")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
		// The postgres DSN may carry a password.
		if info, err := os.Stat(cfgPath); err == nil {
			perm := info.Mode().Perm()
			if perm&0004 != 0 {
				slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	case "json":
		if c.Storage.JSON.Path == "" {
			return fmt.Errorf("storage.json.path is required for json driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'postgres' or 'json', got %q", c.Storage.Driver)
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Dataset.Dir == "" {
		return fmt.Errorf("dataset.dir is required")
	}
	if _, err := filepath.Match(c.Dataset.Pattern, ""); err != nil || c.Dataset.Pattern == "" {
		return fmt.Errorf("dataset.pattern %q is not a valid glob", c.Dataset.Pattern)
	}
	if c.Dataset.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(c.Dataset.ReloadSchedule); err != nil {
			return fmt.Errorf("dataset.reload_schedule %q: %w", c.Dataset.ReloadSchedule, err)
		}
	}

	if c.Aggregation.MeanMonths < 1 {
		return fmt.Errorf("aggregation.mean_months must be at least 1, got %d", c.Aggregation.MeanMonths)
	}
	if c.Aggregation.SumMonths < 1 {
		return fmt.Errorf("aggregation.sum_months must be at least 1, got %d", c.Aggregation.SumMonths)
	}
	if c.Autocomplete.Limit < 1 {
		return fmt.Errorf("autocomplete.limit must be at least 1, got %d", c.Autocomplete.Limit)
	}
	if c.Autocomplete.MinLength < 1 {
		return fmt.Errorf("autocomplete.min_length must be at least 1, got %d", c.Autocomplete.MinLength)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	case "json":
		return c.Storage.JSON.Path
	default:
		return ""
	}
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
