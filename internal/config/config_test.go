package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		LogFormat:    "json",
		LogLevel:     "info",
		Dataset:      DatasetConfig{Dir: ".", Pattern: "chuva_parte_*.json"},
		Aggregation:  AggregationConfig{MeanMonths: 6, SumMonths: 12},
		Autocomplete: AutocompleteConfig{Limit: 20, MinLength: 2},
		Storage:      StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "test.db"}},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid sqlite config", mutate: func(*Config) {}},
		{
			name: "valid postgres config",
			mutate: func(c *Config) {
				c.Storage = StorageConfig{Driver: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/db"}}
			},
		},
		{
			name: "valid json config",
			mutate: func(c *Config) {
				c.Storage = StorageConfig{Driver: "json", JSON: JSONConfig{Path: "unresolved.json"}}
			},
		},
		{name: "invalid driver", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, wantErr: true},
		{name: "sqlite missing path", mutate: func(c *Config) { c.Storage.SQLite.Path = "" }, wantErr: true},
		{name: "postgres missing dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: true},
		{name: "json missing path", mutate: func(c *Config) { c.Storage.Driver = "json" }, wantErr: true},
		{name: "bad listen addr", mutate: func(c *Config) { c.ListenAddr = "8080" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "empty dataset dir", mutate: func(c *Config) { c.Dataset.Dir = "" }, wantErr: true},
		{name: "malformed pattern", mutate: func(c *Config) { c.Dataset.Pattern = "chuva_[.json" }, wantErr: true},
		{name: "valid reload schedule", mutate: func(c *Config) { c.Dataset.ReloadSchedule = "0 3 * * *" }},
		{name: "descriptor reload schedule", mutate: func(c *Config) { c.Dataset.ReloadSchedule = "@hourly" }},
		{name: "bad reload schedule", mutate: func(c *Config) { c.Dataset.ReloadSchedule = "every day" }, wantErr: true},
		{name: "zero mean window", mutate: func(c *Config) { c.Aggregation.MeanMonths = 0 }, wantErr: true},
		{name: "zero sum window", mutate: func(c *Config) { c.Aggregation.SumMonths = 0 }, wantErr: true},
		{name: "zero autocomplete limit", mutate: func(c *Config) { c.Autocomplete.Limit = 0 }, wantErr: true},
		{name: "zero autocomplete min length", mutate: func(c *Config) { c.Autocomplete.MinLength = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
listen_addr: ":9090"
log_format: text
dataset:
  dir: /srv/chuva
  reload_schedule: "@daily"
aggregation:
  mean_months: 3
storage:
  driver: json
  json:
    path: /var/lib/rainfalld/unresolved.json
unresolved:
  breaker_timeout: 1m
`
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("log_format = %q, want text", cfg.LogFormat)
	}
	if cfg.Dataset.Dir != "/srv/chuva" {
		t.Errorf("dataset.dir = %q, want /srv/chuva", cfg.Dataset.Dir)
	}
	if cfg.Dataset.Pattern != "chuva_parte_*.json" {
		t.Errorf("dataset.pattern = %q, want default", cfg.Dataset.Pattern)
	}
	if cfg.Aggregation.MeanMonths != 3 {
		t.Errorf("mean_months = %d, want 3", cfg.Aggregation.MeanMonths)
	}
	if cfg.Aggregation.SumMonths != 12 {
		t.Errorf("sum_months = %d, want 12", cfg.Aggregation.SumMonths)
	}
	if cfg.Autocomplete.Limit != 20 || cfg.Autocomplete.MinLength != 2 {
		t.Errorf("autocomplete = %+v, want limit 20 min_length 2", cfg.Autocomplete)
	}
	if cfg.DSN() != "/var/lib/rainfalld/unresolved.json" {
		t.Errorf("DSN() = %q", cfg.DSN())
	}
	if cfg.Unresolved.BreakerFailures != 5 {
		t.Errorf("breaker_failures = %d, want 5", cfg.Unresolved.BreakerFailures)
	}
	if cfg.Unresolved.BreakerTimeout != time.Minute {
		t.Errorf("breaker_timeout = %v, want 1m", cfg.Unresolved.BreakerTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("listen_addr: \":9090\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RAINFALLD_LISTEN_ADDR", ":7070")
	t.Setenv("RAINFALLD_AGGREGATION_SUM_MONTHS", "24")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen_addr = %q, want %q", cfg.ListenAddr, ":7070")
	}
	if cfg.Aggregation.SumMonths != 24 {
		t.Errorf("sum_months = %d, want 24", cfg.Aggregation.SumMonths)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	if err := os.WriteFile(filepath.Join(wd, ".env"), []byte("RAINFALLD_LOG_LEVEL=debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAINFALLD_LOG_LEVEL", "")
	os.Unsetenv("RAINFALLD_LOG_LEVEL") //nolint:errcheck // restored by t.Setenv cleanup

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_format: json\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug from .env", cfg.LogLevel)
	}
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Storage: StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "/tmp/test.db"}}}, "/tmp/test.db"},
		{Config{Storage: StorageConfig{Driver: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/db"}}}, "postgres://localhost/db"},
		{Config{Storage: StorageConfig{Driver: "json", JSON: JSONConfig{Path: "log.json"}}}, "log.json"},
		{Config{Storage: StorageConfig{Driver: "unknown"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Storage.Driver, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("ParseLevel(trace) should fail")
	}
}
