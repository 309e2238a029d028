// Package config loads the service configuration from an optional YAML file
// plus environment variables for the secrets and overrides that deployments
// set without a file.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/ninebot-ops/vmboard/internal/environment"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Azure        AzureConfig        `mapstructure:"azure"`
	Prometheus   PrometheusConfig   `mapstructure:"prometheus"`
	Refresh      RefreshConfig      `mapstructure:"refresh"`
	Environments EnvironmentsConfig `mapstructure:"environments"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig configures the cache store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures the zap logger and file rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AzureConfig holds the service-principal credential parameters.
type AzureConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// PrometheusConfig points at the metrics backend.
type PrometheusConfig struct {
	URL string `mapstructure:"url"`
}

// RefreshConfig holds the two loop intervals. The metrics interval accepts
// either a duration string or a bare number of seconds (legacy deployments
// set METRICS_INTERVAL=30).
type RefreshConfig struct {
	InventoryInterval  time.Duration `mapstructure:"inventory_interval"`
	MetricsInterval    time.Duration `mapstructure:"-"`
	MetricsIntervalRaw string        `mapstructure:"metrics_interval"`
}

// EnvironmentsConfig overrides the built-in classification table.
type EnvironmentsConfig struct {
	Default string                 `mapstructure:"default"`
	Table   []environment.Patterns `mapstructure:"table"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("database.path", "data/vmboard.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/vmboard.log")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("refresh.inventory_interval", "30m")
	v.SetDefault("refresh.metrics_interval", "30s")
	v.SetDefault("environments.default", environment.DefaultName)
}

// Load reads configuration from path (optional, "" skips the file) and the
// process environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.BindEnv("azure.tenant_id", "AZURE_TENANT_ID")
	v.BindEnv("azure.client_id", "AZURE_CLIENT_ID")
	v.BindEnv("azure.client_secret", "AZURE_CLIENT_SECRET")
	v.BindEnv("prometheus.url", "PROMETHEUS_URL")
	v.BindEnv("refresh.metrics_interval", "METRICS_INTERVAL")
	v.BindEnv("server.addr", "VMBOARD_ADDR")
	v.BindEnv("database.path", "VMBOARD_DB_PATH")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	metricsInterval, err := parseInterval(cfg.Refresh.MetricsIntervalRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics interval: %w", err)
	}
	cfg.Refresh.MetricsInterval = metricsInterval

	if len(cfg.Environments.Table) == 0 {
		cfg.Environments.Table = environment.DefaultTable()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseInterval accepts "30s", "2m" or a bare second count like "30".
func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 30 * time.Second, nil
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Refresh.InventoryInterval <= 0 {
		return fmt.Errorf("refresh.inventory_interval must be positive")
	}

	// The classifier performs the remaining table validation; fail here so
	// misconfiguration surfaces at startup rather than on first use.
	if _, err := environment.NewClassifier(c.Environments.Table, c.Environments.Default); err != nil {
		return fmt.Errorf("invalid environments config: %w", err)
	}
	return nil
}

// Classifier builds the environment classifier from the loaded table.
func (c *Config) Classifier() (*environment.Classifier, error) {
	return environment.NewClassifier(c.Environments.Table, c.Environments.Default)
}
