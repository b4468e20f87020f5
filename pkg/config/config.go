package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Store backend selection values.
const (
	BackendPostgres = "postgres"
	BackendTwin     = "twin"
)

// Config holds all configuration for the risk radar service.
// Configuration can come from a YAML file (config.yaml) or environment
// variables; environment variables override YAML values. Secrets (passwords,
// tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// StoreBackend selects the cascade implementation: "postgres" for the
	// strongly-consistent local store, "twin" for the eventually-consistent
	// twin-graph + time-series pair.
	StoreBackend string `yaml:"store_backend" env:"STORE_BACKEND" env-default:"postgres"`

	// DatasetPath is the demo telemetry dataset used by the seed operation.
	DatasetPath string `yaml:"dataset_path" env:"DATASET_PATH" env-default:"data/production_risk_radar_demo_data.csv"`

	// MigrationsPath is the directory of SQL migrations (postgres backend).
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database   DatabaseConfig   `yaml:"database"`
	Twin       TwinConfig       `yaml:"twin"`
	Timeseries TimeseriesConfig `yaml:"timeseries"`
}

// DatabaseConfig holds PostgreSQL configuration for the strong-consistency
// backend.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"riskradar"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"riskradar"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// ConnectionString returns a PostgreSQL connection URL.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// TwinConfig holds the twin-graph store endpoint for the eventual-consistency
// backend.
type TwinConfig struct {
	BaseURL        string `yaml:"base_url" env:"TWIN_BASE_URL" env-default:""`
	APIVersion     string `yaml:"api_version" env:"TWIN_API_VERSION" env-default:"2023-10-31"`
	Token          string `yaml:"-" env:"TWIN_TOKEN"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TWIN_TIMEOUT_SECONDS" env-default:"30"`
}

// TimeseriesConfig holds the InfluxDB connection for telemetry history.
type TimeseriesConfig struct {
	URL    string `yaml:"url" env:"INFLUX_URL" env-default:"http://localhost:8086"`
	Token  string `yaml:"-" env:"INFLUX_TOKEN"` // Secret - not in YAML
	Org    string `yaml:"org" env:"INFLUX_ORG" env-default:"riskradar"`
	Bucket string `yaml:"bucket" env:"INFLUX_BUCKET" env-default:"telemetry"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// Allow running without a config file on env vars alone.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		// Postgres settings all have workable defaults.
	case BackendTwin:
		if c.Twin.BaseURL == "" {
			return fmt.Errorf("store_backend is %q but twin.base_url is not set", BackendTwin)
		}
	default:
		return fmt.Errorf("unknown store_backend %q (want %q or %q)",
			c.StoreBackend, BackendPostgres, BackendTwin)
	}
	return nil
}
