package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// No config.yaml in the test working directory, so env defaults apply.
	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "telemetry", cfg.Timeseries.Bucket)
}

func TestLoad_TwinBackendRequiresBaseURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendTwin)
	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twin.base_url")

	t.Setenv("TWIN_BASE_URL", "https://twins.example.com")
	cfg, err := Load("test")
	require.NoError(t, err)
	assert.Equal(t, BackendTwin, cfg.StoreBackend)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamo")
	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store_backend")
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p",
		Database: "riskradar", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@db:5433/riskradar?sslmode=disable", d.ConnectionString())
}
