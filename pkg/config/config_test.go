package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *SyncConfig {
	return &SyncConfig{
		Name: "orders",
		Source: SourceConfig{
			BaseURL:  "https://api.example.com",
			Endpoint: "/v1/orders",
		},
		Pagination: PaginationConfig{
			Strategy: StrategyOffset,
		},
		Destination: DestinationConfig{
			Type:       "jsonl",
			Table:      "orders",
			KeyColumns: []string{"id"},
			Path:       "/tmp/orders.jsonl",
		},
		State: StateConfig{
			Path: "/tmp/orders.state.json",
		},
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "GET", cfg.Source.Method)
	assert.Equal(t, "none", cfg.Source.Auth.Type)
	assert.Equal(t, "offset", cfg.Pagination.OffsetParam)
	assert.Equal(t, "limit", cfg.Pagination.LimitParam)
	assert.Equal(t, 100, cfg.Pagination.PageSize)
	assert.Equal(t, "file", cfg.State.Type)
	assert.Equal(t, 1000, cfg.Performance.CheckpointEveryRecords)
	assert.Equal(t, 1, cfg.Performance.PrefetchWorkers)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Reliability.RetryDelay)
	assert.Equal(t, 2.0, cfg.Reliability.RetryMultiplier)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncConfig)
	}{
		{"missing name", func(c *SyncConfig) { c.Name = "" }},
		{"missing base url", func(c *SyncConfig) { c.Source.BaseURL = "" }},
		{"missing strategy", func(c *SyncConfig) { c.Pagination.Strategy = "" }},
		{"unknown strategy", func(c *SyncConfig) { c.Pagination.Strategy = "scroll" }},
		{"unknown auth type", func(c *SyncConfig) { c.Source.Auth.Type = "kerberos" }},
		{"api_key without key", func(c *SyncConfig) { c.Source.Auth.Type = "api_key" }},
		{"oauth2 without secret", func(c *SyncConfig) {
			c.Source.Auth = AuthConfig{Type: "oauth2", ClientID: "id"}
		}},
		{"missing destination type", func(c *SyncConfig) { c.Destination.Type = "" }},
		{"missing table", func(c *SyncConfig) { c.Destination.Table = "" }},
		{"missing key columns", func(c *SyncConfig) { c.Destination.KeyColumns = nil }},
		{"jsonl without path", func(c *SyncConfig) { c.Destination.Path = "" }},
		{"postgres without dsn", func(c *SyncConfig) {
			c.Destination.Type = "postgres"
			c.Destination.DSN = ""
		}},
		{"missing state path", func(c *SyncConfig) { c.State.Path = "" }},
		{"unknown state type", func(c *SyncConfig) { c.State.Type = "redis" }},
		{"page_token without next_token_path", func(c *SyncConfig) {
			c.Pagination.Strategy = StrategyPageToken
		}},
		{"time_window without incremental", func(c *SyncConfig) {
			c.Pagination.Strategy = StrategyTimeWindow
		}},
		{"incremental without cursor field", func(c *SyncConfig) {
			c.Incremental = IncrementalConfig{Enabled: true}
		}},
		{"bad start date", func(c *SyncConfig) {
			c.Incremental = IncrementalConfig{Enabled: true, CursorField: "updated_at", StartDate: "yesterday"}
		}},
		{"prefetch workers without time_window", func(c *SyncConfig) {
			c.Performance.PrefetchWorkers = 4
		}},
		{"randomize factor out of range", func(c *SyncConfig) {
			c.Reliability.RandomizeFactor = 1.5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateTimeWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Pagination.Strategy = StrategyTimeWindow
	cfg.Incremental = IncrementalConfig{Enabled: true, CursorField: "updated_at"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from", cfg.Pagination.FromParam)
	assert.Equal(t, "to", cfg.Pagination.ToParam)
	assert.Equal(t, 30, cfg.Pagination.WindowDays)
}

func TestStartPosition(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("initial sync days wins", func(t *testing.T) {
		cfg := validConfig()
		cfg.Incremental = IncrementalConfig{Enabled: true, CursorField: "u", InitialSyncDays: 30, StartDate: "2020-01-01"}
		assert.Equal(t, "2024-02-09T00:00:00Z", cfg.StartPosition(now))
	})

	t.Run("start date next", func(t *testing.T) {
		cfg := validConfig()
		cfg.Incremental = IncrementalConfig{Enabled: true, CursorField: "u", StartDate: "2020-01-01"}
		assert.Equal(t, "2020-01-01", cfg.StartPosition(now))
	})

	t.Run("epoch fallback", func(t *testing.T) {
		cfg := validConfig()
		assert.Equal(t, "1970-01-01T00:00:00Z", cfg.StartPosition(now))
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("valid file", func(t *testing.T) {
		t.Setenv("ORDERS_API_KEY", "k-123")
		path := write("ok.yaml", `
name: orders
source:
  base_url: https://api.example.com
  endpoint: /v1/orders
  auth:
    type: api_key
    api_key: ${ORDERS_API_KEY}
pagination:
  strategy: offset
  page_size: 50
destination:
  type: jsonl
  table: orders
  key_columns: [id]
  path: /tmp/orders.jsonl
state:
  path: /tmp/orders.state.json
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "orders", cfg.Name)
		assert.Equal(t, 50, cfg.Pagination.PageSize)
		assert.Equal(t, "k-123", cfg.Source.Auth.APIKey, "env vars are substituted")
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		path := write("typo.yaml", `
name: orders
source:
  base_url: https://api.example.com
paginaton:
  strategy: offset
destination:
  type: jsonl
  table: orders
  key_columns: [id]
  path: /tmp/x.jsonl
state:
  path: /tmp/x.json
`)
		_, err := Load(path)
		assert.Error(t, err, "a misspelled section must fail loudly")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
