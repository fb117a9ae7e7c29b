// Package config provides the unified configuration system for flowsync.
// A sync run is described by a single SyncConfig structure with sections
// for the source API, pagination, incremental cursor handling, the
// destination, the state store, and reliability settings.
//
// Configuration is resolved once at run start: Validate applies defaults
// and rejects bad or missing required values eagerly, so a sync never
// fails deep inside the fetch loop on account of a typo in a key.
//
// Example usage:
//
//	cfg, err := config.Load("connector.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"net/url"
	"time"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

// Pagination strategy names accepted in PaginationConfig.Strategy.
const (
	StrategyOffset     = "offset"
	StrategyPageToken  = "page_token"
	StrategyLinkHeader = "link_header"
	StrategyTimeWindow = "time_window"
)

// SyncConfig describes one connector sync run end-to-end.
type SyncConfig struct {
	// Name identifies the connector instance; it keys the persisted state
	Name string `yaml:"name" json:"name"`

	// Source describes the API to fetch from
	Source SourceConfig `yaml:"source" json:"source"`

	// Pagination selects and parameterizes the page iterator
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`

	// Incremental controls cursor-based incremental sync
	Incremental IncrementalConfig `yaml:"incremental" json:"incremental"`

	// Destination describes where records are upserted
	Destination DestinationConfig `yaml:"destination" json:"destination"`

	// State selects the state store backing
	State StateConfig `yaml:"state" json:"state"`

	// Performance settings for checkpoint cadence and fetch fan-out
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define request timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for retry and rate limiting
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig describes the source API endpoint and its credentials.
type SourceConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Endpoint is the resource path appended to BaseURL
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Method is the HTTP method; defaults to GET
	Method string `yaml:"method" json:"method"`
	// Query holds static query parameters sent with every page
	Query map[string]string `yaml:"query" json:"query"`
	// Headers holds static headers sent with every page
	Headers map[string]string `yaml:"headers" json:"headers"`
	// Auth describes how requests are authenticated
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig describes source authentication. Exactly one mode applies,
// selected by Type: "none", "api_key", "bearer", "basic" or "oauth2".
type AuthConfig struct {
	Type string `yaml:"type" json:"type"`

	// api_key mode
	APIKey       string `yaml:"api_key" json:"api_key"`
	APIKeyHeader string `yaml:"api_key_header" json:"api_key_header"`

	// bearer mode
	Token string `yaml:"token" json:"token"`

	// basic mode
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// oauth2 client-credentials mode
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// PaginationConfig parameterizes the page iterator.
type PaginationConfig struct {
	// Strategy is one of offset, page_token, link_header, time_window
	Strategy string `yaml:"strategy" json:"strategy"`
	// PageSize is the maximum records requested per page
	PageSize int `yaml:"page_size" json:"page_size"`

	// OffsetParam / LimitParam name the offset-strategy query parameters
	OffsetParam string `yaml:"offset_param" json:"offset_param"`
	LimitParam  string `yaml:"limit_param" json:"limit_param"`

	// TokenParam names the request parameter carrying the page token
	TokenParam string `yaml:"token_param" json:"token_param"`

	// FromParam / ToParam name the time-window boundary parameters
	FromParam string `yaml:"from_param" json:"from_param"`
	ToParam   string `yaml:"to_param" json:"to_param"`
	// WindowDays is the width of each time window
	WindowDays int `yaml:"window_days" json:"window_days"`

	// Envelope locates records and pagination metadata in the response
	Envelope EnvelopeConfig `yaml:"envelope" json:"envelope"`
}

// EnvelopeConfig holds gjson paths into the response body.
type EnvelopeConfig struct {
	// RecordsPath locates the record array; empty means the body root
	RecordsPath string `yaml:"records_path" json:"records_path"`
	// NextTokenPath locates the next-page token, for the page_token strategy
	NextTokenPath string `yaml:"next_token_path" json:"next_token_path"`
	// NextURLPath locates a server-supplied next URL, for link_header
	// pagination when the API puts the link in the body instead
	NextURLPath string `yaml:"next_url_path" json:"next_url_path"`
}

// IncrementalConfig controls cursor tracking between runs.
type IncrementalConfig struct {
	// Enabled turns incremental sync on; a full refetch happens otherwise
	Enabled bool `yaml:"enabled" json:"enabled"`
	// CursorField is the record field holding the incremental value,
	// e.g. updated_at
	CursorField string `yaml:"cursor_field" json:"cursor_field"`
	// CursorParam names the query parameter carrying the cursor lower
	// bound on the first page of a run
	CursorParam string `yaml:"cursor_param" json:"cursor_param"`
	// StartDate is the first-run lower bound when no state exists
	StartDate string `yaml:"start_date" json:"start_date"`
	// InitialSyncDays, when > 0, overrides StartDate with now minus N days
	InitialSyncDays int `yaml:"initial_sync_days" json:"initial_sync_days"`
}

// DestinationConfig describes the sink.
type DestinationConfig struct {
	// Type is a registered sink name: jsonl or postgres
	Type string `yaml:"type" json:"type"`
	// Table is the destination table (or logical stream) name
	Table string `yaml:"table" json:"table"`
	// KeyColumns are the primary-key columns upserts deduplicate on
	KeyColumns []string `yaml:"key_columns" json:"key_columns"`
	// Path is the output file for file-based sinks
	Path string `yaml:"path" json:"path"`
	// DSN is the connection string for database sinks
	DSN string `yaml:"dsn" json:"dsn"`
}

// StateConfig selects the state store backing.
type StateConfig struct {
	// Type is file or sqlite
	Type string `yaml:"type" json:"type"`
	// Path is the state file or sqlite database path
	Path string `yaml:"path" json:"path"`
}

// PerformanceConfig controls checkpoint cadence and fetch parallelism.
type PerformanceConfig struct {
	// CheckpointEveryRecords forces a checkpoint after this many records;
	// a checkpoint always happens at page end regardless
	CheckpointEveryRecords int `yaml:"checkpoint_every_records" json:"checkpoint_every_records"`
	// PrefetchWorkers parallelizes the network fetch of time windows.
	// State mutation stays on the orchestrator goroutine. 1 disables.
	PrefetchWorkers int `yaml:"prefetch_workers" json:"prefetch_workers"`
}

// TimeoutConfig defines request timeout durations.
type TimeoutConfig struct {
	// Request is the per-request timeout including retries of one attempt
	Request time.Duration `yaml:"request" json:"request"`
	// Connection is the dial timeout
	Connection time.Duration `yaml:"connection" json:"connection"`
}

// ReliabilityConfig controls retry and rate limiting behavior.
type ReliabilityConfig struct {
	// RetryAttempts is the maximum number of delayed retries per request
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the computed backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RetryMultiplier grows the delay exponentially per attempt
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// RandomizeFactor is the jitter fraction applied to each delay
	RandomizeFactor float64 `yaml:"randomize_factor" json:"randomize_factor"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// ObservabilityConfig controls logging and metrics.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
}

// Validate applies defaults and rejects invalid configuration. It must
// be called before the configuration is handed to the orchestrator.
func (c *SyncConfig) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "connector name is required")
	}

	if c.Source.BaseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "source.base_url is required")
	}
	if _, err := url.Parse(c.Source.BaseURL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "source.base_url is not a valid URL")
	}
	if c.Source.Method == "" {
		c.Source.Method = "GET"
	}

	switch c.Source.Auth.Type {
	case "", "none":
		c.Source.Auth.Type = "none"
	case "api_key":
		if c.Source.Auth.APIKey == "" {
			return errors.New(errors.ErrorTypeConfig, "source.auth.api_key is required for api_key auth")
		}
		if c.Source.Auth.APIKeyHeader == "" {
			c.Source.Auth.APIKeyHeader = "X-Api-Key"
		}
	case "bearer":
		if c.Source.Auth.Token == "" {
			return errors.New(errors.ErrorTypeConfig, "source.auth.token is required for bearer auth")
		}
	case "basic":
		if c.Source.Auth.Username == "" {
			return errors.New(errors.ErrorTypeConfig, "source.auth.username is required for basic auth")
		}
	case "oauth2":
		if c.Source.Auth.ClientID == "" || c.Source.Auth.ClientSecret == "" || c.Source.Auth.TokenURL == "" {
			return errors.New(errors.ErrorTypeConfig, "source.auth client_id, client_secret and token_url are required for oauth2 auth")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown auth type %q", c.Source.Auth.Type)
	}

	switch c.Pagination.Strategy {
	case StrategyOffset:
		if c.Pagination.OffsetParam == "" {
			c.Pagination.OffsetParam = "offset"
		}
		if c.Pagination.LimitParam == "" {
			c.Pagination.LimitParam = "limit"
		}
	case StrategyPageToken:
		if c.Pagination.TokenParam == "" {
			c.Pagination.TokenParam = "page_token"
		}
		if c.Pagination.Envelope.NextTokenPath == "" {
			return errors.New(errors.ErrorTypeConfig, "pagination.envelope.next_token_path is required for page_token pagination")
		}
	case StrategyLinkHeader:
		// next URL comes from the Link header or envelope.next_url_path
	case StrategyTimeWindow:
		if c.Pagination.FromParam == "" {
			c.Pagination.FromParam = "from"
		}
		if c.Pagination.ToParam == "" {
			c.Pagination.ToParam = "to"
		}
		if c.Pagination.WindowDays <= 0 {
			c.Pagination.WindowDays = 30
		}
		if !c.Incremental.Enabled {
			return errors.New(errors.ErrorTypeConfig, "time_window pagination requires incremental sync")
		}
	case "":
		return errors.New(errors.ErrorTypeConfig, "pagination.strategy is required")
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown pagination strategy %q", c.Pagination.Strategy)
	}

	if c.Pagination.PageSize <= 0 {
		c.Pagination.PageSize = 100
	}

	if c.Incremental.Enabled {
		if c.Incremental.CursorField == "" {
			return errors.New(errors.ErrorTypeConfig, "incremental.cursor_field is required when incremental sync is enabled")
		}
		if c.Incremental.StartDate != "" {
			if _, err := time.Parse("2006-01-02", c.Incremental.StartDate); err != nil {
				if _, err := time.Parse(time.RFC3339, c.Incremental.StartDate); err != nil {
					return errors.Newf(errors.ErrorTypeConfig, "incremental.start_date %q is not a date", c.Incremental.StartDate)
				}
			}
		}
	}

	switch c.Destination.Type {
	case "":
		return errors.New(errors.ErrorTypeConfig, "destination.type is required")
	case "jsonl":
		if c.Destination.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "destination.path is required for the jsonl sink")
		}
	case "postgres":
		if c.Destination.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "destination.dsn is required for the postgres sink")
		}
	}
	if c.Destination.Table == "" {
		return errors.New(errors.ErrorTypeConfig, "destination.table is required")
	}
	if len(c.Destination.KeyColumns) == 0 {
		return errors.New(errors.ErrorTypeConfig, "destination.key_columns is required; upsert idempotence depends on it")
	}

	switch c.State.Type {
	case "":
		c.State.Type = "file"
	case "file", "sqlite":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown state store type %q", c.State.Type)
	}
	if c.State.Path == "" {
		return errors.New(errors.ErrorTypeConfig, "state.path is required")
	}

	if c.Performance.CheckpointEveryRecords <= 0 {
		c.Performance.CheckpointEveryRecords = 1000
	}
	if c.Performance.PrefetchWorkers <= 0 {
		c.Performance.PrefetchWorkers = 1
	}
	if c.Performance.PrefetchWorkers > 1 && c.Pagination.Strategy != StrategyTimeWindow {
		return errors.New(errors.ErrorTypeConfig, "prefetch_workers > 1 is only supported with time_window pagination")
	}

	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = 30 * time.Second
	}
	if c.Timeouts.Connection <= 0 {
		c.Timeouts.Connection = 10 * time.Second
	}

	if c.Reliability.RetryAttempts <= 0 {
		c.Reliability.RetryAttempts = 3
	}
	if c.Reliability.RetryDelay <= 0 {
		c.Reliability.RetryDelay = 1 * time.Second
	}
	if c.Reliability.MaxRetryDelay <= 0 {
		c.Reliability.MaxRetryDelay = 30 * time.Second
	}
	if c.Reliability.RetryMultiplier <= 0 {
		c.Reliability.RetryMultiplier = 2.0
	}
	if c.Reliability.RandomizeFactor < 0 || c.Reliability.RandomizeFactor > 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.randomize_factor must be between 0 and 1")
	}
	if c.Reliability.RandomizeFactor == 0 {
		c.Reliability.RandomizeFactor = 0.5
	}

	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}

	return nil
}

// StartPosition resolves the first-run cursor lower bound. Preference
// order: initial_sync_days back from now, then start_date, then the
// Unix epoch.
func (c *SyncConfig) StartPosition(now time.Time) string {
	if c.Incremental.InitialSyncDays > 0 {
		return now.UTC().AddDate(0, 0, -c.Incremental.InitialSyncDays).Format(time.RFC3339)
	}
	if c.Incremental.StartDate != "" {
		return c.Incremental.StartDate
	}
	return time.Unix(0, 0).UTC().Format(time.RFC3339)
}
