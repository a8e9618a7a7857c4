// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/evidentlabs/rivalscan/internal/scoring"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     Server               `mapstructure:"server"`
	Scan       Scan                 `mapstructure:"scan"`
	Search     Search               `mapstructure:"search"`
	Headless   Headless             `mapstructure:"headless"`
	RateLimit  RateLimit            `mapstructure:"ratelimit"`
	Storage    Storage              `mapstructure:"storage"`
	Database   Database             `mapstructure:"database"`
	PubSub     PubSub               `mapstructure:"pubsub"`
	Progress   Progress             `mapstructure:"progress"`
	Scoring    Scoring              `mapstructure:"scoring"`
	Logging    Logging              `mapstructure:"logging"`
	Watchlists map[string]Watchlist `mapstructure:"watchlists"`
}

// Server controls HTTP server behavior.
type Server struct {
	Port int `mapstructure:"port"`
}

// Scan governs dispatcher and collection pipeline behavior.
type Scan struct {
	Concurrency       int      `mapstructure:"concurrency"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	MaxTargetPages    int      `mapstructure:"max_target_pages"`
	FetchBudgetMs     int      `mapstructure:"fetch_budget_ms"`
	RequestTimeoutMs  int      `mapstructure:"request_timeout_ms"`
	FetchConcurrency  int      `mapstructure:"fetch_concurrency"`
	TextCharCap       int      `mapstructure:"text_char_cap"`
	ShortlistQuota    int      `mapstructure:"shortlist_quota"`
	RecencyWindowDays int      `mapstructure:"recency_window_days"`
	UserAgent         string   `mapstructure:"user_agent"`
	DenyDomains       []string `mapstructure:"deny_domains"`
}

// Search configures the Brave search augmentation client.
type Search struct {
	Enabled           bool    `mapstructure:"enabled"`
	APIKey            string  `mapstructure:"api_key"`
	Endpoint          string  `mapstructure:"endpoint"`
	MaxResults        int     `mapstructure:"max_results"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Headless configures the rendering subsystem.
type Headless struct {
	Enabled             bool `mapstructure:"enabled"`
	MaxParallel         int  `mapstructure:"max_parallel"`
	NavTimeoutMs        int  `mapstructure:"nav_timeout_ms"`
	ShellThresholdBytes int  `mapstructure:"shell_threshold_bytes"`
}

// RateLimit configures per-domain admission control.
type RateLimit struct {
	Enabled            bool    `mapstructure:"enabled"`
	DefaultRPS         float64 `mapstructure:"default_rps"`
	DefaultBurst       int     `mapstructure:"default_burst"`
	MaxHeadlessPerScan int     `mapstructure:"max_headless_per_scan"`
}

// Storage selects and configures the snapshot backend.
type Storage struct {
	Backend     string       `mapstructure:"backend"`
	Bucket      string       `mapstructure:"bucket"`
	Local       LocalStorage `mapstructure:"local"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
}

// LocalStorage configures the filesystem snapshot backend.
type LocalStorage struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Database controls access to Postgres run history.
type Database struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSub holds metadata for the queue and completion-event topics.
type PubSub struct {
	ProjectID string `mapstructure:"project_id"`
	// TopicName receives scan completion events.
	TopicName string `mapstructure:"topic_name"`
	// JobsTopic and Subscription back the distributed scan queue. When
	// either is empty the service falls back to the in-memory queue.
	JobsTopic    string `mapstructure:"jobs_topic"`
	Subscription string `mapstructure:"subscription"`
}

// Progress tunes the progress hub.
type Progress struct {
	Enabled       bool  `mapstructure:"enabled"`
	LogEnabled    bool  `mapstructure:"log_enabled"`
	BufferSize    int   `mapstructure:"buffer_size"`
	Batch         Batch `mapstructure:"batch"`
	SinkTimeoutMs int   `mapstructure:"sink_timeout_ms"`
}

// Batch bounds hub flushing.
type Batch struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Scoring overrides the coverage scorer defaults.
type Scoring struct {
	Weights            scoring.Weights `mapstructure:"weights"`
	MinTotalSources    int             `mapstructure:"min_total_sources"`
	MinEvidenceTypes   int             `mapstructure:"min_evidence_types"`
	MinFirstPartyRatio float64         `mapstructure:"min_first_party_ratio"`
	MaxMedianAgeDays   int             `mapstructure:"max_median_age_days"`
	Buckets            scoring.Buckets `mapstructure:"buckets"`
}

// Logging toggles zap development features.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Watchlist is a named, pre-configured competitor set.
type Watchlist struct {
	Domains     []string `mapstructure:"domains"`
	ProductHint string   `mapstructure:"product_hint"`
	UseSearch   bool     `mapstructure:"use_search"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RIVALSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scan.concurrency", 4)
	v.SetDefault("scan.queue_depth", 64)
	v.SetDefault("scan.max_target_pages", 10)
	v.SetDefault("scan.fetch_budget_ms", 20000)
	v.SetDefault("scan.request_timeout_ms", 8000)
	v.SetDefault("scan.fetch_concurrency", 5)
	v.SetDefault("scan.text_char_cap", 20000)
	v.SetDefault("scan.shortlist_quota", 5)
	v.SetDefault("scan.recency_window_days", 270)
	v.SetDefault("scan.user_agent", "rivalscan-bot/0.1")
	v.SetDefault("search.enabled", false)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.requests_per_second", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_ms", 25000)
	v.SetDefault("headless.shell_threshold_bytes", 2048)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 2)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("scoring.weights.coverage", 0.45)
	v.SetDefault("scoring.weights.recency", 0.35)
	v.SetDefault("scoring.weights.first_party", 0.20)
	v.SetDefault("scoring.min_total_sources", 3)
	v.SetDefault("scoring.min_evidence_types", 2)
	v.SetDefault("scoring.min_first_party_ratio", 0.2)
	v.SetDefault("scoring.max_median_age_days", 180)
	v.SetDefault("scoring.buckets.high", 7.5)
	v.SetDefault("scoring.buckets.medium", 5.0)
	v.SetDefault("logging.development", true)
}

var knownBackends = map[string]struct{}{
	"memory": {},
	"local":  {},
	"gcs":    {},
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be > 0")
	}
	if c.Scan.QueueDepth <= 0 {
		return fmt.Errorf("scan.queue_depth must be > 0")
	}
	if c.Scan.MaxTargetPages <= 0 {
		return fmt.Errorf("scan.max_target_pages must be > 0")
	}
	if c.Scan.FetchBudgetMs <= 0 {
		return fmt.Errorf("scan.fetch_budget_ms must be > 0")
	}
	if c.Scan.RequestTimeoutMs <= 0 {
		return fmt.Errorf("scan.request_timeout_ms must be > 0")
	}
	if c.Scan.FetchConcurrency <= 0 {
		return fmt.Errorf("scan.fetch_concurrency must be > 0")
	}
	if c.Scan.TextCharCap <= 0 {
		return fmt.Errorf("scan.text_char_cap must be > 0")
	}
	if c.Scan.ShortlistQuota <= 0 {
		return fmt.Errorf("scan.shortlist_quota must be > 0")
	}
	if c.Scan.RecencyWindowDays <= 0 {
		return fmt.Errorf("scan.recency_window_days must be > 0")
	}
	if c.Search.Enabled && c.Search.APIKey == "" {
		return fmt.Errorf("search.api_key must be set when search is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if _, ok := knownBackends[c.Storage.Backend]; !ok {
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.Local.BaseDir == "" {
		return fmt.Errorf("storage.local.base_dir must be set for the local backend")
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		return fmt.Errorf("scoring.weights: %w", err)
	}
	if err := c.Scoring.Buckets.Validate(); err != nil {
		return fmt.Errorf("scoring.buckets: %w", err)
	}
	if err := c.Threshold().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	return nil
}

// Threshold assembles the scorer sufficiency gate from the flat config keys.
func (c Config) Threshold() scoring.Threshold {
	return scoring.Threshold{
		MinTotalSources:    c.Scoring.MinTotalSources,
		MinEvidenceTypes:   c.Scoring.MinEvidenceTypes,
		MinFirstPartyRatio: c.Scoring.MinFirstPartyRatio,
		MaxMedianAgeDays:   c.Scoring.MaxMedianAgeDays,
	}
}

// FetchBudget converts the millisecond knob into a duration.
func (c Config) FetchBudget() time.Duration {
	return time.Duration(c.Scan.FetchBudgetMs) * time.Millisecond
}

// RequestTimeout converts the millisecond knob into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scan.RequestTimeoutMs) * time.Millisecond
}
