// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetcher modes.
const (
	FetcherHeadless = "headless"
	FetcherStatic   = "static"
	// FetcherAuto loads pages statically and renders only those that look client-side rendered.
	FetcherAuto = "auto"
)

// History drivers.
const (
	HistoryNone     = "none"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Storage  StorageConfig  `mapstructure:"storage"`
	History  HistoryConfig  `mapstructure:"history"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	// MinTokenLength is the shortest authorization_token accepted on submission.
	MinTokenLength int `mapstructure:"min_token_length"`
	// Enabled additionally requires APIKey in the X-API-Key header on every route.
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs discovery and page extraction.
type ScraperConfig struct {
	MaxConcurrentPages   int    `mapstructure:"max_concurrent_pages"`
	PageTimeoutSeconds   int    `mapstructure:"page_timeout_seconds"`
	MaxDepthDefault      int    `mapstructure:"max_depth_default"`
	IncludeImagesDefault bool   `mapstructure:"include_images_default"`
	MaxImagesPerPage     int    `mapstructure:"max_images_per_page"`
	MaxVisited           int    `mapstructure:"max_visited"`
	UserAgent            string `mapstructure:"user_agent"`
}

// FetcherConfig picks the page-loading engine.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
	// PromotionThreshold is the visible-text length below which auto mode renders a page.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel    int  `mapstructure:"max_parallel"`
	NetworkIdleMs  int  `mapstructure:"network_idle_ms"`
	DisableSandbox bool `mapstructure:"disable_sandbox"`
	WindowWidth    int  `mapstructure:"window_width"`
	WindowHeight   int  `mapstructure:"window_height"`
}

// JobsConfig sizes the background worker pool.
type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// StorageConfig sets where artifacts are written.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// HistoryConfig controls the optional job-history database.
type HistoryConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.min_token_length", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("scraper.max_concurrent_pages", 5)
	v.SetDefault("scraper.page_timeout_seconds", 30)
	v.SetDefault("scraper.max_depth_default", 3)
	v.SetDefault("scraper.include_images_default", true)
	v.SetDefault("scraper.max_images_per_page", 30)
	v.SetDefault("scraper.max_visited", 500)
	v.SetDefault("scraper.user_agent", "site-scraper/1.0")
	v.SetDefault("fetcher.mode", FetcherHeadless)
	v.SetDefault("fetcher.promotion_threshold", 200)
	v.SetDefault("headless.max_parallel", 5)
	v.SetDefault("headless.network_idle_ms", 500)
	v.SetDefault("headless.disable_sandbox", false)
	v.SetDefault("headless.window_width", 1920)
	v.SetDefault("headless.window_height", 1080)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("storage.output_dir", "./scraped_data")
	v.SetDefault("storage.prefix", "scrapes")
	v.SetDefault("history.driver", HistoryNone)
	v.SetDefault("history.sqlite_path", "./scraped_data/history.db")
	v.SetDefault("history.table", "scrape_jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxConcurrentPages <= 0 {
		return fmt.Errorf("scraper.max_concurrent_pages must be > 0")
	}
	if c.Scraper.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.page_timeout_seconds must be > 0")
	}
	if c.Scraper.MaxDepthDefault < 1 || c.Scraper.MaxDepthDefault > 10 {
		return fmt.Errorf("scraper.max_depth_default must be between 1 and 10")
	}
	if c.Scraper.MaxVisited < 0 || c.Scraper.MaxVisited > 500 {
		return fmt.Errorf("scraper.max_visited must be between 0 and 500")
	}
	switch c.Fetcher.Mode {
	case FetcherHeadless, FetcherStatic, FetcherAuto:
	default:
		return fmt.Errorf("fetcher.mode must be one of %q, %q or %q", FetcherHeadless, FetcherStatic, FetcherAuto)
	}
	if c.Fetcher.Mode != FetcherStatic && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when fetcher.mode is %s", c.Fetcher.Mode)
	}
	if c.Fetcher.PromotionThreshold < 0 {
		return fmt.Errorf("fetcher.promotion_threshold must be >= 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	switch c.History.Driver {
	case "", HistoryNone:
	case HistorySQLite:
		if c.History.SQLitePath == "" {
			return fmt.Errorf("history.sqlite_path is required for the sqlite driver")
		}
	case HistoryPostgres:
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("history.driver %q is not supported", c.History.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// PageTimeout returns the per-page fetch timeout.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
