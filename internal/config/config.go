// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Runner  RunnerConfig  `mapstructure:"runner"`
	Files   FilesConfig   `mapstructure:"files"`
	Target  TargetConfig  `mapstructure:"target"`
	DB      DBConfig      `mapstructure:"db"`
	Browser BrowserConfig `mapstructure:"browser"`
	Server  ServerConfig  `mapstructure:"server"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunnerConfig governs the worker fleet and retry budget.
type RunnerConfig struct {
	WorkerCount      int `mapstructure:"worker_count"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	AcquireBackoffMs int `mapstructure:"acquire_backoff_ms"`
}

// FilesConfig points at the line-oriented input files.
type FilesConfig struct {
	Items          string `mapstructure:"items"`
	Proxies        string `mapstructure:"proxies"`
	BlockedProxies string `mapstructure:"blocked_proxies"`
}

// TargetConfig describes the catalog site being crawled.
type TargetConfig struct {
	ItemURLTemplate string `mapstructure:"item_url_template"`
}

// DBConfig controls access to the relational record store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Schema   string `mapstructure:"schema"`
	PoolSize int    `mapstructure:"pool_size"`
}

// BrowserConfig configures the headless browser sessions.
type BrowserConfig struct {
	Headless      bool `mapstructure:"headless"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	DisplayBase   int  `mapstructure:"display_base"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PubSubConfig holds metadata for outcome event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig sets where parse-failure HTML archives land.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Dir       string `mapstructure:"dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("runner.worker_count", 4)
	v.SetDefault("runner.max_attempts", 5)
	v.SetDefault("runner.acquire_backoff_ms", 100)
	v.SetDefault("files.items", "data/items.txt")
	v.SetDefault("files.proxies", "data/proxies.txt")
	v.SetDefault("files.blocked_proxies", "data/blocked_proxies.txt")
	v.SetDefault("target.item_url_template", "https://www.avito.ru/item/%d")
	v.SetDefault("db.schema", "new")
	v.SetDefault("db.pool_size", 5)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 15)
	v.SetDefault("browser.display_base", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "parse-failures")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Runner.WorkerCount <= 0 {
		return fmt.Errorf("runner.worker_count must be > 0")
	}
	if c.Runner.MaxAttempts <= 0 {
		return fmt.Errorf("runner.max_attempts must be > 0")
	}
	if c.Files.Items == "" {
		return fmt.Errorf("files.items is required")
	}
	if c.Files.Proxies == "" {
		return fmt.Errorf("files.proxies is required")
	}
	if c.Files.BlockedProxies == "" {
		return fmt.Errorf("files.blocked_proxies is required")
	}
	if !strings.Contains(c.Target.ItemURLTemplate, "%d") {
		return fmt.Errorf("target.item_url_template must contain a %%d placeholder")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Provider {
	case "noop", "local", "gcs":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir must be set when storage.provider is local")
	}
	return nil
}

// ItemURL builds the canonical listing URL for an item key.
func (c Config) ItemURL(itemID int64) string {
	return fmt.Sprintf(c.Target.ItemURLTemplate, itemID)
}

// NavTimeout converts the navigation timeout config into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// AcquireBackoff returns the pause between failed proxy acquisitions.
func (c Config) AcquireBackoff() time.Duration {
	return time.Duration(c.Runner.AcquireBackoffMs) * time.Millisecond
}
