// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader kinds accepted by sources.<name>.loader.
const (
	LoaderHTTP    = "http"
	LoaderBrowser = "browser"
)

// Output backends accepted by output.backend.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all run configuration knobs loaded via Viper.
// It is built once by Load and passed by value afterwards.
type Config struct {
	Logging  LoggingConfig           `mapstructure:"logging"`
	Output   OutputConfig            `mapstructure:"output"`
	Crawler  CrawlerConfig           `mapstructure:"crawler"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
	Server   ServerConfig            `mapstructure:"server"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	DB       DBConfig                `mapstructure:"db"`
	Progress ProgressConfig          `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// OutputConfig selects where per-source snapshots are written.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// CrawlerConfig holds the defaults shared by every source.
type CrawlerConfig struct {
	BatchSize           int    `mapstructure:"batch_size"`
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	SettleDelayMs       int    `mapstructure:"settle_delay_ms"`
	DelayMs             int    `mapstructure:"delay_ms"`
	Workers             int    `mapstructure:"workers"`
	QueueDepth          int    `mapstructure:"queue_depth"`
	MaxActionSteps      int    `mapstructure:"max_action_steps"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the browser page loader.
type HeadlessConfig struct {
	Headless      bool `mapstructure:"headless"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SourceConfig describes one crawled site. Zero-valued numeric fields fall
// back to the crawler defaults.
type SourceConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Strategy        string   `mapstructure:"strategy"`
	Loader          string   `mapstructure:"loader"`
	SeedURLs        []string `mapstructure:"seed_urls"`
	BatchSize       int      `mapstructure:"batch_size"`
	SettleDelayMs   int      `mapstructure:"settle_delay_ms"`
	DelayMs         int      `mapstructure:"delay_ms"`
	Workers         int      `mapstructure:"workers"`
	DismissSelector string   `mapstructure:"dismiss_selector"`
}

// ServerConfig controls the status HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PubSubConfig holds metadata for snapshot notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the run statistics database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Source is the resolved, immutable settings for one enabled source.
type Source struct {
	Name            string
	Strategy        string
	Loader          string
	SeedURLs        []string
	BatchSize       int
	SettleDelay     time.Duration
	Delay           time.Duration
	Workers         int
	DismissSelector string
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.dir", "output")
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.user_agent", "pcspec-crawler/0.1")
	v.SetDefault("crawler.fetch_timeout_seconds", 30)
	v.SetDefault("crawler.settle_delay_ms", 2000)
	v.SetDefault("crawler.delay_ms", 0)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.max_action_steps", 500)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("server.port", 0)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Output.Backend {
	case BackendLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("output.backend %q is not supported", c.Output.Backend)
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.SettleDelayMs < 0 || c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.Strategy == "" {
			return fmt.Errorf("sources.%s.strategy must be set", name)
		}
		if len(src.SeedURLs) == 0 {
			return fmt.Errorf("sources.%s.seed_urls must not be empty", name)
		}
		switch src.Loader {
		case "", LoaderHTTP, LoaderBrowser:
		default:
			return fmt.Errorf("sources.%s.loader %q is not supported", name, src.Loader)
		}
		if src.BatchSize < 0 || src.Workers < 0 || src.SettleDelayMs < 0 || src.DelayMs < 0 {
			return fmt.Errorf("sources.%s overrides must be >= 0", name)
		}
	}
	return nil
}

// FetchTimeout is the independent timeout applied to every page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSeconds) * time.Second
}

// NavTimeout is the browser navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// EnabledSources returns the resolved settings of every enabled source,
// sorted by name. When only is non-empty the result is restricted to those names.
func (c Config) EnabledSources(only ...string) ([]Source, error) {
	filter := make(map[string]bool, len(only))
	for _, name := range only {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := c.Sources[name]; !ok {
			return nil, fmt.Errorf("source %q is not configured", name)
		}
		filter[name] = true
	}

	out := make([]Source, 0, len(c.Sources))
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if len(filter) > 0 && !filter[name] {
			continue
		}
		out = append(out, c.resolve(name, src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c Config) resolve(name string, src SourceConfig) Source {
	res := Source{
		Name:            name,
		Strategy:        src.Strategy,
		Loader:          src.Loader,
		SeedURLs:        append([]string(nil), src.SeedURLs...),
		BatchSize:       c.Crawler.BatchSize,
		SettleDelay:     time.Duration(c.Crawler.SettleDelayMs) * time.Millisecond,
		Delay:           time.Duration(c.Crawler.DelayMs) * time.Millisecond,
		Workers:         c.Crawler.Workers,
		DismissSelector: src.DismissSelector,
	}
	if res.Loader == "" {
		res.Loader = LoaderHTTP
	}
	if src.BatchSize > 0 {
		res.BatchSize = src.BatchSize
	}
	if src.SettleDelayMs > 0 {
		res.SettleDelay = time.Duration(src.SettleDelayMs) * time.Millisecond
	}
	if src.DelayMs > 0 {
		res.Delay = time.Duration(src.DelayMs) * time.Millisecond
	}
	if src.Workers > 0 {
		res.Workers = src.Workers
	}
	return res
}
