// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Input     InputConfig     `mapstructure:"input"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Output    OutputConfig    `mapstructure:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Debug     bool            `mapstructure:"debug"`
}

// InputConfig holds the seed lists and locale.
type InputConfig struct {
	ProductURLs    []string `mapstructure:"product_urls"`
	SellerHandles  []string `mapstructure:"seller_handles"`
	Keywords       []string `mapstructure:"keywords"`
	CategoryURLs   []string `mapstructure:"category_urls"`
	Region         string   `mapstructure:"region"`
	AcceptLanguage string   `mapstructure:"accept_language"`
	BaseURL        string   `mapstructure:"base_url"`
}

// CrawlerConfig governs the worker pool, budgets and per-page behavior.
type CrawlerConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxItems             int64         `mapstructure:"max_items"`
	MaxRequests          int64         `mapstructure:"max_requests"`
	MaxLinksPerPage      int           `mapstructure:"max_links_per_page"`
	ScrollSteps          int           `mapstructure:"scroll_steps"`
	ScrollPause          time.Duration `mapstructure:"scroll_pause"`
	IncludeCreatorVideos bool          `mapstructure:"include_creator_videos"`
	MaxCreators          int           `mapstructure:"max_creators"`
	CaptureScreenshots   bool          `mapstructure:"capture_screenshots"`
	UserAgent            string        `mapstructure:"user_agent"`
	DomainQPS            float64       `mapstructure:"domain_qps"`
}

// BrowserConfig selects and tunes the page driver.
type BrowserConfig struct {
	Driver      string        `mapstructure:"driver"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Bin         string        `mapstructure:"bin"`
	// MaxAttempts bounds page opens per request; 1 disables retries.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// NotifyConfig lists the change-notification sinks. Empty values disable a sink.
type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	ChatWebhookURL string        `mapstructure:"chat_webhook_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PubSubProject  string        `mapstructure:"pubsub_project"`
	PubSubTopic    string        `mapstructure:"pubsub_topic"`
	RedisStream    string        `mapstructure:"redis_stream"`
	RedisStreamLen int64         `mapstructure:"redis_stream_maxlen"`
}

// SnapshotConfig selects the snapshot key/value backend.
type SnapshotConfig struct {
	Backend string        `mapstructure:"backend"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig is shared by the redis snapshot backend and the stream sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// StorageConfig selects where screenshots go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// OutputConfig sets the dataset destination.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the ops HTTP server. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// TelemetryConfig controls tracing. An empty project keeps spans local.
type TelemetryConfig struct {
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOREFRONT")
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
	// AutomaticEnv only resolves keys viper already knows, so list slices too.
	v.SetDefault("input.product_urls", []string{})
	v.SetDefault("input.seller_handles", []string{})
	v.SetDefault("input.keywords", []string{})
	v.SetDefault("input.category_urls", []string{})
	v.SetDefault("input.region", "US")
	v.SetDefault("input.accept_language", "")
	v.SetDefault("input.base_url", "https://www.tiktok.com")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.request_timeout", 90*time.Second)
	v.SetDefault("crawler.max_items", 0)
	v.SetDefault("crawler.max_requests", 0)
	v.SetDefault("crawler.max_links_per_page", 50)
	v.SetDefault("crawler.scroll_steps", 5)
	v.SetDefault("crawler.scroll_pause", 750*time.Millisecond)
	v.SetDefault("crawler.include_creator_videos", true)
	v.SetDefault("crawler.max_creators", 10)
	v.SetDefault("crawler.capture_screenshots", false)
	v.SetDefault("crawler.user_agent", "storefront-watch/0.1")
	v.SetDefault("crawler.domain_qps", 1.0)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.max_attempts", 2)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.chat_webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("notify.redis_stream", "")
	v.SetDefault("notify.redis_stream_maxlen", 10000)
	v.SetDefault("snapshot.backend", "memory")
	v.SetDefault("snapshot.prefix", "snapshot:")
	v.SetDefault("snapshot.ttl", 0)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "snapshots")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "./screenshots-out")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("output.path", "-")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.0)
	v.SetDefault("debug", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxItems < 0 || c.Crawler.MaxRequests < 0 {
		return fmt.Errorf("crawler.max_items and crawler.max_requests must be >= 0")
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	switch c.Browser.Driver {
	case "chromedp", "rod", "static":
	default:
		return fmt.Errorf("browser.driver must be one of chromedp, rod, static; got %q", c.Browser.Driver)
	}
	switch c.Snapshot.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when snapshot.backend is redis")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when snapshot.backend is postgres")
		}
	default:
		return fmt.Errorf("snapshot.backend must be one of memory, redis, postgres; got %q", c.Snapshot.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs; got %q", c.Storage.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if (c.Notify.PubSubProject == "") != (c.Notify.PubSubTopic == "") {
		return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic must be set together")
	}
	if c.Notify.RedisStream != "" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when notify.redis_stream is set")
	}
	if len(c.Input.SellerHandles) > 0 || len(c.Input.Keywords) > 0 {
		if c.Input.BaseURL == "" {
			return fmt.Errorf("input.base_url must be set to expand seller handles and keywords")
		}
	}
	return nil
}

// SeedCount returns the number of configured seeds across all lists.
func (c Config) SeedCount() int {
	in := c.Input
	return len(in.ProductURLs) + len(in.SellerHandles) + len(in.Keywords) + len(in.CategoryURLs)
}
