// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	DB       DBConfig       `mapstructure:"db"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig identifies the wiki under harvest.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	RootURL string `mapstructure:"root_url"`
}

// AuthConfig carries the SSO credentials and session persistence path.
// Credentials normally arrive via WIKIHARVEST_AUTH_EMAIL and
// WIKIHARVEST_AUTH_PASSWORD rather than the config file.
type AuthConfig struct {
	Email       string `mapstructure:"email"`
	Password    string `mapstructure:"password"`
	SessionFile string `mapstructure:"session_file"`
}

// CrawlerConfig governs crawl pacing and output.
type CrawlerConfig struct {
	OutputDir           string   `mapstructure:"output_dir"`
	DelaySeconds        int      `mapstructure:"delay_seconds"`
	LastModTimeoutSec   int      `mapstructure:"lastmod_timeout_seconds"`
	LastModPatterns     []string `mapstructure:"lastmod_patterns"`
	MaxTitleFilenameLen int      `mapstructure:"max_title_filename_len"`
}

// HeadlessConfig configures the browser session.
type HeadlessConfig struct {
	Headless       bool   `mapstructure:"headless"`
	UserAgent      string `mapstructure:"user_agent"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	AuthTimeoutSec int    `mapstructure:"auth_timeout_seconds"`
	ExpandWaitMs   int    `mapstructure:"expand_wait_ms"`
}

// ScoringConfig points at the external scoring agent.
type ScoringConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	AgentID           string  `mapstructure:"agent_id"`
	APIKey            string  `mapstructure:"api_key"`
	MinIntervalSec    int     `mapstructure:"min_interval_seconds"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffBaseSec    int     `mapstructure:"backoff_base_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	MaxContentChars   int     `mapstructure:"max_content_chars"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PipelineConfig tunes validation thresholds and checkpointing.
type PipelineConfig struct {
	RelevanceThreshold float64 `mapstructure:"relevance_threshold"`
	CurrencyThreshold  float64 `mapstructure:"currency_threshold"`
	CheckpointPath     string  `mapstructure:"checkpoint_path"`
	CheckpointEvery    int     `mapstructure:"checkpoint_every"`
	ResultsDir         string  `mapstructure:"results_dir"`
	BatchSize          int     `mapstructure:"batch_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKIHARVEST")
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
	// Empty defaults register the keys with Viper so environment variables
	// (WIKIHARVEST_AUTH_EMAIL and friends) reach Unmarshal.
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.root_url", "")
	v.SetDefault("auth.email", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("scoring.base_url", "")
	v.SetDefault("scoring.agent_id", "")
	v.SetDefault("scoring.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.session_file", "session.json")
	v.SetDefault("crawler.output_dir", "crawled_pages")
	v.SetDefault("crawler.delay_seconds", 2)
	v.SetDefault("crawler.lastmod_timeout_seconds", 3)
	v.SetDefault("crawler.max_title_filename_len", 50)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.auth_timeout_seconds", 120)
	v.SetDefault("headless.expand_wait_ms", 1000)
	v.SetDefault("scoring.min_interval_seconds", 2)
	v.SetDefault("scoring.max_attempts", 3)
	v.SetDefault("scoring.backoff_base_seconds", 1)
	v.SetDefault("scoring.backoff_multiplier", 2.0)
	v.SetDefault("scoring.max_content_chars", 10000)
	v.SetDefault("scoring.timeout_seconds", 30)
	v.SetDefault("db.table", "validated_pages")
	v.SetDefault("pipeline.relevance_threshold", 0.80)
	v.SetDefault("pipeline.currency_threshold", 1.0)
	v.SetDefault("pipeline.checkpoint_path", "validation_checkpoint.json")
	v.SetDefault("pipeline.checkpoint_every", 10)
	v.SetDefault("pipeline.results_dir", ".")
	v.SetDefault("pipeline.batch_size", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Crawler.DelaySeconds < 2 {
		return fmt.Errorf("crawler.delay_seconds must be >= 2")
	}
	if c.Crawler.LastModTimeoutSec <= 0 {
		return fmt.Errorf("crawler.lastmod_timeout_seconds must be > 0")
	}
	if c.Scoring.MaxAttempts <= 0 {
		return fmt.Errorf("scoring.max_attempts must be > 0")
	}
	if c.Pipeline.RelevanceThreshold < 0 || c.Pipeline.RelevanceThreshold > 1 {
		return fmt.Errorf("pipeline.relevance_threshold must be within [0, 1]")
	}
	if c.Pipeline.CurrencyThreshold < 0 || c.Pipeline.CurrencyThreshold > 1 {
		return fmt.Errorf("pipeline.currency_threshold must be within [0, 1]")
	}
	if c.Pipeline.CheckpointEvery <= 0 {
		return fmt.Errorf("pipeline.checkpoint_every must be > 0")
	}
	return nil
}

// PolitenessDelay converts the crawl delay into a duration.
func (c Config) PolitenessDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// LastModTimeout converts the extraction timeout into a duration.
func (c Config) LastModTimeout() time.Duration {
	return time.Duration(c.Crawler.LastModTimeoutSec) * time.Second
}
