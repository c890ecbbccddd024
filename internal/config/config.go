// Package config loads pipeline configuration from environment variables,
// an optional .env file, and an optional config.yaml, in that order of
// decreasing precedence: env > config file > compiled-in defaults
// (viper's native precedence), following the teacher's viper-backed
// config loading generalized from manifest-only config to full process
// config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	CacheDir string `mapstructure:"cache_dir"`

	LLMBaseURL string `mapstructure:"llm_base_url"`
	LLMAPIKey  string `mapstructure:"llm_api_key"`
	LLMModel   string `mapstructure:"llm_model"`

	GeocodeBaseURL string `mapstructure:"geocode_base_url"`
	GeocodeAPIKey  string `mapstructure:"geocode_api_key"`

	StoreDSN      string `mapstructure:"store_dsn"`
	StoreAPIKey   string `mapstructure:"store_api_key"`
	PipelineRun   string `mapstructure:"pipeline_run"`
	TLSCABundle   string `mapstructure:"tls_ca_bundle"`

	// FetchConcurrency bounds the scraper HTTP fetch semaphore (spec §4.1,
	// default 10-20).
	FetchConcurrency int `mapstructure:"fetch_concurrency"`

	// EnrichConcurrency bounds the LLM call semaphore (spec §4.3.2, default
	// 30).
	EnrichConcurrency int `mapstructure:"enrich_concurrency"`

	// EnrichBatchSize is the number of articles packed per LLM prompt (spec
	// §4.3.1, default 4-8).
	EnrichBatchSize int `mapstructure:"enrich_batch_size"`

	// CacheSaveInterval flushes the enrichment cache every N processed
	// articles (spec §4.3.3, default 500).
	CacheSaveInterval int `mapstructure:"cache_save_interval"`

	// MaxRetries bounds the HTTP/LLM retry ladder (spec §4.1, §7).
	MaxRetries int `mapstructure:"max_retries"`

	// MaxBackoff caps exponential backoff delay (spec §4.3.2, default 60s).
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// PollInterval is the live loop's sleep between cycles (spec §4.9,
	// default 15m).
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// PerSourceArticleCap bounds worst-case burst load per live-loop cycle
	// (spec §5, default 50).
	PerSourceArticleCap int `mapstructure:"per_source_article_cap"`

	// SinkBatchSize is the upsert batch size to the external store (spec
	// §4.6, default 200-500).
	SinkBatchSize int `mapstructure:"sink_batch_size"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("cache_dir", "./cache")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("pipeline_run", "default")
	v.SetDefault("fetch_concurrency", 16)
	v.SetDefault("enrich_concurrency", 30)
	v.SetDefault("enrich_batch_size", 6)
	v.SetDefault("cache_save_interval", 500)
	v.SetDefault("max_retries", 5)
	v.SetDefault("max_backoff", 60*time.Second)
	v.SetDefault("poll_interval", 15*time.Minute)
	v.SetDefault("per_source_article_cap", 50)
	v.SetDefault("sink_batch_size", 300)
	v.SetDefault("log_level", "info")
}

// Load builds a Config from (in ascending precedence) compiled-in
// defaults, an optional configPath (YAML), a .env file at envPath (if it
// exists; missing is not an error, .env loading itself is glue code out
// of this core's scope per spec §1, kept here only as a convenience
// loader), and environment variables prefixed PIPELINE_.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath) // best-effort; absence is not an error
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields required for the pipeline to run at all. It
// does not check per-command requirements (e.g. "start" needs an LLM key
// but "list" does not), callers layer command-specific checks on top.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch_concurrency must be positive")
	}
	if c.EnrichConcurrency <= 0 {
		return fmt.Errorf("enrich_concurrency must be positive")
	}
	if c.EnrichBatchSize <= 0 {
		return fmt.Errorf("enrich_batch_size must be positive")
	}
	return nil
}

// RequireLLM validates that LLM credentials are present. Called by
// commands that actually invoke the enrichment engine.
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return fmt.Errorf("llm_api_key is required (set PIPELINE_LLM_API_KEY)")
	}
	if strings.TrimSpace(c.LLMBaseURL) == "" {
		return fmt.Errorf("llm_base_url is required (set PIPELINE_LLM_BASE_URL)")
	}
	return nil
}

// RequireGeocoder validates that geocoder credentials are present.
func (c *Config) RequireGeocoder() error {
	if strings.TrimSpace(c.GeocodeAPIKey) == "" {
		return fmt.Errorf("geocode_api_key is required (set PIPELINE_GEOCODE_API_KEY)")
	}
	return nil
}
