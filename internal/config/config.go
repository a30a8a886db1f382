// Package config loads gateway configuration from environment variables
// and an optional config file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the tunable knobs of the adaptive core.
const (
	DefaultMaxTextChars        = 10000
	DefaultFastPathThreshold   = 100
	DefaultChunkSize           = 400
	DefaultQualityThreshold    = 0.8
	DefaultMaxChunkConcurrency = 5
	DefaultMaxProbeConcurrency = 3
	DefaultTTL                 = time.Hour
	DefaultRateLimitRPM        = 60
)

// Config is the resolved gateway configuration.
type Config struct {
	DefaultBackend string   `mapstructure:"default_backend"`
	LoadedBackends []string `mapstructure:"loaded_backends"`
	APIKey         string   `mapstructure:"api_key"`
	KVURL          string   `mapstructure:"kv_url"`

	EmbedderEnabled bool   `mapstructure:"embedder_enabled"`
	EmbedderURL     string `mapstructure:"embedder_url"`
	EmbedderModel   string `mapstructure:"embedder_model"`

	RateLimitRPM        int     `mapstructure:"rate_limit_rpm"`
	MaxTextChars        int     `mapstructure:"max_text_chars"`
	FastPathThreshold   int     `mapstructure:"fast_path_threshold"`
	DefaultChunkSize    int     `mapstructure:"default_chunk_size"`
	QualityThreshold    float64 `mapstructure:"quality_threshold"`
	MaxChunkConcurrency int     `mapstructure:"max_chunk_concurrency"`
	MaxProbeConcurrency int     `mapstructure:"max_probe_concurrency"`
	DefaultTTLMS        int64   `mapstructure:"default_ttl_ms"`

	ListenAddr string `mapstructure:"listen_addr"`

	OllamaURL     string `mapstructure:"ollama_url"`
	OpenRouterKey string `mapstructure:"openrouter_key"`
	Credentials   string `mapstructure:"credentials"`
	ProjectID     string `mapstructure:"project_id"`
}

// Load reads configuration from the environment (and the config file viper
// was pointed at, if any) and applies defaults.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	v.SetDefault("default_backend", "mock")
	v.SetDefault("loaded_backends", "mock")
	v.SetDefault("rate_limit_rpm", DefaultRateLimitRPM)
	v.SetDefault("max_text_chars", DefaultMaxTextChars)
	v.SetDefault("fast_path_threshold", DefaultFastPathThreshold)
	v.SetDefault("default_chunk_size", DefaultChunkSize)
	v.SetDefault("quality_threshold", DefaultQualityThreshold)
	v.SetDefault("max_chunk_concurrency", DefaultMaxChunkConcurrency)
	v.SetDefault("max_probe_concurrency", DefaultMaxProbeConcurrency)
	v.SetDefault("default_ttl_ms", DefaultTTL.Milliseconds())
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("kv_url", "./data/lingua-nexus.db")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("embedder_url", "http://localhost:11434")
	v.SetDefault("embedder_model", "nomic-embed-text")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// LOADED_BACKENDS arrives as a comma list when set via environment;
	// normalise whitespace and drop empty entries either way.
	var backends []string
	for _, b := range cfg.LoadedBackends {
		backends = append(backends, splitList(b)...)
	}
	cfg.LoadedBackends = backends

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxTextChars <= 0 {
		return fmt.Errorf("max_text_chars must be positive, got %d", c.MaxTextChars)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be in [0,1], got %v", c.QualityThreshold)
	}
	if c.MaxChunkConcurrency < 1 {
		return fmt.Errorf("max_chunk_concurrency must be at least 1, got %d", c.MaxChunkConcurrency)
	}
	if c.MaxProbeConcurrency < 1 {
		return fmt.Errorf("max_probe_concurrency must be at least 1, got %d", c.MaxProbeConcurrency)
	}
	if c.DefaultTTLMS <= 0 {
		return fmt.Errorf("default_ttl_ms must be positive, got %d", c.DefaultTTLMS)
	}
	return nil
}

// DefaultTTLDuration returns the configured base cache TTL.
func (c *Config) DefaultTTLDuration() time.Duration {
	return time.Duration(c.DefaultTTLMS) * time.Millisecond
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
