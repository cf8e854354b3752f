// Package config holds labelwire configuration and its loading from file,
// environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LABELWIRE"

// Config is the complete labelwire configuration.
type Config struct {
	Platform     PlatformConfig     `mapstructure:"platform" yaml:"platform"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting" yaml:"rate_limiting"`
	Concurrency  ConcurrencyConfig  `mapstructure:"concurrency" yaml:"concurrency"`
	Convert      ConvertConfig      `mapstructure:"convert" yaml:"convert"`
}

// PlatformConfig configures the HTTP client for the labeling platform.
// BaseURL is only required by commands that talk to the platform.
type PlatformConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	HTTPProxy    string        `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy   string        `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`
	NoProxy      string        `mapstructure:"no_proxy" yaml:"no_proxy,omitempty"`
}

// CacheConfig configures the ontology document cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl" yaml:"memory_ttl"`
	DiskDir   string        `mapstructure:"disk_dir" yaml:"disk_dir"`
	DiskTTL   time.Duration `mapstructure:"disk_ttl" yaml:"disk_ttl"`
}

// RateLimitingConfig bounds requests per platform host.
type RateLimitingConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// ConcurrencyConfig sizes the worker pools.
type ConcurrencyConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// ConvertConfig mirrors convert.Options.
type ConvertConfig struct {
	CoalesceVideoClassifications bool `mapstructure:"coalesce_video_classifications" yaml:"coalesce_video_classifications"`
	PreferNames                  bool `mapstructure:"prefer_names" yaml:"prefer_names"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "labelwire/" + Version,
			MaxBodyBytes: 64 << 20,
			MaxRetries:   3,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 15 * time.Minute,
			DiskDir:   defaultCacheDir(),
			DiskTTL:   24 * time.Hour,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
	}
}

// Version is the labelwire release.
const Version = "0.1.0"

// Dir returns the directory holding the user's config file.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".labelwire"), nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "labelwire")
	}
	return filepath.Join(os.TempDir(), "labelwire-cache")
}

// SetDefaults registers every default with v so env variables and unset
// file keys resolve to them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("platform.base_url", d.Platform.BaseURL)
	v.SetDefault("platform.api_key", d.Platform.APIKey)
	v.SetDefault("platform.timeout", d.Platform.Timeout)
	v.SetDefault("platform.user_agent", d.Platform.UserAgent)
	v.SetDefault("platform.max_body_bytes", d.Platform.MaxBodyBytes)
	v.SetDefault("platform.max_retries", d.Platform.MaxRetries)
	v.SetDefault("platform.http_proxy", d.Platform.HTTPProxy)
	v.SetDefault("platform.https_proxy", d.Platform.HTTPSProxy)
	v.SetDefault("platform.no_proxy", d.Platform.NoProxy)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.memory_ttl", d.Cache.MemoryTTL)
	v.SetDefault("cache.disk_dir", d.Cache.DiskDir)
	v.SetDefault("cache.disk_ttl", d.Cache.DiskTTL)
	v.SetDefault("rate_limiting.requests_per_second", d.RateLimiting.RequestsPerSecond)
	v.SetDefault("rate_limiting.burst", d.RateLimiting.Burst)
	v.SetDefault("concurrency.workers", d.Concurrency.Workers)
	v.SetDefault("convert.coalesce_video_classifications", d.Convert.CoalesceVideoClassifications)
	v.SetDefault("convert.prefer_names", d.Convert.PreferNames)
}

// Configure points v at cfgFile, or at ~/.labelwire/config.yaml when empty,
// and enables LABELWIRE_* environment overrides.
func Configure(v *viper.Viper, cfgFile string) {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("platform.api_key", EnvPrefix+"_API_KEY", EnvPrefix+"_PLATFORM_API_KEY")
}

// Load reads the config file if one exists and decodes the result. A
// missing default config file is not an error; an explicit one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the client cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Platform.Timeout <= 0:
		return fmt.Errorf("platform.timeout must be positive, got %v", c.Platform.Timeout)
	case c.Platform.MaxBodyBytes <= 0:
		return fmt.Errorf("platform.max_body_bytes must be positive, got %d", c.Platform.MaxBodyBytes)
	case c.Platform.MaxRetries < 0:
		return fmt.Errorf("platform.max_retries must be >= 0, got %d", c.Platform.MaxRetries)
	case c.RateLimiting.RequestsPerSecond <= 0:
		return fmt.Errorf("rate_limiting.requests_per_second must be positive, got %v", c.RateLimiting.RequestsPerSecond)
	case c.Concurrency.Workers < 0:
		return fmt.Errorf("concurrency.workers must be >= 0, got %d", c.Concurrency.Workers)
	}
	return nil
}
