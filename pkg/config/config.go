// Package config loads engine tunables. Infrastructure endpoints stay in
// plain environment variables read through pkg/utils.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

type Config struct {
	Matcher  MatcherConfig  `yaml:"matcher" mapstructure:"matcher"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Refresh  RefreshConfig  `yaml:"refresh" mapstructure:"refresh"`
	Prefetch PrefetchConfig `yaml:"prefetch" mapstructure:"prefetch"`
	Facts    FactsConfig    `yaml:"facts" mapstructure:"facts"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Temporal TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
	Stream   StreamConfig   `yaml:"stream" mapstructure:"stream"`
}

type MatcherConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	// Strategy is "fuzzy" or "exact".
	Strategy         string `yaml:"strategy" mapstructure:"strategy"`
	ValidateEntities bool   `yaml:"validate_entities" mapstructure:"validate_entities"`
}

type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries   int           `yaml:"max_entries" mapstructure:"max_entries"`
	RedisEnabled bool          `yaml:"redis_enabled" mapstructure:"redis_enabled"`
}

type RefreshConfig struct {
	Cron    string        `yaml:"cron" mapstructure:"cron"`
	Workers int           `yaml:"workers" mapstructure:"workers"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Sink    bool          `yaml:"sink" mapstructure:"sink"`
}

type PrefetchConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Cron        string        `yaml:"cron" mapstructure:"cron"`
	Horizon     time.Duration `yaml:"horizon" mapstructure:"horizon"`
	TopK        int           `yaml:"top_k" mapstructure:"top_k"`
	HalfLife    time.Duration `yaml:"half_life" mapstructure:"half_life"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	LogCapacity int           `yaml:"log_capacity" mapstructure:"log_capacity"`
	Rate        float64       `yaml:"rate" mapstructure:"rate"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	History     int           `yaml:"history" mapstructure:"history"`
}

type FactsConfig struct {
	// Driver is clickhouse, postgres, sqlite or memory.
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

type StreamConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Name     string `yaml:"name" mapstructure:"name"`
	Group    string `yaml:"group" mapstructure:"group"`
	Consumer string `yaml:"consumer" mapstructure:"consumer"`
}

// Load reads defaults, then the optional config file, then SPENDQ_* env
// overrides (SPENDQ_CACHE_TTL=10m sets cache.ttl). An empty path looks for
// spendq.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("spendq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SPENDQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("matcher.confidence_threshold", 0.75)
	v.SetDefault("matcher.strategy", "fuzzy")
	v.SetDefault("matcher.validate_entities", false)
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis_enabled", false)
	v.SetDefault("refresh.cron", "0 */15 * * * *")
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.timeout", 5*time.Minute)
	v.SetDefault("refresh.sink", false)
	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.cron", "30 * * * * *")
	v.SetDefault("prefetch.horizon", 5*time.Minute)
	v.SetDefault("prefetch.top_k", 10)
	v.SetDefault("prefetch.half_life", 30*time.Minute)
	v.SetDefault("prefetch.window", 24*time.Hour)
	v.SetDefault("prefetch.log_capacity", 1024)
	v.SetDefault("prefetch.rate", 20.0)
	v.SetDefault("prefetch.burst", 5)
	v.SetDefault("prefetch.workers", 4)
	v.SetDefault("prefetch.history", 50)
	v.SetDefault("facts.driver", "memory")
	v.SetDefault("facts.dsn", "")
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "spendq:refresh")
	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.name", "spendq:facts-committed")
	v.SetDefault("stream.group", "spendq")
	v.SetDefault("stream.consumer", "spendq-1")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Matcher.ConfidenceThreshold <= 0 || c.Matcher.ConfidenceThreshold > 1 {
		return eris.Errorf("config: matcher.confidence_threshold must be in (0, 1], got %v", c.Matcher.ConfidenceThreshold)
	}
	if c.Cache.TTL <= 0 {
		return eris.New("config: cache.ttl must be positive")
	}
	if c.Prefetch.HalfLife <= 0 {
		return eris.New("config: prefetch.half_life must be positive")
	}
	switch c.Facts.Driver {
	case "clickhouse", "postgres", "sqlite", "memory":
	default:
		return eris.Errorf("config: unknown facts.driver %q", c.Facts.Driver)
	}
	return nil
}
