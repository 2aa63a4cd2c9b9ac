package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Prefs    PrefsConfig    `yaml:"prefs" mapstructure:"prefs"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch" mapstructure:"prefetch"`
	Poller   PollerConfig   `yaml:"poller" mapstructure:"poller"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PrefsConfig configures the durable preference tier.
type PrefsConfig struct {
	Driver                string `yaml:"driver" mapstructure:"driver"`
	Path                  string `yaml:"path" mapstructure:"path"`
	DatabaseURL           string `yaml:"database_url" mapstructure:"database_url"`
	Namespace             string `yaml:"namespace" mapstructure:"namespace"`
	Watch                 bool   `yaml:"watch" mapstructure:"watch"`
	GoalsCacheVersion     int    `yaml:"goals_cache_version" mapstructure:"goals_cache_version"`
	GoalsCacheMaxAgeHours int    `yaml:"goals_cache_max_age_hours" mapstructure:"goals_cache_max_age_hours"`
}

// GoalsCacheMaxAge returns the age after which the goals cache is discarded.
func (c PrefsConfig) GoalsCacheMaxAge() time.Duration {
	return time.Duration(c.GoalsCacheMaxAgeHours) * time.Hour
}

// CatalogConfig configures the catalog API client.
type CatalogConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`

	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// SyncConfig configures address-bar reflection.
type SyncConfig struct {
	DebounceMs int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// Debounce returns the reflection quiet period.
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// CacheConfig configures request cache lifetimes.
type CacheConfig struct {
	PaginatedTTLSecs   int `yaml:"paginated_ttl_secs" mapstructure:"paginated_ttl_secs"`
	ReferenceTTLSecs   int `yaml:"reference_ttl_secs" mapstructure:"reference_ttl_secs"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// PrefetchConfig configures speculative next-page loading.
type PrefetchConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	DelayMs int  `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// Delay returns the wait between a page settling and its successor being prefetched.
func (c PrefetchConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// PollerConfig configures the goal compilation poller.
type PollerConfig struct {
	ScheduleMs []int `yaml:"schedule_ms" mapstructure:"schedule_ms"`
	SlowAfter  int   `yaml:"slow_after" mapstructure:"slow_after"`
}

// SearchConfig holds per-view default page sizes used when no preference exists.
type SearchConfig struct {
	CardsPageSize int `yaml:"cards_page_size" mapstructure:"cards_page_size"`
	SetsPageSize  int `yaml:"sets_page_size" mapstructure:"sets_page_size"`
}

// ServerConfig configures the HTTP bridge.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("prefs.driver", "sqlite")
	v.SetDefault("prefs.path", "catalogsync.db")
	v.SetDefault("prefs.namespace", "catalogsync")
	v.SetDefault("prefs.watch", false)
	v.SetDefault("prefs.goals_cache_version", 1)
	v.SetDefault("prefs.goals_cache_max_age_hours", 720)
	v.SetDefault("catalog.base_url", "http://localhost:5000/api")
	v.SetDefault("catalog.timeout_secs", 30)
	v.SetDefault("catalog.max_retries", 3)
	v.SetDefault("catalog.rate_per_sec", 10)
	v.SetDefault("catalog.burst", 10)
	v.SetDefault("catalog.breaker_threshold", 5)
	v.SetDefault("catalog.breaker_cooldown_secs", 30)
	v.SetDefault("sync.debounce_ms", 300)
	v.SetDefault("cache.paginated_ttl_secs", 300)
	v.SetDefault("cache.reference_ttl_secs", 3600)
	v.SetDefault("cache.request_timeout_secs", 30)
	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.delay_ms", 1000)
	v.SetDefault("poller.schedule_ms", []int{2000, 5000, 10000, 20000, 35000})
	v.SetDefault("poller.slow_after", 5)
	v.SetDefault("search.cards_page_size", 24)
	v.SetDefault("search.sets_page_size", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Prefs.Driver {
	case "sqlite":
		if c.Prefs.Path == "" {
			errs = append(errs, "prefs.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Prefs.DatabaseURL == "" {
			errs = append(errs, "prefs.database_url is required for the postgres driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("prefs.driver %q must be sqlite, postgres or memory", c.Prefs.Driver))
	}
	if c.Sync.DebounceMs < 0 {
		errs = append(errs, "sync.debounce_ms must be >= 0")
	}
	if c.Prefetch.DelayMs < 0 {
		errs = append(errs, "prefetch.delay_ms must be >= 0")
	}
	if c.Cache.PaginatedTTLSecs <= 0 || c.Cache.ReferenceTTLSecs <= 0 {
		errs = append(errs, "cache ttl values must be > 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Catalog.BaseURL == "" {
			errs = append(errs, "catalog.base_url is required")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
