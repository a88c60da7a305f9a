package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/store"
)

// Config is the top-level configuration for research-crawler.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Campaign  CampaignConfig  `yaml:"campaign" mapstructure:"campaign"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig configures the extraction oracle's model access.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	Model           string  `yaml:"model" mapstructure:"model"`
	MaxTokens       int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxContentChars int     `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// JinaConfig holds Jina Reader settings. The reader is only used when Key is set.
type JinaConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SettleMillis  int      `yaml:"settle_ms" mapstructure:"settle_ms"`
	RatePerHost   float64  `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	CacheTTLHours int      `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	ExcludePaths  []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	// FetchAttempts bounds attempts inside one fetch for transient errors.
	// The default of 1 leaves failed URLs to the resolver's next iteration.
	FetchAttempts        int `yaml:"fetch_attempts" mapstructure:"fetch_attempts"`
	HostFailureThreshold int `yaml:"host_failure_threshold" mapstructure:"host_failure_threshold"`
	HostCooldownSecs     int `yaml:"host_cooldown_secs" mapstructure:"host_cooldown_secs"`
}

// SettleDelay returns the configured post-fetch settle delay.
func (s ScrapeConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleMillis) * time.Millisecond
}

// ResolveConfig configures the frontier resolver.
type ResolveConfig struct {
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// CampaignConfig holds the seed table and campaign-wide settings.
type CampaignConfig struct {
	Sites       []model.Site `yaml:"sites" mapstructure:"sites"`
	Concurrency int          `yaml:"concurrency" mapstructure:"concurrency"`
	Output      string       `yaml:"output" mapstructure:"output"`
}

// StoreConfig selects the run history backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File, when set, additionally writes JSON logs to a rotated file.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Load reads configuration from a .env file, config.yaml (or path when
// non-empty) and RESEARCH_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"anthropic.key",
		"anthropic.base_url",
		"jina.key",
		"scrape.user_agent",
		"metrics.addr",
		"log.file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("anthropic.max_content_chars", 60000)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.timeout_secs", 30)
	v.SetDefault("scrape.timeout_secs", 15)
	v.SetDefault("scrape.settle_ms", 0)
	v.SetDefault("scrape.rate_per_host", 1.0)
	v.SetDefault("scrape.cache_ttl_hours", 24)
	v.SetDefault("scrape.fetch_attempts", 1)
	v.SetDefault("scrape.host_failure_threshold", 5)
	v.SetDefault("scrape.host_cooldown_secs", 60)
	v.SetDefault("resolve.max_retries", 5)
	v.SetDefault("campaign.concurrency", 1)
	v.SetDefault("campaign.output", "newoutput.csv")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "research-crawler.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by the given command mode are
// present. Modes: "campaign", "run", "history".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "campaign", "run":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, "anthropic.max_tokens must be > 0")
		}
		if c.Resolve.MaxRetries < 0 {
			errs = append(errs, "resolve.max_retries must be >= 0")
		}
		if mode == "campaign" {
			if len(c.Campaign.Sites) == 0 {
				errs = append(errs, "campaign.sites must list at least one site")
			}
			if c.Campaign.Concurrency < 1 || c.Campaign.Concurrency > 32 {
				errs = append(errs, "campaign.concurrency must be between 1 and 32")
			}
			if c.Campaign.Output == "" {
				errs = append(errs, "campaign.output is required")
			}
			for i, s := range c.Campaign.Sites {
				if !strings.HasPrefix(s.URL, "http") {
					errs = append(errs, fmt.Sprintf("campaign.sites[%d].url must be an absolute http(s) URL", i))
				}
			}
		}
	case "history":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "", "none":
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or none")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger sets up the global zap logger. When cfg.File is set, JSON
// entries are also written to a size-rotated file.
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

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)
	return nil
}
