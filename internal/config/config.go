// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded from the config
// file with GLEANER_* environment overrides on top.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // "console" or "json"
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // megabytes, per rotated file
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
}

// RegistryConfig points at the external task registry.
type RegistryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ReasonerConfig points at the remote reasoning service.
type ReasonerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxIterations  int           `mapstructure:"max_iterations"`
}

// BrowserConfig controls the Chrome process and surface readiness waits.
type BrowserConfig struct {
	Headless         bool          `mapstructure:"headless"`
	ExecArgs         []string      `mapstructure:"exec_args"`
	LoadPollInterval time.Duration `mapstructure:"load_poll_interval"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
}

// SchedulerConfig controls the registry sync cadence.
type SchedulerConfig struct {
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// APIConfig controls the manual-trigger HTTP endpoint.
type APIConfig struct {
	ListenAddr    string  `mapstructure:"listen_addr"`
	TriggerPerMin float64 `mapstructure:"trigger_per_min"`
	TriggerBurst  int     `mapstructure:"trigger_burst"`
}

// setDefaults registers every default so a missing config file still
// yields a usable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.service_name", "gleaner")

	v.SetDefault("registry.base_url", "http://localhost:8080")
	v.SetDefault("registry.request_timeout", 30*time.Second)

	v.SetDefault("reasoner.base_url", "http://localhost:8123")
	v.SetDefault("reasoner.request_timeout", 5*time.Minute)
	v.SetDefault("reasoner.max_iterations", 50)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.load_poll_interval", 250*time.Millisecond)
	v.SetDefault("browser.load_timeout", 30*time.Second)
	v.SetDefault("browser.settle_delay", 1*time.Second)

	v.SetDefault("scheduler.sync_interval", 5*time.Minute)
	v.SetDefault("scheduler.initial_delay", 10*time.Second)

	v.SetDefault("api.listen_addr", "127.0.0.1:7430")
	v.SetDefault("api.trigger_per_min", 30)
	v.SetDefault("api.trigger_burst", 5)
}

// Load reads the configuration from the given file path (or the default
// search locations when path is empty) and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gleaner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gleaner")
		v.AddConfigPath("/etc/gleaner")
	}

	v.SetEnvPrefix("GLEANER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given;
		// defaults and env vars carry the configuration.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			if path != "" {
				return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
			}
			if !notFound {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that could not possibly run.
func (c *Config) Validate() error {
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url must be set")
	}
	if c.Reasoner.BaseURL == "" {
		return fmt.Errorf("reasoner.base_url must be set")
	}
	if c.Reasoner.MaxIterations <= 0 {
		return fmt.Errorf("reasoner.max_iterations must be positive, got %d", c.Reasoner.MaxIterations)
	}
	if c.Browser.LoadTimeout <= 0 {
		return fmt.Errorf("browser.load_timeout must be positive")
	}
	if c.Browser.LoadPollInterval <= 0 {
		return fmt.Errorf("browser.load_poll_interval must be positive")
	}
	if c.Scheduler.SyncInterval <= 0 {
		return fmt.Errorf("scheduler.sync_interval must be positive")
	}
	return nil
}
