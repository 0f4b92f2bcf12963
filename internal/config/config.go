// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File rotation (lumberjack). Empty LogFile disables file output.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the chromedp browser session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ScreenshotDir is where audit screenshots are written.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// LLMConfig controls the model backend used by the LLM planner.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ProviderGemini is the only model backend currently wired.
const ProviderGemini = "gemini"

// SessionConfig carries the safety envelopes of the application loop. The
// budget and failure cap are the only cancellation mechanisms a session has,
// so they are configuration, not planner output.
type SessionConfig struct {
	StepBudget             int `mapstructure:"step_budget" yaml:"step_budget"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// DOM stability polling.
	StabilityInterval time.Duration `mapstructure:"stability_interval" yaml:"stability_interval"`
	StabilitySamples  int           `mapstructure:"stability_samples" yaml:"stability_samples"`
	StabilityTimeout  time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`

	// New-tab / form appearance wait during bootstrap.
	AppearanceTimeout time.Duration `mapstructure:"appearance_timeout" yaml:"appearance_timeout"`

	// Executor retry policy for transient failures.
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryPause    time.Duration `mapstructure:"retry_pause" yaml:"retry_pause"`
}

// StoreConfig controls result-record persistence.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SetDefaults registers every default on the given viper instance. Called
// before unmarshalling so a missing config file still yields a working setup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "applypilot")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.screenshot_dir", "assets/screenshots")

	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.api_timeout", 90*time.Second)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("session.step_budget", 15)
	v.SetDefault("session.max_consecutive_failures", 3)
	v.SetDefault("session.stability_interval", 500*time.Millisecond)
	v.SetDefault("session.stability_samples", 2)
	v.SetDefault("session.stability_timeout", 10*time.Second)
	v.SetDefault("session.appearance_timeout", 15*time.Second)
	v.SetDefault("session.retry_attempts", 3)
	v.SetDefault("session.retry_pause", 500*time.Millisecond)

	v.SetDefault("store.path", "applypilot.db")
}

// Load unmarshals and validates the configuration from a prepared viper
// instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would disable the safety envelopes.
func (c *Config) Validate() error {
	if c.Session.StepBudget <= 0 {
		return fmt.Errorf("session.step_budget must be positive, got %d", c.Session.StepBudget)
	}
	if c.Session.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("session.max_consecutive_failures must be positive, got %d", c.Session.MaxConsecutiveFailures)
	}
	if c.Session.StabilitySamples < 2 {
		return fmt.Errorf("session.stability_samples must be at least 2, got %d", c.Session.StabilitySamples)
	}
	if c.Session.StabilityInterval <= 0 || c.Session.StabilityTimeout <= 0 {
		return fmt.Errorf("stability interval and timeout must be positive")
	}
	if c.Session.RetryAttempts < 1 {
		return fmt.Errorf("session.retry_attempts must be at least 1, got %d", c.Session.RetryAttempts)
	}
	return nil
}
