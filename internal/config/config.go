// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the application-level configuration: everything that is not
// per-site. Site configs are separate JSON documents (see site.go) so that
// operators can add dashboards without touching the installation config.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Spider  SpiderConfig  `mapstructure:"spider" yaml:"spider"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// CaptureConfig tunes the capture engine's timing and output.
type CaptureConfig struct {
	OutputRoot string `mapstructure:"output_root" yaml:"output_root"`
	// Timeout bounds each engine operation: one navigation, one selector
	// resolution, one readiness wait, one login attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Settle is the default settle duration for targets that set none.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
	// Poll is the cadence of selector and readiness polling.
	Poll        time.Duration `mapstructure:"poll" yaml:"poll"`
	RecordVideo bool          `mapstructure:"record_video" yaml:"record_video"`
}

// SpiderConfig bounds the read-only exploration crawl.
type SpiderConfig struct {
	MaxDepth       int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages"`
	NavSelectors   []string      `mapstructure:"nav_selectors" yaml:"nav_selectors"`
	SameDomainOnly bool          `mapstructure:"same_domain_only" yaml:"same_domain_only"`
	Screenshots    bool          `mapstructure:"screenshots" yaml:"screenshots"`
	PageDelay      time.Duration `mapstructure:"page_delay" yaml:"page_delay"`
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "baswatch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)

	// -- Capture --
	v.SetDefault("capture.output_root", "data")
	v.SetDefault("capture.timeout", "30s")
	v.SetDefault("capture.settle", "5s")
	v.SetDefault("capture.poll", "100ms")
	v.SetDefault("capture.record_video", false)

	// -- Spider --
	v.SetDefault("spider.max_depth", 3)
	v.SetDefault("spider.max_pages", 50)
	v.SetDefault("spider.nav_selectors", []string{"a[href]"})
	v.SetDefault("spider.same_domain_only", true)
	v.SetDefault("spider.screenshots", true)
	v.SetDefault("spider.page_delay", "1s")
}

// NewFromViper unmarshals and validates the application config.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks for sane values.
func (c *Config) Validate() error {
	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("capture.timeout must be a positive duration")
	}
	if c.Capture.Poll <= 0 {
		return fmt.Errorf("capture.poll must be a positive duration")
	}
	if c.Capture.Settle < 0 {
		return fmt.Errorf("capture.settle must not be negative")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Spider.MaxDepth < 0 || c.Spider.MaxPages <= 0 {
		return fmt.Errorf("spider.max_depth must not be negative and spider.max_pages must be positive")
	}
	return nil
}
