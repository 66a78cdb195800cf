// Package config holds crawler configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds crawler configuration.
type Config struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	Parallelism      int           `mapstructure:"parallelism"`
	MaxPages         int           `mapstructure:"max_pages"`
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots"`
	OutputFile       string        `mapstructure:"output"`
	OutputFormat     string        `mapstructure:"format"` // csv or dual
	Verbose          bool          `mapstructure:"verbose"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	LogFile          string        `mapstructure:"log_file"`
	SeenPagesMax     int           `mapstructure:"seen_pages_max"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://books.toscrape.com",
		Timeout:          10 * time.Second,
		PageDelay:        500 * time.Millisecond,
		Parallelism:      1,
		MaxPages:         1000,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		OutputFile:       "data/books.csv",
		OutputFormat:     "csv",
		Verbose:          false,
		SeenPagesMax:     4096,
	}
}

// SetDefaults registers DefaultConfig values on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("page_delay", d.PageDelay)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("respect_robots", d.RespectRobotsTxt)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("format", d.OutputFormat)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("seen_pages_max", d.SeenPagesMax)
}

// NewViper returns a viper instance reading SCRAPER_* environment variables
// on top of the defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads an optional config file into v and returns the validated Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https")
	}

	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if c.PageDelay < 0 {
		errs = append(errs, fmt.Errorf("page delay cannot be negative"))
	}
	if c.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("parallelism must be positive"))
	}
	if c.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("max pages must be positive"))
	}
	if c.SeenPagesMax <= 0 {
		errs = append(errs, fmt.Errorf("seen pages max must be positive"))
	}
	if c.OutputFile == "" {
		errs = append(errs, fmt.Errorf("output file cannot be empty"))
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		errs = append(errs, fmt.Errorf("output format must be csv or dual"))
	}
	if c.UserAgent == "" {
		errs = append(errs, fmt.Errorf("user agent cannot be empty"))
	}
	return errors.Join(errs...)
}
