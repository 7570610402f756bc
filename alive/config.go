package alive

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dnsinfo"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/notify"
	"github.com/moa-lab/phishing-alive-measurement/horosafe"
)

// Config configures a Service.
type Config struct {
	Database          string        `yaml:"database"`
	SQLitePragmas     []string      `yaml:"sqlite_pragmas"` // name(value), e.g. synchronous(FULL)
	OutputDir         string        `yaml:"output_dir"`
	Concurrency       int           `yaml:"concurrency"`
	MaxInFlight       int           `yaml:"max_in_flight"` // 0 means Concurrency
	MaxTrials         int           `yaml:"max_trials"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	Viewport          string        `yaml:"viewport"`
	ScreenshotName    string        `yaml:"screenshot_name"`
	ScreenshotQuality int           `yaml:"screenshot_quality"`
	Headless          *bool         `yaml:"headless"`

	Browser BrowserConfig `yaml:"browser"`
	DNS     DNSConfig     `yaml:"dns"`
	Notify  NotifyConfig  `yaml:"notify"`

	BenignDomains  []string `yaml:"benign_domains"`
	ExpiredMarkers []string `yaml:"expired_markers"`
	ErrorTitles    []string `yaml:"error_titles"`
	ExcludedBrands []string `yaml:"excluded_brands"`

	// Metrics writes the end-of-run tally to metrics_timeseries.
	Metrics bool `yaml:"metrics"`
}

// BrowserConfig controls the Chrome launch.
type BrowserConfig struct {
	Bin          string   `yaml:"bin"`
	UserDataRoot string   `yaml:"user_data_root"`
	Remote       string   `yaml:"remote"`
	ExtraFlags   []string `yaml:"extra_flags"`
}

// DNSConfig controls enrichment lookups.
type DNSConfig struct {
	Servers []string           `yaml:"servers"`
	Timeout time.Duration      `yaml:"timeout"`
	DoH     []dnsinfo.Provider `yaml:"doh"`
	DoHRate float64            `yaml:"doh_rate"` // requests per second, 0 = unpaced
}

// NotifyConfig selects operator notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig names where the bot token lives; the token itself never
// appears in the file.
type TelegramConfig struct {
	TokenEnv string `yaml:"token_env"`
	ChatID   string `yaml:"chat_id"`
}

func (c *Config) defaults() {
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	if c.MaxTrials <= 0 {
		c.MaxTrials = 3
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 25 * time.Second
	}
	if c.Viewport == "" {
		c.Viewport = "1280x960"
	}
	if c.ScreenshotName == "" {
		c.ScreenshotName = "screenshot.jpg"
	}
	if c.ScreenshotQuality <= 0 {
		c.ScreenshotQuality = 80
	}
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.DNS.Timeout <= 0 {
		c.DNS.Timeout = 5 * time.Second
	}
	if c.Notify.Telegram.TokenEnv == "" {
		c.Notify.Telegram.TokenEnv = notify.DefaultTokenEnv
	}
	if c.Notify.Telegram.ChatID == "" {
		c.Notify.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
}

// validate reports the first unusable value. Call after defaults.
func (c *Config) validate() error {
	if c.Database == "" {
		return ErrNoDatabase
	}
	if _, err := browser.ParseViewport(c.Viewport); err != nil {
		return fmt.Errorf("%w: viewport: %v", ErrInvalidConfig, err)
	}
	if c.ScreenshotQuality > 100 {
		return fmt.Errorf("%w: screenshot_quality %d out of range", ErrInvalidConfig, c.ScreenshotQuality)
	}
	if err := horosafe.ValidateFileName(c.ScreenshotName); err != nil {
		return fmt.Errorf("%w: screenshot_name: %v", ErrInvalidConfig, err)
	}
	if c.DNS.DoHRate < 0 {
		return fmt.Errorf("%w: dns.doh_rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.defaults()
	return &cfg, nil
}
