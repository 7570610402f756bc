package alive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alive.yaml")
	body := `
database: /var/lib/alive/phishing-alive.db
concurrency: 8
navigation_timeout: 40s
headless: false
dns:
  servers: ["9.9.9.9:53"]
  doh:
    - name: google
      url: https://dns.google/resolve
  doh_rate: 5
excluded_brands: []
metrics: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Concurrency != 8 || cfg.NavigationTimeout != 40*time.Second || *cfg.Headless {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.DNS.DoH) != 1 || cfg.DNS.DoH[0].Name != "google" || cfg.DNS.DoHRate != 5 {
		t.Fatalf("dns = %+v", cfg.DNS)
	}
	if cfg.MaxTrials != 3 || cfg.Viewport != "1280x960" || cfg.ScreenshotQuality != 80 || cfg.DNS.Timeout != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ExcludedBrands == nil || len(cfg.ExcludedBrands) != 0 {
		t.Fatalf("explicit empty excluded_brands = %#v", cfg.ExcludedBrands)
	}
	if cfg.Notify.Telegram.TokenEnv != "TELEGRAM_API_KEY" {
		t.Fatalf("token env = %q", cfg.Notify.Telegram.TokenEnv)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("concurrency: [1"), 0o644)
	if _, err := LoadConfigFile(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"viewport":   func(c *Config) { c.Viewport = "wide" },
		"quality":    func(c *Config) { c.ScreenshotQuality = 101 },
		"screenshot": func(c *Config) { c.ScreenshotName = "../x.jpg" },
		"doh_rate":   func(c *Config) { c.DNS.DoHRate = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := &Config{Database: "x.db"}
			c.defaults()
			mutate(c)
			if err := c.validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
