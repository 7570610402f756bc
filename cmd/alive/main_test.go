package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moa-lab/phishing-alive-measurement/alive"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alive.yaml")
	os.WriteFile(path, []byte("database: file.db\nconcurrency: 4\nviewport: 800x600\n"), 0o644)

	cfg, err := loadConfig(options{configPath: path, database: "flag.db", viewport: "1024x768", debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database != "flag.db" || cfg.Viewport != "1024x768" || cfg.Concurrency != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Headless == nil || *cfg.Headless {
		t.Fatal("-debug should run headful")
	}
}

func TestRun_ImportOnly(t *testing.T) {
	// WHAT: -import-only loads the feed and exits without crawling.
	dir := t.TempDir()
	feeds := filepath.Join(dir, "feeds")
	os.MkdirAll(feeds, 0o755)
	os.WriteFile(filepath.Join(feeds, "f.json"), []byte(`{"data":[{"id":4,"url":"https://x.test","brand":"Acme","confidence":1,
"status":"active","discoveredAt":1,"createdAt":1,"updatedAt":1,"ip":[],"asn":[],"metadata":{},"tld":"test"}]}`), 0o644)

	var out bytes.Buffer
	o := options{database: filepath.Join(dir, "alive.db"), outputDir: filepath.Join(dir, "out"), importDir: feeds, importOnly: true}
	if err := run(context.Background(), newLogger("error", false, &out), o, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Imported 1 items (1 queued); last id 4") {
		t.Fatalf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "Accessed URLs") {
		t.Fatal("crawl ran despite -import-only")
	}
}

func TestPrintCounters(t *testing.T) {
	var b bytes.Buffer
	printCounters(&b, alive.Summary{Accessed: 3, Skipped: 2, Benign: 1, Errored: 4})
	want := "Accessed URLs: 3\nSkipped Duplicate URLs: 2\nBenign URLs (Redirected): 1\nError occured URLs: 4\n"
	if !strings.HasPrefix(b.String(), want) {
		t.Fatalf("counters = %q", b.String())
	}
}
