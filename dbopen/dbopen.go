// Package dbopen opens the SQLite file that holds the pending queue, the
// feed listings and the monitoring tables.
//
// Pragmas travel in the DSN so that every pooled connection gets them:
//
//	foreign_keys = 1
//	journal_mode = WAL      (files only)
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// The caller blank-imports modernc.org/sqlite, which registers "sqlite".
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const memoryPath = ":memory:"

type config struct {
	busyTimeout int
	pragmas     []string
	schemas     []string
	mkdirAll    bool
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithPragma sets a pragma in name(value) form, e.g. "synchronous(FULL)".
// It replaces the default of the same name; the driver applies pragmas in
// sorted order, so one name carries one value.
func WithPragma(p string) Option { return func(c *config) { c.pragmas = append(c.pragmas, p) } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues DDL executed right after opening.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// DSN returns the modernc.org/sqlite data source name for path.
func DSN(path string, opts ...Option) string {
	cfg := newConfig(opts)
	return cfg.dsn(path)
}

func newConfig(opts []Option) config {
	cfg := config{busyTimeout: 10_000}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (c config) dsn(path string) string {
	pragmas := []string{"foreign_keys(1)"}
	if path != memoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", c.busyTimeout), "synchronous(NORMAL)")

	for _, p := range c.pragmas {
		name := pragmaName(p)
		replaced := false
		for i, d := range pragmas {
			if pragmaName(d) == name {
				pragmas[i], replaced = p, true
			}
		}
		if !replaced {
			pragmas = append(pragmas, p)
		}
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func pragmaName(p string) string {
	if i := strings.IndexAny(p, "(="); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(strings.TrimSpace(p))
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := newConfig(opts)

	if cfg.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database closed on t.Cleanup. Each
// in-memory connection is its own database, so the pool holds one.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
