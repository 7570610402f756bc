// CLAUDE:SUMMARY CLI entry point for the phishing liveness crawler: optional feed import, one run over the queue, counters on stdout.
// Command alive checks whether queued phishing URLs are still live and
// captures evidence for each one.
//
// Usage:
//
//	alive -db phishing-alive.db -out output          # one crawl over the queue
//	alive -config alive.yaml -import feeds/           # import feed dumps, then crawl
//	alive -db phishing-alive.db -import feeds/ -import-only
//	alive -db phishing-alive.db -mcp                  # serve MCP tools on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/moa-lab/phishing-alive-measurement/alive"
)

type options struct {
	configPath  string
	database    string
	outputDir   string
	viewport    string
	screenshot  string
	debug       bool
	concurrency int
	logLevel    string
	importDir   string
	importOnly  bool
	listen      string
	mcp         bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to alive.yaml config file")
	flag.StringVar(&o.database, "db", "", "SQLite database with the pending queue")
	flag.StringVar(&o.outputDir, "out", "", "artifact output root")
	flag.StringVar(&o.viewport, "viewport-size", "", "browser viewport, WIDTHxHEIGHT")
	flag.StringVar(&o.screenshot, "screenshot-path", "", "screenshot file name inside each attempt directory")
	flag.BoolVar(&o.debug, "debug", false, "headful browser and text logs")
	flag.IntVar(&o.concurrency, "concurrency", 0, "worker slots (default 16)")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&o.importDir, "import", "", "import feed JSON dumps from this directory before crawling")
	flag.BoolVar(&o.importOnly, "import-only", false, "exit after -import")
	flag.StringVar(&o.listen, "listen", "", "serve the status API on this address during the run")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio instead of crawling")
	flag.Parse()

	logger := newLogger(o.logLevel, o.debug, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o, os.Stdout); err != nil {
		logger.Error("alive: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string, debug bool, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if debug {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadConfig reads the optional file and applies flag overrides.
func loadConfig(o options) (*alive.Config, error) {
	cfg := &alive.Config{}
	if o.configPath != "" {
		c, err := alive.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if o.database != "" {
		cfg.Database = o.database
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.viewport != "" {
		cfg.Viewport = o.viewport
	}
	if o.screenshot != "" {
		cfg.ScreenshotName = o.screenshot
	}
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if o.debug {
		headless := false
		cfg.Headless = &headless
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, o options, stdout io.Writer) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	svc, err := alive.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "alive", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("alive: serving MCP on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	if o.listen != "" {
		httpSrv := &http.Server{Addr: o.listen, Handler: svc.Routes(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("alive: status API listening", "addr", o.listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("alive: status API", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if o.importDir != "" {
		rep, err := svc.Import(ctx, o.importDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d items (%d queued); last id %d\n", rep.Inserted, rep.Queued, rep.LastID)
	}
	if o.importOnly {
		return nil
	}

	sum, err := svc.Run(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		logger.Warn("alive: run interrupted", "error", err)
	default:
		return err
	}
	printCounters(stdout, sum)
	return nil
}

func printCounters(w io.Writer, sum alive.Summary) {
	fmt.Fprintf(w, "Accessed URLs: %d\n", sum.Accessed)
	fmt.Fprintf(w, "Skipped Duplicate URLs: %d\n", sum.Skipped)
	fmt.Fprintf(w, "Benign URLs (Redirected): %d\n", sum.Benign)
	fmt.Fprintf(w, "Error occured URLs: %d\n", sum.Errored)
	fmt.Fprintf(w, "Visited Domains: %d\n", sum.VisitedDomains)
}
