// CLAUDE:SUMMARY Service orchestrator: feed import, one crawl run over the pending queue, live stats, notifications, metrics.
// CLAUDE:DEPENDS alive/internal/{store,feed,browser,capture,retry,dispatch,dnsinfo,notify}, observability, idgen, vtq
// CLAUDE:EXPORTS Service, New, Option, Stats
package alive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/capture"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dispatch"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dnsinfo"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/feed"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/notify"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/retry"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
	"github.com/moa-lab/phishing-alive-measurement/dbopen"
	"github.com/moa-lab/phishing-alive-measurement/idgen"
	"github.com/moa-lab/phishing-alive-measurement/observability"
	"github.com/moa-lab/phishing-alive-measurement/vtq"
)

// HeartbeatWorker is the worker name of the crawl heartbeat rows.
const HeartbeatWorker = "alive-crawler"

const heartbeatInterval = 15 * time.Second

// leaseName is the vtq job held for the duration of a run.
const leaseName = "crawl"

// Summary is the outcome tally of one run.
type Summary = dispatch.Summary

// Service runs liveness checks over the pending queue.
type Service struct {
	cfg      *Config
	store    *store.Store
	ownStore bool
	launcher browser.Launcher
	resolver capture.Resolver
	notifier notify.Notifier
	leases   *vtq.Q
	logger   *slog.Logger
	newRunID idgen.Generator

	mu      sync.Mutex
	running *dispatch.Tally
	last    *Summary
}

// Option configures a Service during creation.
type Option func(*Service)

// WithStore uses an already-open store instead of cfg.Database. The caller
// keeps ownership.
func WithStore(s *store.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(svc *Service) { svc.launcher = l }
}

// WithResolver replaces DNS enrichment.
func WithResolver(r capture.Resolver) Option {
	return func(svc *Service) { svc.resolver = r }
}

// WithNotifier replaces the notifier derived from cfg.Notify.
func WithNotifier(n notify.Notifier) Option {
	return func(svc *Service) { svc.notifier = n }
}

// New creates a Service. The store is opened (and migrated) unless
// WithStore is given.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{cfg: cfg, logger: logger, newRunID: idgen.RunID}
	for _, o := range opts {
		o(svc)
	}

	if svc.store == nil {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		var dbOpts []dbopen.Option
		for _, p := range cfg.SQLitePragmas {
			dbOpts = append(dbOpts, dbopen.WithPragma(p))
		}
		s, err := store.Open(cfg.Database, dbOpts...)
		if err != nil {
			return nil, fmt.Errorf("alive: %w", err)
		}
		svc.store, svc.ownStore = s, true
	} else if err := cfg.validate(); err != nil && !errors.Is(err, ErrNoDatabase) {
		return nil, err
	}
	if err := observability.Init(context.Background(), svc.store.DB); err != nil {
		svc.Close()
		return nil, fmt.Errorf("alive: observability schema: %w", err)
	}
	svc.leases = vtq.New(svc.store.DB, vtq.Options{Queue: HeartbeatWorker, Visibility: 3 * heartbeatInterval, Logger: logger})
	if err := svc.leases.EnsureTable(context.Background()); err != nil {
		svc.Close()
		return nil, fmt.Errorf("alive: lease table: %w", err)
	}

	if svc.launcher == nil {
		svc.launcher = browser.NewRodLauncher(browser.RodConfig{
			Bin:          cfg.Browser.Bin,
			RemoteURL:    cfg.Browser.Remote,
			UserDataRoot: cfg.Browser.UserDataRoot,
			Headless:     *cfg.Headless,
			ExtraFlags:   cfg.Browser.ExtraFlags,
			Logger:       logger,
		})
	}
	if svc.resolver == nil {
		svc.resolver = dnsinfo.NewEnricher(
			dnsinfo.NewResolver(cfg.DNS.Servers, cfg.DNS.Timeout, logger),
			dnsinfo.NewDoHClient(cfg.DNS.DoH, cfg.DNS.DoHRate, 2*cfg.DNS.Timeout),
			logger,
		)
	}
	if svc.notifier == nil {
		token := os.Getenv(cfg.Notify.Telegram.TokenEnv)
		svc.notifier = notify.NewTelegram(token, cfg.Notify.Telegram.ChatID, notify.WithPrefix("Phishing Alive"))
	}
	svc.notifier = notify.Logged(svc.notifier, logger)
	return svc, nil
}

// Store returns the underlying store.
func (svc *Service) Store() *store.Store { return svc.store }

// Close releases the store when the service opened it.
func (svc *Service) Close() error {
	if svc.ownStore {
		return svc.store.Close()
	}
	return nil
}

// Import loads feed dumps from dir into the queue and notifies the result.
func (svc *Service) Import(ctx context.Context, dir string) (feed.Report, error) {
	im := feed.NewImporter(svc.store, svc.cfg.ExcludedBrands, svc.logger)
	rep, err := im.Import(ctx, dir)
	if err != nil {
		svc.notifier.Send(ctx, "Import failed: "+err.Error())
		return rep, err
	}
	svc.notifier.Send(ctx, rep.String())
	return rep, nil
}

// Run checks every pending URL once. Per-URL failures never fail the run;
// the returned error is non-nil only when the queue cannot be read or ctx
// ends early, in which case the partial summary is still returned.
func (svc *Service) Run(ctx context.Context) (Summary, error) {
	pending, err := svc.store.ListPending(ctx, svc.cfg.MaxTrials, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("alive: list pending: %w", err)
	}
	runID := svc.newRunID()
	log := svc.logger.With("run_id", runID)
	tally := dispatch.NewTally(runID, log)

	svc.mu.Lock()
	if svc.running != nil {
		svc.mu.Unlock()
		return Summary{}, ErrRunInProgress
	}
	svc.running = tally
	svc.mu.Unlock()
	defer func() {
		svc.mu.Lock()
		svc.running = nil
		svc.mu.Unlock()
	}()

	// Another process on the same database holds the queue.
	lease, err := svc.leases.Acquire(ctx, leaseName)
	if err != nil {
		return Summary{}, fmt.Errorf("alive: acquire lease: %w", err)
	}
	if lease == nil {
		return Summary{}, ErrRunInProgress
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("alive: release lease", "error", err)
		}
	}()

	if len(pending) == 0 {
		log.Info("alive: nothing pending")
		sum := tally.Snapshot()
		sum.Finished = time.Now()
		svc.finish(ctx, log, sum)
		return sum, nil
	}

	vp, err := browser.ParseViewport(svc.cfg.Viewport)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	pool := browser.NewPool(svc.launcher, svc.cfg.Concurrency, vp, log)
	defer pool.Close()

	pipe := capture.New(capture.Config{
		NavigationTimeout: svc.cfg.NavigationTimeout,
		ScreenshotQuality: svc.cfg.ScreenshotQuality,
		BenignDomains:     svc.cfg.BenignDomains,
		ExpiredMarkers:    svc.cfg.ExpiredMarkers,
		ErrorTitles:       svc.cfg.ErrorTitles,
	}, pool, capture.NewSink(svc.cfg.OutputDir, svc.cfg.ScreenshotName, log),
		capture.WithResolver(svc.resolver),
		capture.WithPersister(retry.NewManager(svc.store, svc.cfg.MaxTrials, log)),
		capture.WithDirectories(svc.store),
		capture.WithLogger(log),
	)

	hb := observability.NewHeartbeatWriter(svc.store.DB, HeartbeatWorker, heartbeatInterval, log).
		WithProgress(func() observability.Progress {
			return observability.Progress{RunID: runID, Done: int(tally.Snapshot().Total()), Total: len(pending)}
		})
	hb.Start(ctx)
	defer hb.Stop()

	sum, err := dispatch.New(pipe, svc.cfg.Concurrency, log, dispatch.WithMaxInFlight(svc.cfg.MaxInFlight)).Run(ctx, pending, tally)
	svc.finish(context.WithoutCancel(ctx), log, sum)
	if err != nil {
		return sum, fmt.Errorf("alive: run interrupted: %w", err)
	}
	return sum, nil
}

func (svc *Service) finish(ctx context.Context, log *slog.Logger, sum Summary) {
	svc.mu.Lock()
	svc.last = &sum
	svc.mu.Unlock()

	if svc.cfg.Metrics {
		svc.recordMetrics(sum)
	}
	svc.notifier.Send(ctx, fmt.Sprintf("Run %s done. accessed: %d skipped: %d benign: %d errored: %d",
		sum.RunID, sum.Accessed, sum.Skipped, sum.Benign, sum.Errored))
	log.Info("alive: run summary", "accessed", sum.Accessed, "skipped", sum.Skipped,
		"benign", sum.Benign, "errored", sum.Errored, "visited_domains", sum.VisitedDomains)
}

func (svc *Service) recordMetrics(sum Summary) {
	mm := observability.NewMetricsManager(svc.store.DB, 0, 0, svc.logger)
	defer mm.Close()

	run := map[string]string{"run_id": sum.RunID}
	mm.RecordCount(observability.MetricURLsProcessed, float64(sum.Total()), run)
	mm.RecordCount(observability.MetricURLsAccessed, float64(sum.Accessed), run)
	mm.RecordCount(observability.MetricURLsSkipped, float64(sum.Skipped), run)
	mm.RecordCount(observability.MetricURLsBenign, float64(sum.Benign), run)
	mm.RecordCount(observability.MetricURLsErrored, float64(sum.Errored), run)
	for _, c := range classify.Categories {
		if n := sum.Errors[c]; n > 0 {
			mm.RecordCount(observability.MetricErrorsCategory, float64(n),
				map[string]string{"run_id": sum.RunID, "category": string(c)})
		}
	}
	if !sum.Finished.IsZero() {
		mm.Record(&observability.Metric{
			Name:      observability.MetricRunDurationMs,
			Timestamp: sum.Finished,
			Value:     float64(sum.Finished.Sub(sum.Started).Milliseconds()),
			Labels:    run,
			Unit:      "milliseconds",
		})
	}
}

// Stats is the status view of the service.
type Stats struct {
	Pending   int                            `json:"pending"`
	Running   bool                           `json:"running"`
	Run       *Summary                       `json:"run,omitempty"`
	Heartbeat *observability.HeartbeatStatus `json:"heartbeat,omitempty"`
}

// Stats returns the pending count and the live (or last) run summary.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	n, err := svc.store.CountPending(ctx, svc.cfg.MaxTrials)
	if err != nil {
		return nil, fmt.Errorf("alive: stats: %w", err)
	}
	st := &Stats{Pending: n}

	svc.mu.Lock()
	if svc.running != nil {
		sum := svc.running.Snapshot()
		st.Running, st.Run = true, &sum
	} else if svc.last != nil {
		sum := *svc.last
		st.Run = &sum
	}
	svc.mu.Unlock()

	hb, err := observability.LatestHeartbeat(ctx, svc.store.DB, HeartbeatWorker, 3*heartbeatInterval)
	if err != nil {
		svc.logger.Warn("alive: read heartbeat", "error", err)
	}
	st.Heartbeat = hb
	return st, nil
}

// Pending returns up to limit pending items (all when limit <= 0).
func (svc *Service) Pending(ctx context.Context, limit int) ([]store.WorkItem, error) {
	return svc.store.ListPending(ctx, svc.cfg.MaxTrials, limit)
}

// RunMetrics returns the metrics recorded for runID, newest first.
func (svc *Service) RunMetrics(ctx context.Context, runID string) ([]*observability.Metric, error) {
	return observability.QueryMetrics(ctx, svc.store.DB, observability.Filter{RunID: runID})
}

// Item returns the trial record of id, nil when unknown.
func (svc *Service) Item(ctx context.Context, id int64) (*store.TrialRecord, error) {
	return svc.store.Get(ctx, id)
}
