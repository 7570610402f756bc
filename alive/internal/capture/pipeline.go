// CLAUDE:SUMMARY Per-URL state machine: validate, pre-filter, navigate, post-filter, capture, classify, persist.
// CLAUDE:DEPENDS alive/internal/{browser,urlcheck,classify,dnsinfo,retry}, observability
// CLAUDE:EXPORTS Pipeline, New, Attempt, Result, Sink, Config
// Package capture runs one verification attempt for one URL and writes its
// evidence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dnsinfo"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/retry"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/urlcheck"
	"github.com/moa-lab/phishing-alive-measurement/observability"
)

var errNoResponse = errors.New("no response received")

const inspectTimeout = 2 * time.Second

// Resolver produces the DNS evidence of a host.
type Resolver interface {
	Resolve(ctx context.Context, domain string) *dnsinfo.RecordSet
}

// Persister records non-success outcomes.
type Persister interface {
	Flush(ctx context.Context, batch []retry.Outcome) (retry.Report, error)
}

// DirectoryRecorder remembers the latest output directory of an id.
type DirectoryRecorder interface {
	SetDirectory(ctx context.Context, id int64, dir string) error
}

// Config holds the per-attempt knobs.
type Config struct {
	NavigationTimeout time.Duration
	ScreenshotQuality int
	BenignDomains     []string
	ExpiredMarkers    []string
	ErrorTitles       []string
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 25 * time.Second
	}
	if c.ScreenshotQuality <= 0 || c.ScreenshotQuality > 100 {
		c.ScreenshotQuality = 80
	}
	if c.BenignDomains == nil {
		c.BenignDomains = urlcheck.DefaultBenignDomains
	}
	if c.ExpiredMarkers == nil {
		c.ExpiredMarkers = DefaultExpiredMarkers
	}
	if c.ErrorTitles == nil {
		c.ErrorTitles = DefaultErrorTitles
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResolver replaces the DNS enrichment source.
func WithResolver(r Resolver) Option { return func(p *Pipeline) { p.dns = r } }

// WithPersister sets where skip and error outcomes are recorded.
func WithPersister(ps Persister) Option { return func(p *Pipeline) { p.persist = ps } }

// WithDirectories records each attempt directory.
func WithDirectories(d DirectoryRecorder) Option { return func(p *Pipeline) { p.dirs = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// Pipeline is shared by every slot of a run.
type Pipeline struct {
	cfg     Config
	benign  *urlcheck.Filter
	pool    *browser.Pool
	sink    *Sink
	dns     Resolver
	persist Persister
	dirs    DirectoryRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a pipeline over pool and sink. Without WithResolver the public
// resolvers and DoH providers are used.
func New(cfg Config, pool *browser.Pool, sink *Sink, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:    cfg,
		benign: urlcheck.NewFilter(cfg.BenignDomains),
		pool:   pool,
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dns == nil {
		p.dns = dnsinfo.NewEnricher(
			dnsinfo.NewResolver(nil, 0, p.logger),
			dnsinfo.NewDoHClient(nil, 0, 0),
			p.logger)
	}
	return p
}

// Process runs one attempt and persists its outcome before returning. The
// error is non-nil only when the attempt could not run at all, because the
// browser session is unavailable or ctx is done; nothing is recorded then.
func (p *Pipeline) Process(ctx context.Context, a Attempt) (res Result, err error) {
	if a.Stats == nil {
		a.Stats = noStats{}
	}
	log := p.logger.With("id", a.Item.ID, "slot", a.Slot)

	defer func() {
		if r := recover(); r != nil {
			log.Error("capture: panic", "panic", r)
			p.pool.Discard(a.Slot)
			res = Result{Item: a.Item, Kind: KindError, Category: classify.Unknown, Detail: fmt.Sprint(r)}
			err = nil
			p.record(ctx, res, log)
		}
	}()

	res, err = p.run(ctx, a, log)
	if err != nil {
		return res, err
	}
	p.record(ctx, res, log)
	return res, nil
}

func (p *Pipeline) record(ctx context.Context, res Result, log *slog.Logger) {
	if res.Dir != "" && p.dirs != nil {
		if err := p.dirs.SetDirectory(ctx, res.Item.ID, res.Dir); err != nil {
			log.Warn("capture: record directory", "error", err)
		}
	}
	if res.Kind == KindSuccess || p.persist == nil {
		return
	}
	batch := []retry.Outcome{{ID: res.Item.ID, Exhaust: res.Kind == KindSkipped}}
	if _, err := p.persist.Flush(ctx, batch); err != nil {
		log.Error("capture: persist outcome", "error", err)
	}
}

func (p *Pipeline) run(ctx context.Context, a Attempt, log *slog.Logger) (Result, error) {
	item := a.Item
	res := Result{Item: item}

	target := urlcheck.Sanitize(item.URL)
	if err := urlcheck.Validate(item.URL, target); err != nil {
		res.PreNavigation = true
		res.Dir = p.sink.AttemptDir(item.ID, LabelInvalidURL, p.now())
		return p.fail(ctx, res, a, nil, target, err, log), nil
	}
	if p.benign.IsBenign(target) {
		log.Info("capture: skipped benign", "url", target)
		res.Kind, res.Reason, res.PreNavigation = KindSkipped, SkipBenign, true
		return res, nil
	}
	origin, err := urlcheck.Origin(item.URL, target)
	if err != nil {
		res.PreNavigation = true
		res.Dir = p.sink.AttemptDir(item.ID, LabelParseError, p.now())
		return p.fail(ctx, res, a, nil, target, err, log), nil
	}
	host := urlcheck.Host(origin)
	a.Stats.Visit(host)
	res.Dir = p.sink.AttemptDir(item.ID, urlcheck.CleanHost(host), p.now())

	page, err := p.pool.Acquire(ctx, a.Slot)
	if err != nil {
		if errors.Is(err, browser.ErrSessionUnavailable) {
			return Result{Item: item}, err
		}
		if ctx.Err() != nil {
			return Result{Item: item}, ctx.Err()
		}
		return p.fail(ctx, res, a, nil, target, err, log), nil
	}

	out, err := p.visit(ctx, page, a, target, res.Dir, log)
	if err == nil {
		p.pool.Release(a.Slot)
		return out, nil
	}
	if ctx.Err() != nil {
		p.pool.Discard(a.Slot)
		return Result{Item: item}, ctx.Err()
	}
	res = p.fail(ctx, res, a, page, target, err, log)
	p.pool.Discard(a.Slot)
	return res, nil
}

// visit drives the page from navigation to capture. Any error is an attempt
// failure and leaves the page unfit for reuse.
func (p *Pipeline) visit(ctx context.Context, page browser.Page, a Attempt, target, dir string, log *slog.Logger) (Result, error) {
	res := Result{Item: a.Item, Dir: dir}

	resp, err := page.Goto(ctx, target, browser.GotoOptions{
		Timeout:   p.cfg.NavigationTimeout,
		WaitUntil: browser.WaitDOMContentLoaded,
	})
	if err != nil {
		return res, err
	}
	if resp == nil {
		now := p.now()
		rep := newReport(target, errNoResponse, classify.Unknown, now)
		rep.Context = p.diagnostics(ctx, page, a, now)
		rep.Context.NavigationResponse = "null"
		if err := p.sink.WriteError(dir, a.Item.ID, rep); err != nil {
			log.Error("capture: write error report", "error", err)
		}
		log.Info("capture: no response, skipping capture", "url", target)
		res.Kind, res.Reason = KindSkipped, SkipNoResponse
		return res, nil
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return res, err
	}
	title, err := page.Title(ctx)
	if err != nil {
		return res, err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return res, err
	}
	doc := inspectDocument(html)
	if title == "" {
		title = doc.title
	}

	_, expired := containsAny(html, p.cfg.ExpiredMarkers)
	if !expired {
		_, expired = containsAny(doc.text, p.cfg.ExpiredMarkers)
	}
	if expired {
		return p.skip(res, SkipExpired, fmt.Sprintf("Error capturing data for %s: %d, Final_url is Expired: %s", target, resp.Status, finalURL), log), nil
	}
	if p.benign.IsBenign(finalURL) {
		return p.skip(res, SkipBenign, fmt.Sprintf("Error capturing data for %s: %d, Final_url is benign: %s", target, resp.Status, finalURL), log), nil
	}
	if _, bad := containsAny(title, p.cfg.ErrorTitles); bad || resp.Status >= 400 {
		return p.skip(res, SkipErrorPage, fmt.Sprintf("Error capturing data for %s: %d, title: %s", target, resp.Status, title), log), nil
	}

	shot, err := page.Screenshot(ctx, p.cfg.ScreenshotQuality)
	if err != nil {
		return res, err
	}
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return res, err
	}
	proto, err := page.HTTPVersion(ctx)
	if err != nil || proto == "" {
		proto = resp.Protocol
	}

	dnsHost := urlcheck.Hostname(finalURL)
	if dnsHost == "" {
		dnsHost = urlcheck.Hostname(target)
	}
	records := p.dns.Resolve(ctx, dnsHost)

	err = p.sink.WriteArtifacts(dir, &Artifacts{
		Screenshot:  shot,
		HTML:        html,
		Headers:     resp.Headers,
		Cookies:     cookies,
		StatusCode:  resp.Status,
		HTTPVersion: proto,
		FinalURL:    finalURL,
		OriginalURL: target,
		DNS:         records,
	})
	if err != nil {
		return res, err
	}

	log.Info("capture: accessed", "url", target, "final_url", finalURL, "status", resp.Status)
	res.Kind = KindSuccess
	return res, nil
}

func (p *Pipeline) skip(res Result, reason SkipReason, note string, log *slog.Logger) Result {
	if err := p.sink.WriteNote(res.Dir, note); err != nil {
		log.Warn("capture: write note", "error", err)
	}
	log.Info("capture: skipped", "reason", reason)
	res.Kind, res.Reason = KindSkipped, reason
	return res
}

// fail classifies cause, writes the error report into res.Dir and returns
// the Error result.
func (p *Pipeline) fail(ctx context.Context, res Result, a Attempt, page browser.Page, target string, cause error, log *slog.Logger) Result {
	cat := classify.Classify(cause)
	now := p.now()

	rep := newReport(target, cause, cat, now)
	rep.Context = p.diagnostics(ctx, page, a, now)
	rep.Statistics = a.Stats.ErrorCounts()

	facts := classify.Facts{
		Hostname:         urlcheck.Hostname(target),
		PreviousAttempts: a.Item.Trials,
		Message:          cause.Error(),
		Timeout:          p.cfg.NavigationTimeout,
		OriginalURL:      a.Item.URL,
		SanitizedURL:     target,
	}
	var ve *urlcheck.ValidationError
	if errors.As(cause, &ve) {
		facts.ValidationKind = string(ve.Kind)
	}
	if page != nil {
		facts.ReadyState = func() (string, error) {
			pctx, cancel := context.WithTimeout(ctx, inspectTimeout)
			defer cancel()
			return page.ReadyState(pctx)
		}
		facts.BrowserInfo = func() (bool, int) {
			s, err := p.pool.Session(ctx)
			if err != nil {
				return false, 0
			}
			return s.IsConnected(), s.PageCount()
		}
	}
	rep.Details = classify.NewContext(cat, facts, now)

	if err := p.sink.WriteError(res.Dir, a.Item.ID, rep); err != nil {
		log.Error("capture: write error report", "error", err)
	}
	log.Warn("capture: attempt failed", "url", target, "category", cat, "error", cause)

	res.Kind, res.Category, res.Detail = KindError, cat, cause.Error()
	return res
}

// diagnostics gathers best-effort context. The browser is only queried
// when a page was in use.
func (p *Pipeline) diagnostics(ctx context.Context, page browser.Page, a Attempt, now time.Time) Diagnostics {
	mem := observability.CollectRuntimeMetrics()
	d := Diagnostics{
		AttemptTimestamp:    now,
		Memory:              &mem,
		VisitedDomainsCount: a.Stats.VisitedCount(),
		PreviousAttempts:    a.Item.Trials,
	}
	if page == nil {
		return d
	}

	pctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()
	d.CurrentURL = "Unable to get current URL"
	if u, err := page.URL(pctx); err == nil {
		d.CurrentURL = u
	}
	if s, err := p.pool.Session(pctx); err == nil {
		if v, err := s.Version(pctx); err == nil {
			d.BrowserInfo = v
		}
	}
	return d
}
