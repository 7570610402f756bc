package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/moa-lab/phishing-alive-measurement/idgen"
)

// MinimalFlags is the fixed launch profile: no background networking, no
// telemetry, no translate, no default popups or first-run UI.
var MinimalFlags = []string{
	"--start-maximized",
	"--disable-gpu",
	"--disable-infobars",
	"--disable-browser-side-navigation",
	"--ignore-certificate-errors-skip-list",
	"--disable-accelerated-2d-canvas",
	"--disable-component-extensions-with-background-pages",
	"--disable-features=Translate,TranslateUI,BlinkGenPropertyTrees,IsolateOrigins,site-per-process,AudioServiceOutOfProcess,OptimizationHints,MediaRouter,DialMediaRouteProvider,CalculateNativeWinOcclusion,InterestFeedContentSuggestions,CertificateTransparencyComponentUpdater,AutofillServerCommunication,PrivacySandboxSettings4,AutomationControlled",
	"--enable-features=NetworkService,NetworkServiceInProcess",
	"--autoplay-policy=user-gesture-required",
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-component-update",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-domain-reliability",
	"--disable-extensions",
	"--disable-gpu-sandbox",
	"--disable-hang-monitor",
	"--disable-ipc-flooding-protection",
	"--disable-notifications",
	"--disable-offer-store-unmasked-wallet-cards",
	"--disable-popup-blocking",
	"--disable-print-preview",
	"--disable-prompt-on-repost",
	"--disable-renderer-backgrounding",
	"--disable-setuid-sandbox",
	"--disable-speech-api",
	"--disable-sync",
	"--disable-web-security",
	"--hide-scrollbars",
	"--ignore-gpu-blacklist",
	"--ignore-certificate-errors",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-default-browser-check",
	"--no-first-run",
	"--no-pings",
	"--no-sandbox",
	"--no-zygote",
	"--password-store=basic",
	"--proxy-server=direct://",
	"--proxy-bypass-list=*",
	"--use-gl=swiftshader",
	"--use-mock-keychain",
	"--disable-blink-features=AutomationControlled",
	"--webview-disable-safebrowsing-support",
}

// RodConfig configures RodLauncher.
type RodConfig struct {
	// Bin is the Chrome executable. Empty: look it up on PATH, then let rod
	// download a pinned revision.
	Bin string
	// RemoteURL connects to an already-running browser instead of launching.
	RemoteURL string
	// UserDataRoot is the parent of the per-launch profile directories.
	UserDataRoot string
	Headless     bool
	ExtraFlags   []string
	// ProtocolTimeout bounds every CDP call that has no tighter context.
	ProtocolTimeout time.Duration
	Logger          *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.UserDataRoot == "" {
		c.UserDataRoot = filepath.Join(os.TempDir(), "alive-profiles")
	}
	if c.ProtocolTimeout <= 0 {
		c.ProtocolTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RodLauncher launches Chrome through go-rod.
type RodLauncher struct {
	cfg   RodConfig
	newID idgen.Generator
}

// NewRodLauncher creates a launcher. Each Launch gets its own profile dir.
func NewRodLauncher(cfg RodConfig) *RodLauncher {
	cfg.defaults()
	return &RodLauncher{cfg: cfg, newID: idgen.Short(8)}
}

// Launch starts (or connects to) a browser.
func (rl *RodLauncher) Launch(ctx context.Context) (Session, error) {
	log := rl.cfg.Logger
	s := &rodSession{logger: log, protocolTimeout: rl.cfg.ProtocolTimeout}

	wsURL := rl.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		bin := rl.cfg.Bin
		if bin == "" {
			if p, ok := launcher.LookPath(); ok {
				bin = p
			} else {
				log.Info("browser: no local chrome, downloading")
				p, err := launcher.NewBrowser().Get()
				if err != nil {
					return nil, fmt.Errorf("browser: install: %w", err)
				}
				bin = p
			}
		}

		s.userDataDir = filepath.Join(rl.cfg.UserDataRoot, "cached_data_rod_"+rl.newID())
		if err := os.MkdirAll(s.userDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("browser: user data dir: %w", err)
		}

		l := launcher.New().Context(ctx).Bin(bin).Headless(rl.cfg.Headless).UserDataDir(s.userDataDir)
		for _, f := range append(append([]string{}, MinimalFlags...), rl.cfg.ExtraFlags...) {
			name, val, hasVal := strings.Cut(strings.TrimPrefix(f, "--"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.launcher = l
		log.Info("browser: launched local chrome", "bin", bin, "user_data_dir", s.userDataDir)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	s.browser = b
	return s, nil
}

type rodSession struct {
	browser         *rod.Browser
	launcher        *launcher.Launcher
	userDataDir     string
	protocolTimeout time.Duration
	logger          *slog.Logger
	closeOnce       sync.Once
}

func (s *rodSession) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	p, err := stealth.Page(s.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	p = p.Context(context.Background())
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}
	if err := (proto.PageSetBypassCSP{Enabled: true}).Call(p); err != nil {
		s.logger.Warn("browser: bypass csp failed", "error", err)
	}
	return &rodPage{page: p, protocolTimeout: s.protocolTimeout}, nil
}

func (s *rodSession) Version(ctx context.Context) (string, error) {
	v, err := s.browser.Context(ctx).Version()
	if err != nil {
		return "", fmt.Errorf("browser: version: %w", err)
	}
	return v.Product, nil
}

func (s *rodSession) IsConnected() bool {
	_, err := s.browser.Timeout(2 * time.Second).Version()
	return err == nil
}

func (s *rodSession) PageCount() int {
	pages, err := s.browser.Timeout(2 * time.Second).Pages()
	if err != nil {
		return 0
	}
	return len(pages)
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.browser != nil {
			err = s.browser.Close()
		}
		s.cleanup()
	})
	return err
}

func (s *rodSession) cleanup() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
}

type rodPage struct {
	page            *rod.Page
	protocolTimeout time.Duration
}

// on returns the page bound to ctx, capped by the protocol timeout.
func (p *rodPage) on(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.protocolTimeout)
	return p.page.Context(ctx), cancel
}

func (p *rodPage) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	event := proto.PageLifecycleEventNameDOMContentLoaded
	if opts.WaitUntil == WaitLoad {
		event = proto.PageLifecycleEventNameLoad
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	page := p.page.Context(navCtx)

	docs := make(chan *proto.NetworkResponse, 1)
	listen := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID {
			return false
		}
		select {
		case docs <- e.Response:
		default:
		}
		return true
	})
	go listen()

	wait := page.WaitNavigation(event)
	if err := page.Navigate(url); err != nil {
		if navCtx.Err() != nil {
			return nil, &NavigationTimeoutError{Timeout: opts.Timeout, Err: err}
		}
		return nil, fmt.Errorf("browser: goto %s: %w", url, err)
	}
	wait()
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return nil, &NavigationTimeoutError{Timeout: opts.Timeout, Err: navCtx.Err()}
	}

	return awaitDocument(navCtx, docs), nil
}

// awaitDocument returns the main-document response once the listener has
// delivered it. The event may trail the lifecycle event, so it waits for as
// long as the navigation context allows. nil means no response was seen.
func awaitDocument(ctx context.Context, docs <-chan *proto.NetworkResponse) *Response {
	select {
	case r := <-docs:
		headers := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			headers[strings.ToLower(k)] = v.Str()
		}
		return &Response{
			URL:      r.URL,
			Status:   r.Status,
			Headers:  headers,
			Protocol: r.Protocol,
			RemoteIP: r.RemoteIPAddress,
		}
	case <-ctx.Done():
		return nil
	}
}

func (p *rodPage) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	q := quality
	b, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &q,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot capture failed: %w", err)
	}
	return b, nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: content failed: %w", err)
	}
	return html, nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	cs, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Size:     c.Size,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, nil
}

func (p *rodPage) HTTPVersion(ctx context.Context) (string, error) {
	return p.evalString(ctx, `() => {
		const e = performance.getEntriesByType('navigation')[0] || performance.getEntries()[0];
		return e && e.nextHopProtocol ? e.nextHopProtocol : '';
	}`)
}

func (p *rodPage) ReadyState(ctx context.Context) (string, error) {
	return p.evalString(ctx, `() => document.readyState`)
}

func (p *rodPage) evalString(ctx context.Context, js string) (string, error) {
	page, cancel := p.on(ctx)
	defer cancel()
	res, err := page.Eval(js)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
