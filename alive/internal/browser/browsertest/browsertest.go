// Package browsertest provides a scripted in-memory browser driver for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser"
)

// Script describes how a navigation to one URL behaves.
type Script struct {
	// Response is returned by Goto. Nil with a nil Err means "no response".
	Response *browser.Response
	Err      error
	// NoResponse forces a nil response even when Response is unset.
	NoResponse bool

	FinalURL      string // defaults to the requested URL
	Title         string
	HTML          string
	HTTPVersion   string
	ReadyState    string
	Cookies       []browser.Cookie
	Delay         time.Duration
	ScreenshotErr error
	ContentErr    error
}

// DefaultScript is used for URLs without an explicit script.
func DefaultScript() Script {
	return Script{
		Response:    &browser.Response{Status: 200, Headers: map[string]string{"content-type": "text/html"}, Protocol: "h2"},
		Title:       "Welcome",
		HTML:        "<html><head><title>Welcome</title></head><body>hello</body></html>",
		HTTPVersion: "h2",
		ReadyState:  "complete",
		Cookies:     []browser.Cookie{{Name: "sid", Value: "1", Domain: "example.org", Path: "/"}},
	}
}

// Driver is a browser.Launcher with scripted pages.
type Driver struct {
	mu      sync.Mutex
	scripts map[string]Script
	def     Script
	gotoLog []string

	LaunchErr error
	Version   string
	// NewPageDelay is slept inside every NewPage call.
	NewPageDelay time.Duration

	launches     atomic.Int32
	pagesCreated atomic.Int32
	pagesClosed  atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	disconnected atomic.Bool
}

// New returns a driver whose unscripted URLs load DefaultScript.
func New() *Driver {
	return &Driver{scripts: map[string]Script{}, def: DefaultScript(), Version: "HeadlessChrome/131.0.0.0"}
}

// On scripts navigations to url.
func (d *Driver) On(url string, s Script) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[url] = s
}

// SetDefault replaces the script for unscripted URLs.
func (d *Driver) SetDefault(s Script) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def = s
}

// Disconnect makes the session report itself disconnected.
func (d *Driver) Disconnect() { d.disconnected.Store(true) }

// Launches returns the number of Launch calls.
func (d *Driver) Launches() int { return int(d.launches.Load()) }

// PagesCreated returns the number of pages opened.
func (d *Driver) PagesCreated() int { return int(d.pagesCreated.Load()) }

// PagesClosed returns the number of pages closed.
func (d *Driver) PagesClosed() int { return int(d.pagesClosed.Load()) }

// MaxInFlight returns the highest number of simultaneous navigations seen.
func (d *Driver) MaxInFlight() int { return int(d.maxInFlight.Load()) }

// Gotos returns every URL navigated to, in call order.
func (d *Driver) Gotos() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.gotoLog...)
}

func (d *Driver) script(url string) Script {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gotoLog = append(d.gotoLog, url)
	if s, ok := d.scripts[url]; ok {
		return s
	}
	return d.def
}

// Launch implements browser.Launcher.
func (d *Driver) Launch(ctx context.Context) (browser.Session, error) {
	d.launches.Add(1)
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	return &session{d: d}, nil
}

type session struct {
	d     *Driver
	mu    sync.Mutex
	pages int
}

func (s *session) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	if s.d.disconnected.Load() {
		return nil, errors.New("browser has disconnected")
	}
	if s.d.NewPageDelay > 0 {
		select {
		case <-time.After(s.d.NewPageDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.d.pagesCreated.Add(1)
	s.mu.Lock()
	s.pages++
	s.mu.Unlock()
	return &page{s: s}, nil
}

func (s *session) Version(context.Context) (string, error) { return s.d.Version, nil }
func (s *session) IsConnected() bool                       { return !s.d.disconnected.Load() }

func (s *session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

func (s *session) Close() error { return nil }

type page struct {
	s       *session
	current Script
	url     string
	closed  bool
}

func (p *page) Goto(ctx context.Context, url string, opts browser.GotoOptions) (*browser.Response, error) {
	d := p.s.d
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxInFlight.Load()
		if n <= m || d.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if p.closed {
		return nil, errors.New("Target closed")
	}
	sc := d.script(url)
	p.current = sc
	p.url = url

	if sc.Delay > 0 {
		wait := sc.Delay
		timedOut := opts.Timeout > 0 && wait >= opts.Timeout
		if timedOut {
			wait = opts.Timeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if timedOut {
			return nil, &browser.NavigationTimeoutError{Timeout: opts.Timeout, Err: context.DeadlineExceeded}
		}
	}
	if sc.Err != nil {
		return nil, sc.Err
	}
	if sc.FinalURL != "" {
		p.url = sc.FinalURL
	}
	if sc.NoResponse || sc.Response == nil {
		return nil, nil
	}
	r := *sc.Response
	if r.URL == "" {
		r.URL = p.url
	}
	return &r, nil
}

func (p *page) Screenshot(context.Context, int) ([]byte, error) {
	if p.current.ScreenshotErr != nil {
		return nil, p.current.ScreenshotErr
	}
	// SOI + EOI: smallest JPEG-shaped payload.
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func (p *page) Content(context.Context) (string, error) {
	if p.current.ContentErr != nil {
		return "", p.current.ContentErr
	}
	return p.current.HTML, nil
}

func (p *page) Cookies(context.Context) ([]browser.Cookie, error) { return p.current.Cookies, nil }
func (p *page) URL(context.Context) (string, error)              { return p.url, nil }
func (p *page) Title(context.Context) (string, error)            { return p.current.Title, nil }
func (p *page) HTTPVersion(context.Context) (string, error)      { return p.current.HTTPVersion, nil }

func (p *page) ReadyState(context.Context) (string, error) {
	if p.current.ReadyState == "" {
		return "loading", nil
	}
	return p.current.ReadyState, nil
}

func (p *page) Close() error {
	if !p.closed {
		p.closed = true
		p.s.d.pagesClosed.Add(1)
		p.s.mu.Lock()
		p.s.pages--
		p.s.mu.Unlock()
	}
	return nil
}
