// CLAUDE:SUMMARY Browser capability surface consumed by the crawler: Launcher -> Session -> Page, plus the slot pool and the rod-backed driver.
// Package browser defines the narrow driver surface the crawler needs, a
// go-rod implementation of it, and the slot-indexed page pool shared by
// every worker of a run.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSessionUnavailable means the shared browser session could not be
// launched or has disconnected. It is the only error that stops a chunk.
var ErrSessionUnavailable = errors.New("browser: session unavailable")

// WaitCondition is the lifecycle event Goto waits for.
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "DOMContentLoaded"
	WaitLoad             WaitCondition = "load"
)

// GotoOptions controls one navigation.
type GotoOptions struct {
	Timeout   time.Duration
	WaitUntil WaitCondition
}

// Response is the main-document response of a navigation.
type Response struct {
	URL      string            `json:"url"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Protocol string            `json:"protocol,omitempty"`
	RemoteIP string            `json:"remote_ip,omitempty"`
}

// Cookie mirrors the CDP cookie shape written to cookies.json.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Size     int     `json:"size"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Viewport is the emulated page size.
type Viewport struct {
	Width  int
	Height int
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(s string) (Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("browser: viewport %q: want WIDTHxHEIGHT", s)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return Viewport{}, fmt.Errorf("browser: viewport %q: want positive integers", s)
	}
	return Viewport{Width: wi, Height: hi}, nil
}

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Launcher starts a browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one running browser.
type Session interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	Version(ctx context.Context) (string, error)
	IsConnected() bool
	PageCount() int
	Close() error
}

// Page is one tab. A nil *Response with a nil error from Goto means the
// navigation produced no main-document response.
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error)
	Screenshot(ctx context.Context, quality int) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTTPVersion(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	Close() error
}

// NavigationTimeoutError is returned by Goto when the wait condition is not
// reached within the timeout.
type NavigationTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("Navigation timeout of %d ms exceeded", e.Timeout.Milliseconds())
}

func (e *NavigationTimeoutError) Unwrap() error { return e.Err }
