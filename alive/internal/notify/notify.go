// Package notify delivers short operator messages.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/horosafe"
)

// DefaultTokenEnv names the environment variable holding the bot token.
const DefaultTokenEnv = "TELEGRAM_API_KEY"

// Notifier sends one message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Nop discards every message.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string) error { return nil }

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	token   string
	chatID  string
	prefix  string
	baseURL string
	client  *http.Client
}

// Option configures a Telegram notifier.
type Option func(*Telegram)

// WithBaseURL overrides the API root (tests).
func WithBaseURL(u string) Option {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

// WithPrefix prepends "[prefix] " to every message.
func WithPrefix(p string) Option {
	return func(t *Telegram) { t.prefix = p }
}

// NewTelegram returns a Telegram notifier, or Nop when token is empty.
func NewTelegram(token, chatID string, opts ...Option) Notifier {
	if token == "" {
		return Nop{}
	}
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.prefix != "" {
		text = "[" + t.prefix + "] " + text
	}
	q := url.Values{}
	q.Set("chat_id", t.chatID)
	q.Set("text", text)
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the token.
		return fmt.Errorf("notify: telegram: %s", horosafe.Redact(err.Error(), t.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: telegram: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Logged wraps n so that failures are logged and swallowed.
func Logged(n Notifier, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return logged{n: n, logger: logger}
}

type logged struct {
	n      Notifier
	logger *slog.Logger
}

func (l logged) Send(ctx context.Context, text string) error {
	if err := l.n.Send(ctx, text); err != nil {
		l.logger.Warn("notify: send failed", "error", err)
	}
	return nil
}
