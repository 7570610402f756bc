package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dnsinfo"
)

// Artifact file names inside an attempt directory.
const (
	FileHTML        = "page.html"
	FileHeaders     = "headers.json"
	FileCookies     = "cookies.json"
	FileFinalURL    = "final_url.txt"
	FileOriginalURL = "original_url.txt"
	FileStatusCode  = "status_code.txt"
	FileHTTPVersion = "http_version.txt"
	FileDNS         = "ip_address.json"
	FileErrorLog    = "error.log"
	FileErrorJSON   = "error.json"
)

// Labels used instead of the host for attempts that never got one.
const (
	LabelInvalidURL = "invalid_url"
	LabelParseError = "parse_error"
)

const dirTimeLayout = "2006-01-02T15-04-05.000Z"

// Artifacts is the evidence of one successful attempt.
type Artifacts struct {
	Screenshot  []byte
	HTML        string
	Headers     map[string]string
	Cookies     []browser.Cookie
	StatusCode  int
	HTTPVersion string
	FinalURL    string
	OriginalURL string
	DNS         *dnsinfo.RecordSet
}

// Sink writes attempt artifacts under Root:
//
//	<root>/apwg/<id/10000>/<id>-<label>/<timestamp>/
//	<root>/error-categories/<Category>/<id>-<timestamp>.log -> error.log
//	<root>/error-timeline/<YYYY-MM-DD>/<id>-<timestamp>.log -> error.log
type Sink struct {
	Root           string
	ScreenshotName string
	logger         *slog.Logger
}

// NewSink creates a filesystem sink rooted at root.
func NewSink(root, screenshotName string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if screenshotName == "" {
		screenshotName = "screenshot.jpg"
	}
	return &Sink{Root: root, ScreenshotName: screenshotName, logger: logger}
}

// AttemptDir returns the directory of one attempt. Nothing is created.
func (s *Sink) AttemptDir(id int64, label string, at time.Time) string {
	return filepath.Join(s.Root, "apwg",
		strconv.FormatInt(id/10000, 10),
		fmt.Sprintf("%d-%s", id, label),
		at.UTC().Format(dirTimeLayout))
}

// WriteArtifacts writes the full evidence set into dir.
func (s *Sink) WriteArtifacts(dir string, a *Artifacts) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	type file struct {
		name string
		data []byte
	}
	files := []file{
		{s.ScreenshotName, a.Screenshot},
		{FileHTML, []byte(a.HTML)},
		{FileFinalURL, []byte(a.FinalURL)},
		{FileOriginalURL, []byte(a.OriginalURL)},
		{FileStatusCode, []byte(strconv.Itoa(a.StatusCode))},
		{FileHTTPVersion, []byte(a.HTTPVersion)},
	}
	for _, j := range []struct {
		name string
		v    any
	}{
		{FileHeaders, nonNilMap(a.Headers)},
		{FileCookies, nonNilCookies(a.Cookies)},
		{FileDNS, a.DNS},
	} {
		data, err := json.MarshalIndent(j.v, "", "  ")
		if err != nil {
			return fmt.Errorf("capture: encode %s: %w", j.name, err)
		}
		files = append(files, file{j.name, data})
	}

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return fmt.Errorf("capture: write %s: %w", f.name, err)
		}
	}
	return nil
}

// WriteNote writes a one-line error.log into dir.
func (s *Sink) WriteNote(dir, text string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileErrorLog), []byte(text), 0o644); err != nil {
		return fmt.Errorf("capture: write note: %w", err)
	}
	return nil
}

// WriteError writes error.log and error.json into dir, then links error.log
// from the category index and the day index. Link failures are logged only.
func (s *Sink) WriteError(dir string, id int64, r *ErrorReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	logPath := filepath.Join(dir, FileErrorLog)
	if err := os.WriteFile(logPath, []byte(r.Text()), 0o644); err != nil {
		return fmt.Errorf("capture: write error log: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: encode error report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileErrorJSON), data, 0o644); err != nil {
		return fmt.Errorf("capture: write error json: %w", err)
	}

	name := fmt.Sprintf("%d-%s.log", id, r.Timestamp.UTC().Format(dirTimeLayout))
	s.link(logPath, filepath.Join(s.Root, "error-categories", string(r.Category), name))
	s.link(logPath, filepath.Join(s.Root, "error-timeline", r.Timestamp.UTC().Format("2006-01-02"), name))
	return nil
}

func (s *Sink) link(target, at string) {
	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	if err := os.MkdirAll(filepath.Dir(at), 0o755); err != nil {
		s.logger.Warn("capture: index dir", "path", at, "error", err)
		return
	}
	if err := os.Symlink(target, at); err != nil && !os.IsExist(err) {
		s.logger.Warn("capture: index link", "path", at, "error", err)
	}
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilCookies(c []browser.Cookie) []browser.Cookie {
	if c == nil {
		return []browser.Cookie{}
	}
	return c
}
