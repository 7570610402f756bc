// CLAUDE:SUMMARY URL gatekeeping before any network activity: sanitize, validate, origin extraction, benign allow-list.
// CLAUDE:DEPENDS stdlib only
// CLAUDE:EXPORTS Sanitize, IsValid, Origin, Host, ValidationError, Filter
package urlcheck

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sanitize normalizes a raw feed URL: trims whitespace, completes
// scheme-relative URLs with https: and prefixes https:// when no scheme
// separator is present. Total and idempotent.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "//"):
		return "https:" + s
	case !strings.Contains(s, "://"):
		return "https://" + s
	}
	return s
}

// IsValid reports whether u is an http(s) URL with a non-empty host.
func IsValid(u string) bool {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	p, err := url.Parse(u)
	if err != nil {
		return false
	}
	return (p.Scheme == "http" || p.Scheme == "https") && p.Host != "" && p.Hostname() != ""
}

// Validate returns a *ValidationError when u fails IsValid.
func Validate(raw, u string) error {
	if IsValid(u) {
		return nil
	}
	return &ValidationError{Kind: KindInvalidURL, Original: raw, Sanitized: u, Err: errors.New("invalid URL format")}
}

// Origin returns scheme://host[:port] of u.
func Origin(raw, u string) (string, error) {
	p, err := url.Parse(u)
	if err != nil {
		return "", &ValidationError{Kind: KindParseError, Original: raw, Sanitized: u, Err: err}
	}
	if p.Scheme == "" || p.Host == "" {
		return "", &ValidationError{Kind: KindParseError, Original: raw, Sanitized: u, Err: fmt.Errorf("no origin in %q", u)}
	}
	return p.Scheme + "://" + p.Host, nil
}

// Host strips the scheme from an origin: "https://a.example:8443" -> "a.example:8443".
func Host(origin string) string {
	origin = strings.TrimPrefix(origin, "https://")
	return strings.TrimPrefix(origin, "http://")
}

// Hostname returns the host of u without port, or "" when u does not parse.
func Hostname(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return p.Hostname()
}

// CleanHost replaces every non-alphanumeric byte of host with '_' so the
// result is safe as a single path component.
func CleanHost(host string) string {
	b := []byte(host)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}

// Kind distinguishes the two validation failure points.
type Kind string

const (
	KindInvalidURL Kind = "URL_VALIDATION_ERROR"
	KindParseError Kind = "URL_PARSING_ERROR"
)

// ValidationError is raised before any network activity.
type ValidationError struct {
	Kind      Kind
	Original  string
	Sanitized string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("urlcheck: %s: %q: %v", e.Kind, e.Sanitized, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
