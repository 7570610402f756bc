// CLAUDE:SUMMARY Error taxonomy: maps an attempt failure to one of eleven categories via one precedence-ordered pattern table.
// CLAUDE:DEPENDS alive/internal/urlcheck (ValidationError)
// CLAUDE:EXPORTS Category, Classify, ClassifyMessage, Categories
package classify

import (
	"errors"
	"strings"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/urlcheck"
)

// Category is the closed set of failure classes.
type Category string

const (
	DNS        Category = "DNS"
	Network    Category = "Network"
	SSL        Category = "SSL"
	Timeout    Category = "Timeout"
	Navigation Category = "Navigation"
	Browser    Category = "Browser"
	Protocol   Category = "Protocol"
	Screenshot Category = "Screenshot"
	Content    Category = "Content"
	Validation Category = "Validation"
	Unknown    Category = "Unknown"
)

// Categories lists every category in precedence order, Validation and
// Unknown last.
var Categories = []Category{DNS, Network, SSL, Timeout, Navigation, Browser, Protocol, Screenshot, Content, Validation, Unknown}

type rule struct {
	category Category
	patterns []string // lowercase substrings
}

// table is evaluated top to bottom; the first matching row wins.
var table = []rule{
	{DNS, []string{"err_name_not_resolved", "err_dns_fail", "connection refused", "no such host"}},
	{Network, []string{"err_internet_disconnected", "err_connection_reset", "err_connection_closed", "err_network_changed", "err_address_unreachable", "network is unreachable"}},
	{SSL, []string{"err_ssl_protocol_error", "err_cert_", "ssl_error", "tls: "}},
	{Timeout, []string{"timeout", "err_timed_out", "navigation timeout", "deadline exceeded"}},
	{Navigation, []string{"err_aborted", "err_failed_load", "navigation failed", "err_too_many_redirects"}},
	{Browser, []string{"target closed", "browser disconnected", "browser has disconnected", "session closed", "websocket: close"}},
	{Protocol, []string{"protocol error", "cdp error", "{\"code\":-32"}},
	{Screenshot, []string{"screenshot", "capture failed"}},
	{Content, []string{"content failed", "err_invalid_response", "err_empty_response"}},
}

// Classify maps err to its category. Validation failures are recognized
// structurally; everything else goes through ClassifyMessage. A nil error
// is Unknown.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	var ve *urlcheck.ValidationError
	if errors.As(err, &ve) {
		return Validation
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage matches msg case-insensitively against the pattern table.
func ClassifyMessage(msg string) Category {
	m := strings.ToLower(msg)
	for _, r := range table {
		for _, p := range r.patterns {
			if strings.Contains(m, p) {
				return r.category
			}
		}
	}
	return Unknown
}

