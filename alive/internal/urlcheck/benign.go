package urlcheck

import (
	"net/url"
	"strings"
)

// DefaultBenignDomains are hosts that phishing feeds routinely report but that
// are the legitimate targets themselves.
var DefaultBenignDomains = []string{
	"www.google.com", "google.com",
	"www.facebook.com", "facebook.com",
	"irs.gov", "www.irs.gov",
	"www.usps.com",
}

// Filter matches URLs against an allow-list of known-legitimate hosts.
type Filter struct {
	hosts map[string]struct{}
}

// NewFilter builds a Filter. Empty domains uses DefaultBenignDomains.
// Entries may carry a scheme, port or userinfo; only the host is kept.
func NewFilter(domains []string) *Filter {
	if len(domains) == 0 {
		domains = DefaultBenignDomains
	}
	f := &Filter{hosts: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !strings.Contains(d, "://") {
			d = "https://" + d
		}
		u, err := url.Parse(d)
		if err != nil || u.Hostname() == "" {
			continue
		}
		f.hosts[strings.ToLower(u.Hostname())] = struct{}{}
	}
	return f
}

// IsBenign reports whether u is an http(s) URL whose host equals an
// allow-listed host.
func (f *Filter) IsBenign(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	_, ok := f.hosts[strings.ToLower(u.Hostname())]
	return ok
}
