package dnsinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/moa-lab/phishing-alive-measurement/horosafe"
)

// Provider is one DNS-over-HTTPS JSON endpoint.
type Provider struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultProviders are tried in order.
var DefaultProviders = []Provider{
	{Name: "cloudflare", URL: "https://cloudflare-dns.com/dns-query"},
	{Name: "google", URL: "https://dns.google/resolve"},
	{Name: "quad9", URL: "https://dns.quad9.net:5053/dns-query"},
}

// dohAnswer is one entry of the JSON API "Answer" array.
type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// DoHClient queries the application/dns-json API of each provider. All
// requests share one rate limiter.
type DoHClient struct {
	Providers []Provider
	HTTP      *http.Client
	limiter   *rate.Limiter
}

// NewDoHClient builds a client. perSecond <= 0 disables pacing.
func NewDoHClient(providers []Provider, perSecond float64, timeout time.Duration) *DoHClient {
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	return &DoHClient{
		Providers: providers,
		HTTP:      &http.Client{Timeout: timeout},
		limiter:   lim,
	}
}

// LookupA tries providers in order and returns the A records of the first
// one that answers with status 0. Failures are returned per provider.
func (c *DoHClient) LookupA(ctx context.Context, domain string) ([]ARecord, string, map[string]string) {
	failures := map[string]string{}
	for _, p := range c.Providers {
		recs, err := c.query(ctx, p, domain)
		if err != nil {
			failures["doh_"+p.Name] = err.Error()
			continue
		}
		return recs, p.Name, failures
	}
	return nil, "", failures
}

func (c *DoHClient) query(ctx context.Context, p Provider, domain string) ([]ARecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: rate wait: %w", p.Name, err)
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: %w", p.Name, err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", "A")
	q.Set("ct", "application/dns-json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: %w", p.Name, err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dnsinfo: doh %s: http %d", p.Name, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: read: %w", p.Name, err)
	}
	var dr dohResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("dnsinfo: doh %s: decode: %w", p.Name, err)
	}
	if dr.Status != 0 {
		return nil, fmt.Errorf("dnsinfo: doh %s: status %d", p.Name, dr.Status)
	}

	recs := []ARecord{}
	for _, a := range dr.Answer {
		if a.Type == 1 {
			recs = append(recs, ARecord{Type: "A", Address: strings.TrimSpace(a.Data), TTL: a.TTL})
		}
	}
	return recs, nil
}
