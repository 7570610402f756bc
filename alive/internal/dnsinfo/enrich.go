package dnsinfo

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Enricher resolves a domain through the primary resolver and falls back to
// DoH when the primary path is entirely unreachable.
type Enricher struct {
	primary *Resolver
	doh     *DoHClient
	logger  *slog.Logger
	now     func() time.Time
}

// NewEnricher wires a resolver and an optional DoH fallback (nil disables it).
func NewEnricher(primary *Resolver, doh *DoHClient, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{primary: primary, doh: doh, logger: logger, now: time.Now}
}

// Resolve never fails: every query error ends up in RecordSet.Errors. Ports
// and trailing dots are stripped from domain.
func (e *Enricher) Resolve(ctx context.Context, domain string) *RecordSet {
	domain = bareHost(domain)
	rs := newRecordSet(domain, e.now())

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		transports int
	)
	record := func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		rs.Errors[key] = err.Error()
		if errors.Is(err, errTransport) {
			transports++
		}
	}

	wg.Add(5)
	go func() {
		defer wg.Done()
		if a, err := e.primary.lookupA(ctx, domain); err != nil {
			record("a", err)
		} else {
			rs.Records.A = a
		}
	}()
	go func() {
		defer wg.Done()
		if soa, err := e.primary.lookupSOA(ctx, domain); err != nil {
			record("soa", err)
		} else {
			rs.Records.SOA = soa
		}
	}()
	go func() {
		defer wg.Done()
		if ns, err := e.primary.lookupNS(ctx, domain); err != nil {
			record("ns", err)
		} else {
			rs.Records.NS = ns
		}
	}()
	go func() {
		defer wg.Done()
		if mx, err := e.primary.lookupMX(ctx, domain); err != nil {
			record("mx", err)
		} else {
			rs.Records.MX = mx
		}
	}()
	go func() {
		defer wg.Done()
		if txt, err := e.primary.lookupTXT(ctx, domain); err != nil {
			record("txt", err)
		} else {
			rs.Records.TXT = txt
		}
	}()
	wg.Wait()

	if transports < 5 {
		rs.finalize(e.primary.Servers, SourcePrimary)
		return rs
	}

	e.logger.Warn("dnsinfo: primary resolvers unreachable, falling back to DoH", "domain", domain)
	if e.doh == nil {
		rs.finalize(e.primary.Servers, SourceNone)
		return rs
	}
	recs, provider, failures := e.doh.LookupA(ctx, domain)
	for k, v := range failures {
		rs.Errors[k] = v
	}
	if provider == "" {
		rs.finalize(e.primary.Servers, SourceNone)
		return rs
	}
	rs.Records.A = recs
	rs.finalize([]string{provider}, SourceDoH+":"+provider)
	return rs
}

func bareHost(domain string) string {
	domain = strings.TrimSpace(domain)
	if h, _, err := net.SplitHostPort(domain); err == nil {
		domain = h
	}
	domain = strings.TrimPrefix(strings.TrimSuffix(domain, "]"), "[")
	return strings.TrimSuffix(domain, ".")
}
