package dnsinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultServers are the public resolvers queried in order.
var DefaultServers = []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}

// Exchanger sends one DNS message to addr. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Resolver queries the primary servers with miekg/dns.
type Resolver struct {
	Servers []string
	UDP     Exchanger
	TCP     Exchanger // used when a UDP answer is truncated
	Timeout time.Duration
	logger  *slog.Logger
}

// NewResolver builds a Resolver over servers (DefaultServers when empty).
func NewResolver(servers []string, timeout time.Duration, logger *slog.Logger) *Resolver {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Servers: servers,
		UDP:     &dns.Client{Net: "udp", Timeout: timeout},
		TCP:     &dns.Client{Net: "tcp", Timeout: timeout},
		Timeout: timeout,
		logger:  logger,
	}
}

// errTransport marks a query that got no DNS answer from any server.
var errTransport = errors.New("no server reachable")

// rcodeError is a DNS-level negative answer. The server was reached.
type rcodeError struct {
	qtype  string
	domain string
	rcode  int
}

func (e *rcodeError) Error() string {
	return fmt.Sprintf("query%s %s %s", e.qtype, dns.RcodeToString[e.rcode], e.domain)
}

// query asks each server in turn until one answers. A transport failure on
// every server returns an error wrapping errTransport.
func (r *Resolver) query(ctx context.Context, domain string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.Servers {
		addr := server
		if _, _, err := net.SplitHostPort(server); err != nil {
			addr = net.JoinHostPort(server, "53")
		}
		qctx, cancel := context.WithTimeout(ctx, r.Timeout)
		resp, _, err := r.UDP.ExchangeContext(qctx, m, addr)
		if err == nil && resp != nil && resp.Truncated && r.TCP != nil {
			resp, _, err = r.TCP.ExchangeContext(qctx, m, addr)
		}
		cancel()
		if err != nil || resp == nil {
			if err == nil {
				err = errors.New("empty response")
			}
			lastErr = err
			r.logger.Debug("dnsinfo: server failed", "server", server, "domain", domain, "type", dns.TypeToString[qtype], "error", err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, &rcodeError{qtype: typeName(qtype), domain: domain, rcode: resp.Rcode}
		}
		return resp.Answer, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no servers configured")
	}
	return nil, fmt.Errorf("%w: %v", errTransport, lastErr)
}

var typeNames = map[uint16]string{
	dns.TypeA:   "A",
	dns.TypeSOA: "Soa",
	dns.TypeNS:  "Ns",
	dns.TypeMX:  "Mx",
	dns.TypeTXT: "Txt",
}

func typeName(qtype uint16) string {
	if n, ok := typeNames[qtype]; ok {
		return n
	}
	return dns.TypeToString[qtype]
}

// ENODATA mirrors the resolver convention for an empty NOERROR answer.
func noData(qtype uint16, domain string) error {
	return fmt.Errorf("query%s ENODATA %s", typeName(qtype), domain)
}

func (r *Resolver) lookupA(ctx context.Context, domain string) ([]ARecord, error) {
	rrs, err := r.query(ctx, domain, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []ARecord
	for _, rr := range rrs {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, ARecord{Type: "A", Address: a.A.String(), TTL: a.Hdr.Ttl})
		}
	}
	if len(out) == 0 {
		return nil, noData(dns.TypeA, domain)
	}
	return out, nil
}

func (r *Resolver) lookupSOA(ctx context.Context, domain string) (*SOARecord, error) {
	rrs, err := r.query(ctx, domain, dns.TypeSOA)
	if err != nil {
		return nil, err
	}
	for _, rr := range rrs {
		if s, ok := rr.(*dns.SOA); ok {
			return &SOARecord{
				Type:              "SOA",
				PrimaryNameserver: strings.TrimSuffix(s.Ns, "."),
				Hostmaster:        strings.TrimSuffix(s.Mbox, "."),
				Serial:            s.Serial,
				Refresh:           s.Refresh,
				Retry:             s.Retry,
				Expire:            s.Expire,
				MinimumTTL:        s.Minttl,
			}, nil
		}
	}
	return nil, noData(dns.TypeSOA, domain)
}

func (r *Resolver) lookupNS(ctx context.Context, domain string) ([]NSRecord, error) {
	rrs, err := r.query(ctx, domain, dns.TypeNS)
	if err != nil {
		return nil, err
	}
	var out []NSRecord
	for _, rr := range rrs {
		if ns, ok := rr.(*dns.NS); ok {
			out = append(out, NSRecord{Type: "NS", Nameserver: strings.TrimSuffix(ns.Ns, ".")})
		}
	}
	if len(out) == 0 {
		return nil, noData(dns.TypeNS, domain)
	}
	return out, nil
}

func (r *Resolver) lookupMX(ctx context.Context, domain string) ([]MXRecord, error) {
	rrs, err := r.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var out []MXRecord
	for _, rr := range rrs {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, MXRecord{Type: "MX", Priority: mx.Preference, Exchange: strings.TrimSuffix(mx.Mx, ".")})
		}
	}
	if len(out) == 0 {
		return nil, noData(dns.TypeMX, domain)
	}
	return out, nil
}

func (r *Resolver) lookupTXT(ctx context.Context, domain string) ([]TXTRecord, error) {
	rrs, err := r.query(ctx, domain, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []TXTRecord
	for _, rr := range rrs {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, TXTRecord{Type: "TXT", Value: strings.Join(txt.Txt, " "), TTL: txt.Hdr.Ttl})
		}
	}
	if len(out) == 0 {
		return nil, noData(dns.TypeTXT, domain)
	}
	return out, nil
}
