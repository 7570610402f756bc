package dnsinfo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// fakeExchanger answers from a per-type script. A missing entry is a
// transport failure.
type fakeExchanger struct {
	mu      sync.Mutex
	answers map[uint16][]string // zone-format RRs
	rcodes  map[uint16]int
	down    map[string]bool // addr -> unreachable
	calls   map[string]int
}

func (f *fakeExchanger) ExchangeContext(_ context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[addr]++
	if f.down[addr] {
		return nil, 0, errors.New("read udp " + addr + ": i/o timeout")
	}
	qtype := m.Question[0].Qtype
	resp := new(dns.Msg)
	resp.SetReply(m)
	if rc, ok := f.rcodes[qtype]; ok {
		resp.Rcode = rc
		return resp, time.Millisecond, nil
	}
	rrs, ok := f.answers[qtype]
	if !ok {
		return nil, 0, errors.New("read udp " + addr + ": i/o timeout")
	}
	for _, s := range rrs {
		rr, err := dns.NewRR(s)
		if err != nil {
			return nil, 0, err
		}
		resp.Answer = append(resp.Answer, rr)
	}
	return resp, time.Millisecond, nil
}

func testResolver(ex Exchanger) *Resolver {
	r := NewResolver([]string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, time.Second, nil)
	r.UDP = ex
	r.TCP = ex
	return r
}

func fullAnswers() map[uint16][]string {
	return map[uint16][]string{
		dns.TypeA:   {"example.org. 300 IN A 93.184.216.34"},
		dns.TypeSOA: {"example.org. 3600 IN SOA ns.icann.org. noc.dns.icann.org. 2024081401 7200 3600 1209600 3600"},
		dns.TypeNS:  {"example.org. 86400 IN NS a.iana-servers.net.", "example.org. 86400 IN NS b.iana-servers.net."},
		dns.TypeMX:  {"example.org. 300 IN MX 10 mail.example.org."},
		dns.TypeTXT: {`example.org. 300 IN TXT "v=spf1" "-all"`},
	}
}

func TestResolve_AllRecords(t *testing.T) {
	ex := &fakeExchanger{answers: fullAnswers()}
	rs := NewEnricher(testResolver(ex), nil, nil).Resolve(context.Background(), "example.org:443")

	if rs.Domain != "example.org" {
		t.Fatalf("Domain = %q", rs.Domain)
	}
	if len(rs.Records.A) != 1 || rs.Records.A[0].Address != "93.184.216.34" || rs.Records.A[0].TTL != 300 {
		t.Fatalf("A = %+v", rs.Records.A)
	}
	if rs.Records.SOA == nil || rs.Records.SOA.Serial != 2024081401 || rs.Records.SOA.PrimaryNameserver != "ns.icann.org" {
		t.Fatalf("SOA = %+v", rs.Records.SOA)
	}
	if len(rs.Records.NS) != 2 || rs.Records.MX[0].Priority != 10 || rs.Records.TXT[0].Value != "v=spf1 -all" {
		t.Fatalf("records = %+v", rs.Records)
	}
	if rs.Errors != nil || rs.Metadata.HasErrors {
		t.Fatalf("errors = %v", rs.Errors)
	}
	if rs.Metadata.TotalRecordCount != 6 || rs.Metadata.Source != SourcePrimary {
		t.Fatalf("metadata = %+v", rs.Metadata)
	}
}

func TestResolve_PartialFailure(t *testing.T) {
	// WHAT: A failing SOA query does not drop the A answer.
	// WHY: Partial DNS evidence is still evidence.
	answers := fullAnswers()
	delete(answers, dns.TypeSOA)
	ex := &fakeExchanger{answers: answers}
	rs := NewEnricher(testResolver(ex), nil, nil).Resolve(context.Background(), "example.org")

	if len(rs.Records.A) == 0 {
		t.Fatal("records.a should be non-empty")
	}
	if _, ok := rs.Errors["soa"]; !ok {
		t.Fatalf("errors.soa missing: %v", rs.Errors)
	}
	if !rs.Metadata.HasErrors {
		t.Fatal("metadata.has_errors should be true")
	}
	if rs.Records.SOA != nil {
		t.Fatal("soa should be null")
	}
}

func TestResolve_ServerFailover(t *testing.T) {
	ex := &fakeExchanger{answers: fullAnswers(), down: map[string]bool{"10.0.0.1:53": true}}
	rs := NewEnricher(testResolver(ex), nil, nil).Resolve(context.Background(), "example.org")
	if rs.Metadata.HasErrors {
		t.Fatalf("failover should hide the dead server: %v", rs.Errors)
	}
	if ex.calls["10.0.0.2:53"] != 5 {
		t.Fatalf("second server calls = %d, want 5", ex.calls["10.0.0.2:53"])
	}
}

func TestResolve_NXDOMAINIsNotUnavailable(t *testing.T) {
	// WHAT: Negative answers from a reachable server never trigger DoH.
	doh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("DoH must not be queried on NXDOMAIN")
	}))
	defer doh.Close()

	ex := &fakeExchanger{rcodes: map[uint16]int{
		dns.TypeA: dns.RcodeNameError, dns.TypeSOA: dns.RcodeNameError, dns.TypeNS: dns.RcodeNameError,
		dns.TypeMX: dns.RcodeNameError, dns.TypeTXT: dns.RcodeNameError,
	}}
	client := NewDoHClient([]Provider{{Name: "local", URL: doh.URL}}, 0, time.Second)
	rs := NewEnricher(testResolver(ex), client, nil).Resolve(context.Background(), "gone.test")

	if rs.Errors["a"] != "queryA NXDOMAIN gone.test" {
		t.Fatalf("errors.a = %q", rs.Errors["a"])
	}
	if rs.Metadata.Source != SourcePrimary {
		t.Fatalf("source = %q", rs.Metadata.Source)
	}
}

func TestResolve_DoHFallback(t *testing.T) {
	// WHAT: All primary queries unreachable -> DoH providers in order,
	// failing providers recorded per provider.
	// WHY: Resolver outages must not leave captures without an IP.
	var order []string
	var mu sync.Mutex
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, "broken")
		mu.Unlock()
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, "good")
		mu.Unlock()
		if r.URL.Query().Get("name") != "example.org" || r.URL.Query().Get("type") != "A" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Accept") != "application/dns-json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Status": 0,
			"Answer": []map[string]any{
				{"name": "example.org.", "type": 5, "TTL": 60, "data": "alias.example.org."},
				{"name": "alias.example.org.", "type": 1, "TTL": 120, "data": "93.184.216.34"},
			},
		})
	}))
	defer good.Close()

	ex := &fakeExchanger{} // every type unanswered
	client := NewDoHClient([]Provider{{Name: "broken", URL: broken.URL}, {Name: "good", URL: good.URL}}, 50, time.Second)
	rs := NewEnricher(testResolver(ex), client, nil).Resolve(context.Background(), "example.org")

	if len(rs.Records.A) != 1 || rs.Records.A[0].TTL != 120 {
		t.Fatalf("A = %+v", rs.Records.A)
	}
	if _, ok := rs.Errors["doh_broken"]; !ok {
		t.Fatalf("doh_broken missing: %v", rs.Errors)
	}
	if _, ok := rs.Errors["doh_good"]; ok {
		t.Fatal("successful provider recorded as failure")
	}
	if rs.Metadata.Source != "doh:good" {
		t.Fatalf("source = %q", rs.Metadata.Source)
	}
	if len(order) != 2 || order[0] != "broken" {
		t.Fatalf("provider order = %v", order)
	}
}

func TestRecordSet_StableJSONShape(t *testing.T) {
	// WHAT: Empty results still serialize every key with arrays, not null.
	ex := &fakeExchanger{rcodes: map[uint16]int{
		dns.TypeA: dns.RcodeServerFailure, dns.TypeSOA: dns.RcodeServerFailure, dns.TypeNS: dns.RcodeServerFailure,
		dns.TypeMX: dns.RcodeServerFailure, dns.TypeTXT: dns.RcodeServerFailure,
	}}
	rs := NewEnricher(testResolver(ex), nil, nil).Resolve(context.Background(), "x.test")
	b, err := json.Marshal(rs)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	recs := m["records"].(map[string]any)
	for _, k := range []string{"a", "ns", "mx", "txt"} {
		if _, ok := recs[k].([]any); !ok {
			t.Errorf("records.%s = %v, want array", k, recs[k])
		}
	}
	if recs["soa"] != nil {
		t.Errorf("records.soa = %v", recs["soa"])
	}
	meta := m["metadata"].(map[string]any)
	for _, k := range []string{"total_record_count", "has_errors", "servers_used"} {
		if _, ok := meta[k]; !ok {
			t.Errorf("metadata.%s missing", k)
		}
	}
}
