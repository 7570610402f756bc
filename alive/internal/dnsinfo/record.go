// Package dnsinfo resolves the DNS evidence stored next to every captured
// page: A, SOA, NS, MX and TXT from a primary resolver, with a DNS-over-HTTPS
// fallback for A when the primary path is unreachable.
package dnsinfo

import "time"

// ARecord is one IPv4 address with its TTL.
type ARecord struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	TTL     uint32 `json:"ttl"`
}

// SOARecord is the zone's start of authority.
type SOARecord struct {
	Type              string `json:"type"`
	PrimaryNameserver string `json:"primary_nameserver"`
	Hostmaster        string `json:"hostmaster"`
	Serial            uint32 `json:"serial"`
	Refresh           uint32 `json:"refresh"`
	Retry             uint32 `json:"retry"`
	Expire            uint32 `json:"expire"`
	MinimumTTL        uint32 `json:"minimum_ttl"`
}

// NSRecord is one delegated nameserver.
type NSRecord struct {
	Type       string `json:"type"`
	Nameserver string `json:"nameserver"`
}

// MXRecord is one mail exchanger.
type MXRecord struct {
	Type     string `json:"type"`
	Priority uint16 `json:"priority"`
	Exchange string `json:"exchange"`
}

// TXTRecord is one TXT record, its strings joined by a space.
type TXTRecord struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	TTL   uint32 `json:"ttl"`
}

// Records groups the five record types. Slices are never nil so the JSON
// shape is stable.
type Records struct {
	A   []ARecord   `json:"a"`
	SOA *SOARecord  `json:"soa"`
	NS  []NSRecord  `json:"ns"`
	MX  []MXRecord  `json:"mx"`
	TXT []TXTRecord `json:"txt"`
}

// Metadata summarizes a RecordSet.
type Metadata struct {
	TotalRecordCount int      `json:"total_record_count"`
	HasErrors        bool     `json:"has_errors"`
	ServersUsed      []string `json:"servers_used"`
	Source           string   `json:"source"`
}

// RecordSet is the normalized result written to ip_address.json.
// Errors is keyed by record type ("a", "soa", "ns", "mx", "txt") or by
// "doh_<provider>"; it serializes as null when empty.
type RecordSet struct {
	Timestamp time.Time         `json:"timestamp"`
	Domain    string            `json:"domain"`
	Records   Records           `json:"records"`
	Errors    map[string]string `json:"errors"`
	Metadata  Metadata          `json:"metadata"`
}

// Source values.
const (
	SourcePrimary = "primary"
	SourceDoH     = "doh"
	SourceNone    = "none"
)

func newRecordSet(domain string, now time.Time) *RecordSet {
	return &RecordSet{
		Timestamp: now.UTC(),
		Domain:    domain,
		Records: Records{
			A:   []ARecord{},
			NS:  []NSRecord{},
			MX:  []MXRecord{},
			TXT: []TXTRecord{},
		},
		Errors: map[string]string{},
	}
}

// finalize computes metadata and nils an empty error map.
func (rs *RecordSet) finalize(servers []string, source string) {
	n := len(rs.Records.A) + len(rs.Records.NS) + len(rs.Records.MX) + len(rs.Records.TXT)
	if rs.Records.SOA != nil {
		n++
	}
	rs.Metadata = Metadata{
		TotalRecordCount: n,
		HasErrors:        len(rs.Errors) > 0,
		ServersUsed:      append([]string(nil), servers...),
		Source:           source,
	}
	if len(rs.Errors) == 0 {
		rs.Errors = nil
	}
}
