package classify

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/urlcheck"
)

func TestClassifyMessage_Literals(t *testing.T) {
	// WHAT: Sample driver messages map to their documented categories.
	// WHY: Retry statistics are reported per category.
	cases := map[string]Category{
		"net::ERR_NAME_NOT_RESOLVED":                         DNS,
		"navigation failed: net::ERR_NAME_NOT_RESOLVED":      DNS,
		"Navigation timeout of 25000 ms exceeded":            Timeout,
		"Target closed":                                      Browser,
		"net::ERR_CONNECTION_RESET at https://x.test":        Network,
		"net::ERR_CERT_AUTHORITY_INVALID":                    SSL,
		"net::ERR_ABORTED":                                   Navigation,
		"Protocol error (Runtime.evaluate): Cannot find ctx": Protocol,
		"screenshot: capture failed":                         Screenshot,
		"net::ERR_INVALID_RESPONSE":                          Content,
		"something entirely different":                       Unknown,
		"":                                                   Unknown,
		"context deadline exceeded":                          Timeout,
		"browser has disconnected":                           Browser,
		"dial tcp 10.0.0.1:443: connect: connection refused": DNS,
	}
	for msg, want := range cases {
		if got := ClassifyMessage(msg); got != want {
			t.Errorf("ClassifyMessage(%q) = %s, want %s", msg, got, want)
		}
	}
}

func TestClassifyMessage_Precedence(t *testing.T) {
	// WHAT: A message matching several rows takes the earliest row.
	// WHY: DNS is the most actionable category and must win over Timeout.
	if got := ClassifyMessage("dns lookup timeout: ERR_NAME_NOT_RESOLVED"); got != DNS {
		t.Fatalf("got %s, want DNS", got)
	}
	if got := ClassifyMessage("navigation failed after timeout"); got != Timeout {
		t.Fatalf("got %s, want Timeout", got)
	}
}

func TestClassifyMessage_Deterministic(t *testing.T) {
	msg := "net::ERR_SSL_PROTOCOL_ERROR"
	first := ClassifyMessage(msg)
	for i := 0; i < 50; i++ {
		if ClassifyMessage(msg) != first {
			t.Fatal("classification changed between calls")
		}
	}
}

func TestClassify_ValidationIsStructural(t *testing.T) {
	// WHAT: A wrapped ValidationError is Validation even if its text
	// matches another row.
	err := fmt.Errorf("capture: %w", &urlcheck.ValidationError{
		Kind: urlcheck.KindInvalidURL, Sanitized: "https://timeout", Err: errors.New("invalid URL format"),
	})
	if got := Classify(err); got != Validation {
		t.Fatalf("got %s, want Validation", got)
	}
	if Classify(nil) != Unknown {
		t.Fatal("nil error should be Unknown")
	}
}

func TestNewContext_Tagged(t *testing.T) {
	now := time.Unix(1700000000, 0)
	queried := false
	f := Facts{
		Hostname: "bad.test",
		Timeout:  25 * time.Second,
		ReadyState: func() (string, error) {
			queried = true
			return "interactive", nil
		},
		BrowserInfo: func() (bool, int) { return false, 3 },
	}

	tc, ok := NewContext(Timeout, f, now).(TimeoutContext)
	if !ok || tc.ReadyState != "interactive" || tc.DurationMs != 25000 {
		t.Fatalf("timeout context = %+v", tc)
	}
	if !queried {
		t.Fatal("ready state query not made")
	}

	bc, ok := NewContext(Browser, f, now).(BrowserContext)
	if !ok || bc.Connected || bc.PagesCount != 3 {
		t.Fatalf("browser context = %+v", bc)
	}

	if dc, ok := NewContext(DNS, f, now).(DNSContext); !ok || dc.Hostname != "bad.test" {
		t.Fatalf("dns context = %+v", dc)
	}
	if NewContext(Unknown, f, now) != nil {
		t.Fatal("Unknown should carry no context")
	}
}

func TestNewContext_TimeoutReadyStateFails(t *testing.T) {
	f := Facts{ReadyState: func() (string, error) { return "", errors.New("target closed") }}
	tc := NewContext(Timeout, f, time.Now()).(TimeoutContext)
	if tc.ReadyState != "unknown" {
		t.Fatalf("ReadyState = %q, want unknown", tc.ReadyState)
	}
}
