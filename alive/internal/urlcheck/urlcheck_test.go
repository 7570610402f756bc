package urlcheck

import (
	"errors"
	"testing"
)

func TestSanitize(t *testing.T) {
	// WHAT: Scheme completion rules.
	// WHY: Feeds deliver bare hosts and scheme-relative URLs.
	cases := map[string]string{
		"example.com":               "https://example.com",
		"  example.com/login  ":     "https://example.com/login",
		"//cdn.example.com/a":       "https://cdn.example.com/a",
		"http://example.com":        "http://example.com",
		"https://example.com/x?y=1": "https://example.com/x?y=1",
		"ftp://example.com":         "ftp://example.com",
		"":                          "https://",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{"example.com", "//a.b", " http://x.y ", "not a url", "", "://", "https://", "a://b"}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestIsValid(t *testing.T) {
	// WHAT: Only http(s) with a parseable, non-empty host passes.
	// WHY: Invalid URLs must never consume a browser page.
	cases := []struct {
		raw  string
		want bool
	}{
		{"example.com", true},
		{"not a url", false},
		{"//", false},
		{"ftp://example.com", false},
		{"https://", false},
		{"http://[::1]:8080/", true},
		{"https://exa mple.com", false},
	}
	for _, c := range cases {
		if got := IsValid(Sanitize(c.raw)); got != c.want {
			t.Errorf("IsValid(Sanitize(%q)) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestValidate_TypedError(t *testing.T) {
	err := Validate("not a url", Sanitize("not a url"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate: got %T, want *ValidationError", err)
	}
	if ve.Kind != KindInvalidURL || ve.Original != "not a url" {
		t.Fatalf("ValidationError = %+v", ve)
	}
	if Validate("example.com", "https://example.com") != nil {
		t.Fatal("valid URL rejected")
	}
}

func TestOrigin(t *testing.T) {
	o, err := Origin("x", "https://login.example.com:8443/path?q=1")
	if err != nil {
		t.Fatal(err)
	}
	if o != "https://login.example.com:8443" {
		t.Fatalf("Origin = %q", o)
	}
	if Host(o) != "login.example.com:8443" {
		t.Fatalf("Host = %q", Host(o))
	}

	_, err = Origin("bad", "https://%zz")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Kind != KindParseError {
		t.Fatalf("Origin parse failure: got %v", err)
	}
}

func TestCleanHost(t *testing.T) {
	if got := CleanHost("login.example.com:8443"); got != "login_example_com_8443" {
		t.Fatalf("CleanHost = %q", got)
	}
}

func TestFilter_IsBenign(t *testing.T) {
	// WHAT: Exact host match against the allow-list, http(s) only.
	// WHY: Redirect-to-legitimate-site is the dominant false positive, and a
	// benign verdict evicts the URL for good, so look-alike hosts must miss.
	f := NewFilter(nil)
	cases := map[string]bool{
		"https://www.google.com/search?q=x":          true,
		"http://irs.gov/refund":                      true,
		"https://www.usps.com":                       true,
		"HTTPS://WWW.GOOGLE.COM/":                    true,
		"https://www.google.com:443/":                true,
		"https://user@www.google.com/":               true,
		"https://evil.test/?r=google.com":            false,
		"https://usps.com.tracking.test":             false,
		"https://www.google.com@evil.test/login":     false,
		"https://www.google.com.account-verify.test": false,
		"https://google.community-login.test/":       false,
		"https://irs.gov-refund.test/claim":          false,
		"ftp://www.google.com/":                      false,
		"www.google.com":                             false,
	}
	for u, want := range cases {
		if got := f.IsBenign(u); got != want {
			t.Errorf("IsBenign(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestFilter_CustomList(t *testing.T) {
	f := NewFilter([]string{" Bank.Example ", "https://portal.example:8443"})
	if !f.IsBenign("https://portal.example/") {
		t.Fatal("entry with scheme and port not reduced to its host")
	}
	if !f.IsBenign("https://bank.example/login") {
		t.Fatal("custom domain not matched")
	}
	if f.IsBenign("https://www.google.com") {
		t.Fatal("default list should be replaced by custom list")
	}
}
