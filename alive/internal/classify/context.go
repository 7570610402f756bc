package classify

import "time"

// Context carries the category-specific diagnostics of one failure. Exactly
// one concrete type exists per category that has extra facts worth keeping.
type Context interface {
	Category() Category
}

// DNSContext is attached to DNS failures.
type DNSContext struct {
	Hostname         string    `json:"hostname"`
	PreviousAttempts int       `json:"previous_attempts"`
	Timestamp        time.Time `json:"timestamp"`
}

// NetworkContext is attached to Network failures.
type NetworkContext struct {
	LastStatus int               `json:"last_response_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SSLContext is attached to SSL failures.
type SSLContext struct {
	Detail    string    `json:"certificate_error"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeoutContext is attached to Timeout failures. ReadyState is the
// document.readyState observed right after the timeout, "unknown" when it
// could not be read.
type TimeoutContext struct {
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
	Type       string        `json:"type"`
	ReadyState string        `json:"navigation_state"`
	Timestamp  time.Time     `json:"timestamp"`
}

// BrowserContext is attached to Browser failures.
type BrowserContext struct {
	Connected  bool      `json:"is_connected"`
	PagesCount int       `json:"pages_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationContext is attached to Validation failures.
type ValidationContext struct {
	OriginalURL  string    `json:"original_url"`
	SanitizedURL string    `json:"sanitized_url"`
	ErrorType    string    `json:"error_type"`
	Timestamp    time.Time `json:"timestamp"`
}

func (DNSContext) Category() Category        { return DNS }
func (NetworkContext) Category() Category    { return Network }
func (SSLContext) Category() Category        { return SSL }
func (TimeoutContext) Category() Category    { return Timeout }
func (BrowserContext) Category() Category    { return Browser }
func (ValidationContext) Category() Category { return Validation }

// Facts is everything the pipeline managed to observe around a failure.
// Lookups are lazy so only the facts relevant to the category are gathered.
type Facts struct {
	Hostname         string
	PreviousAttempts int
	LastStatus       int
	Headers          map[string]string
	Message          string
	Timeout          time.Duration
	OriginalURL      string
	SanitizedURL     string
	ValidationKind   string

	ReadyState  func() (string, error)
	BrowserInfo func() (connected bool, pages int)
}

// NewContext builds the tagged context for cat from facts. Categories with
// no extra diagnostics return nil.
func NewContext(cat Category, f Facts, now time.Time) Context {
	switch cat {
	case DNS:
		return DNSContext{Hostname: f.Hostname, PreviousAttempts: f.PreviousAttempts, Timestamp: now}
	case Network:
		return NetworkContext{LastStatus: f.LastStatus, Headers: f.Headers, Timestamp: now}
	case SSL:
		return SSLContext{Detail: f.Message, Timestamp: now}
	case Timeout:
		state := "unknown"
		if f.ReadyState != nil {
			if s, err := f.ReadyState(); err == nil && s != "" {
				state = s
			}
		}
		return TimeoutContext{Duration: f.Timeout, DurationMs: f.Timeout.Milliseconds(), Type: "navigation", ReadyState: state, Timestamp: now}
	case Browser:
		var bc BrowserContext
		if f.BrowserInfo != nil {
			bc.Connected, bc.PagesCount = f.BrowserInfo()
		}
		bc.Timestamp = now
		return bc
	case Validation:
		return ValidationContext{OriginalURL: f.OriginalURL, SanitizedURL: f.SanitizedURL, ErrorType: f.ValidationKind, Timestamp: now}
	}
	return nil
}
