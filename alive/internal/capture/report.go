package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
	"github.com/moa-lab/phishing-alive-measurement/observability"
)

// Diagnostics is the best-effort context gathered when an attempt fails.
type Diagnostics struct {
	AttemptTimestamp    time.Time                     `json:"attemptTimestamp"`
	BrowserInfo         string                        `json:"browserInfo,omitempty"`
	CurrentURL          string                        `json:"currentUrl,omitempty"`
	Memory              *observability.RuntimeMetrics `json:"memory,omitempty"`
	VisitedDomainsCount int                           `json:"visitedDomainsCount"`
	PreviousAttempts    int                           `json:"previousAttempts"`
	NavigationResponse  string                        `json:"navigationResponse,omitempty"`
}

// ErrorReport is the structured form of error.json. error.log renders the
// same data for humans.
type ErrorReport struct {
	Timestamp  time.Time                 `json:"timestamp"`
	URL        string                    `json:"url"`
	Category   classify.Category         `json:"category"`
	Type       string                    `json:"type"`
	Message    string                    `json:"message"`
	Code       string                    `json:"code,omitempty"`
	Details    classify.Context          `json:"categoryDetails,omitempty"`
	Chain      []string                  `json:"errorChain,omitempty"`
	Context    Diagnostics               `json:"context"`
	Statistics map[classify.Category]int `json:"errorStatistics,omitempty"`
}

var netErrCode = regexp.MustCompile(`net::ERR_[A-Z_]+`)

// newReport fills the fields derivable from err alone.
func newReport(url string, err error, cat classify.Category, now time.Time) *ErrorReport {
	r := &ErrorReport{
		Timestamp: now,
		URL:       url,
		Category:  cat,
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Code:      netErrCode.FindString(err.Error()),
	}
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		r.Chain = append(r.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return r
}

// Text renders the report the way error.log is laid out.
func (r *ErrorReport) Text() string {
	var b strings.Builder
	code := r.Code
	if code == "" {
		code = "N/A"
	}
	b.WriteString("=== Error Report ===\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "URL: %s\n", r.URL)
	fmt.Fprintf(&b, "Error Category: %s\n", r.Category)
	fmt.Fprintf(&b, "Error Type: %s\n", r.Type)
	fmt.Fprintf(&b, "Error Message: %s\n", r.Message)
	fmt.Fprintf(&b, "Error Code: %s\n", code)

	if r.Details != nil {
		b.WriteString("\nCategory-Specific Details:\n")
		b.WriteString(indentJSON(r.Details))
		b.WriteString("\n")
	}

	b.WriteString("\nError Chain:\n")
	if len(r.Chain) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range r.Chain {
		b.WriteString("  " + c + "\n")
	}

	b.WriteString("\nAdditional Context:\n")
	b.WriteString(indentJSON(r.Context))
	b.WriteString("\n")

	if len(r.Statistics) > 0 {
		b.WriteString("\n=== Error Statistics ===\n")
		for _, c := range classify.Categories {
			fmt.Fprintf(&b, "%s: %d\n", c, r.Statistics[c])
		}
	}
	b.WriteString("==================\n")
	return b.String()
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
