package capture

import (
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
)

// Kind is the terminal outcome tag of one attempt.
type Kind string

const (
	KindSuccess Kind = "success"
	KindSkipped Kind = "skipped"
	KindError   Kind = "error"
)

// SkipReason says why an attempt was skipped.
type SkipReason string

const (
	SkipBenign     SkipReason = "benign"
	SkipExpired    SkipReason = "expired"
	SkipErrorPage  SkipReason = "duplicate-error-page"
	SkipNoResponse SkipReason = "no-response"
)

// Result is the outcome of one pipeline run. It is returned to the
// dispatcher for counting and then dropped.
type Result struct {
	Item     store.WorkItem    `json:"item"`
	Kind     Kind              `json:"kind"`
	Reason   SkipReason        `json:"reason,omitempty"`
	Category classify.Category `json:"category,omitempty"`
	Detail   string            `json:"detail,omitempty"`
	// PreNavigation is set when the outcome was decided before the page
	// was touched.
	PreNavigation bool   `json:"pre_navigation,omitempty"`
	Dir           string `json:"dir,omitempty"`
}

// Benign reports whether the URL was rejected by the allow-list before
// navigation.
func (r Result) Benign() bool {
	return r.Kind == KindSkipped && r.Reason == SkipBenign && r.PreNavigation
}

// Stats is the per-run shared state an attempt reads and updates.
type Stats interface {
	Visit(host string)
	VisitedCount() int
	ErrorCounts() map[classify.Category]int
}

type noStats struct{}

func (noStats) Visit(string)                            {}
func (noStats) VisitedCount() int                       { return 0 }
func (noStats) ErrorCounts() map[classify.Category]int { return nil }

// Attempt is one unit of work handed to Process.
type Attempt struct {
	Item  store.WorkItem
	Slot  int
	Stats Stats
}
