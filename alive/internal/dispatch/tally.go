package dispatch

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/capture"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
)

const statsEvery = 100

// Summary is a point-in-time view of a run.
type Summary struct {
	RunID          string                    `json:"run_id,omitempty"`
	Accessed       int64                     `json:"accessed"`
	Skipped        int64                     `json:"skipped"`
	Benign         int64                     `json:"benign"`
	Errored        int64                     `json:"errored"`
	Errors         map[classify.Category]int `json:"errors_by_category"`
	VisitedDomains int                       `json:"visited_domains"`
	ChunksStopped  int64                     `json:"chunks_stopped"`
	Unattempted    int64                     `json:"unattempted"`
	Started        time.Time                 `json:"started"`
	Finished       time.Time                 `json:"finished,omitzero"`
}

// Total returns the number of attempts that reached an outcome.
func (s Summary) Total() int64 { return s.Accessed + s.Skipped + s.Benign + s.Errored }

// Tally aggregates outcomes of one run. Counters are atomic; the category
// map and the visited set share one mutex.
type Tally struct {
	runID   string
	started time.Time
	logger  *slog.Logger

	accessed, skipped, benign, errored atomic.Int64
	stopped, unattempted               atomic.Int64

	mu      sync.Mutex
	errs    map[classify.Category]int
	visited map[string]struct{}
}

// NewTally starts an empty tally.
func NewTally(runID string, logger *slog.Logger) *Tally {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tally{
		runID:   runID,
		started: time.Now(),
		logger:  logger,
		errs:    make(map[classify.Category]int),
		visited: make(map[string]struct{}),
	}
}

// Add counts one outcome.
func (t *Tally) Add(r capture.Result) {
	switch {
	case r.Kind == capture.KindSuccess:
		t.accessed.Add(1)
	case r.Benign():
		t.benign.Add(1)
	case r.Kind == capture.KindSkipped:
		t.skipped.Add(1)
	case r.Kind == capture.KindError:
		n := t.errored.Add(1)
		t.mu.Lock()
		t.errs[r.Category]++
		t.mu.Unlock()
		if n%statsEvery == 0 {
			t.logStats(n)
		}
	}
}

func (t *Tally) logStats(total int64) {
	counts := t.ErrorCounts()
	attrs := make([]any, 0, 2*len(classify.Categories)+2)
	attrs = append(attrs, "total", total)
	for _, c := range classify.Categories {
		attrs = append(attrs, strings.ToLower(string(c)), counts[c])
	}
	t.logger.Info("dispatch: error statistics", attrs...)
}

func (t *Tally) stop(remaining int) {
	t.stopped.Add(1)
	t.unattempted.Add(int64(remaining))
}

// Visit records the registrable domain of host ("a.b.example.co.uk:8443" is
// "example.co.uk"). Hosts without a public suffix are kept as given.
func (t *Tally) Visit(host string) {
	key := registrable(host)
	if key == "" {
		return
	}
	t.mu.Lock()
	t.visited[key] = struct{}{}
	t.mu.Unlock()
}

func registrable(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if hp, _, err := net.SplitHostPort(h); err == nil {
		h = hp
	}
	h = strings.Trim(h, "[].")
	if h == "" {
		return ""
	}
	if net.ParseIP(h) != nil {
		return h
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(h); err == nil {
		return d
	}
	return h
}

// VisitedCount returns the number of distinct registrable domains seen.
func (t *Tally) VisitedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visited)
}

// ErrorCounts returns a copy of the per-category error counts.
func (t *Tally) ErrorCounts() map[classify.Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[classify.Category]int, len(t.errs))
	for k, v := range t.errs {
		out[k] = v
	}
	return out
}

// Snapshot returns the current summary.
func (t *Tally) Snapshot() Summary {
	return Summary{
		RunID:          t.runID,
		Accessed:       t.accessed.Load(),
		Skipped:        t.skipped.Load(),
		Benign:         t.benign.Load(),
		Errored:        t.errored.Load(),
		Errors:         t.ErrorCounts(),
		VisitedDomains: t.VisitedCount(),
		ChunksStopped:  t.stopped.Load(),
		Unattempted:    t.unattempted.Load(),
		Started:        t.started,
	}
}
