// Package retry turns attempt outcomes into trial increments and evictions.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
)

// Outcome is one id queued for persistence after a non-success attempt.
type Outcome struct {
	ID int64
	// Exhaust spends the whole remaining budget at once. Used for final
	// skips that must never be retried.
	Exhaust bool
}

// Report summarises one flush.
type Report struct {
	Incremented int
	Evicted     int
	Missing     int
}

// Manager owns trial bookkeeping. It is safe for concurrent use as long as
// one id is never flushed from two goroutines at once, which the static
// chunk partition guarantees.
type Manager struct {
	store     *store.Store
	maxTrials int
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a manager. maxTrials <= 0 means 3.
func NewManager(s *store.Store, maxTrials int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTrials <= 0 {
		maxTrials = 3
	}
	return &Manager{store: s, maxTrials: maxTrials, logger: logger, now: time.Now}
}

// MaxTrials returns the trial budget per id.
func (m *Manager) MaxTrials() int { return m.maxTrials }

// Flush records every outcome of batch. Ids are deduplicated first; when an
// id appears more than once, an exhausting outcome wins. A missing row is
// logged and counted, never an error. Store errors for one id do not stop
// the others and are joined in the returned error.
func (m *Manager) Flush(ctx context.Context, batch []Outcome) (Report, error) {
	var rep Report
	if len(batch) == 0 {
		return rep, nil
	}

	order := make([]int64, 0, len(batch))
	exhaust := make(map[int64]bool, len(batch))
	for _, o := range batch {
		prev, seen := exhaust[o.ID]
		if !seen {
			order = append(order, o.ID)
		}
		exhaust[o.ID] = prev || o.Exhaust
	}

	var errs []error
	for _, id := range order {
		evicted, found, err := m.record(ctx, id, exhaust[id])
		switch {
		case err != nil:
			m.logger.Error("retry: record trial", "id", id, "error", err)
			errs = append(errs, err)
		case !found:
			m.logger.Warn("retry: no row found", "id", id)
			rep.Missing++
		default:
			rep.Incremented++
			if evicted {
				rep.Evicted++
			}
		}
	}
	return rep, errors.Join(errs...)
}

func (m *Manager) record(ctx context.Context, id int64, exhaust bool) (evicted, found bool, err error) {
	err = m.store.Tx(ctx, func(tx *store.Tx) error {
		trials, ok, err := tx.PendingTrials(ctx, id)
		if err != nil || !ok {
			return err
		}
		found = true

		next := trials + 1
		if exhaust && next < m.maxTrials {
			next = m.maxTrials
		}
		evicted = next >= m.maxTrials
		return tx.RecordTrial(ctx, store.TrialUpdate{
			ID:     id,
			Trials: next,
			At:     m.now(),
			Final:  evicted,
		})
	})
	if err != nil {
		return false, false, err
	}
	if found {
		if evicted {
			m.logger.Info("retry: evicted", "id", id, "exhausted", exhaust)
		} else {
			m.logger.Debug("retry: trial increased", "id", id)
		}
	}
	return evicted, found, nil
}
