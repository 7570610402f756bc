package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

// WorkItem is one pending URL as read at dispatch time.
type WorkItem struct {
	ID     int64  `json:"id"`
	URL    string `json:"url"`
	Trials int    `json:"trials"`
}

// TrialRecord is the history row of one URL.
type TrialRecord struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	Brand         string `json:"brand,omitempty"`
	Trials        int    `json:"trials"`
	FirstFailure  *int64 `json:"first_failure_ts,omitempty"`
	SecondFailure *int64 `json:"second_failure_ts,omitempty"`
	ThirdFailure  *int64 `json:"third_failure_ts,omitempty"`
	Updated       *int64 `json:"updated_ts,omitempty"`
	Directory     string `json:"directory,omitempty"`
	Pending       bool   `json:"pending"`
}

// ListPending returns pending items with fewer than maxTrials trials,
// ordered by id. limit <= 0 means no limit.
func (s *Store) ListPending(ctx context.Context, maxTrials, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT apwg_id, COALESCE(apwg_url, ''), COALESCE(trials, 0)
		FROM apwg_urls_to_check
		WHERE COALESCE(trials, 0) < ?
		ORDER BY apwg_id
		LIMIT ?`, maxTrials, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var it WorkItem
		if err := rows.Scan(&it.ID, &it.URL, &it.Trials); err != nil {
			return nil, fmt.Errorf("store: list pending: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountPending returns the number of items ListPending would return.
func (s *Store) CountPending(ctx context.Context, maxTrials int) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM apwg_urls_to_check WHERE COALESCE(trials, 0) < ?`, maxTrials).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count pending: %w", err)
	}
	return n, nil
}

// Get returns the trial record of id, or nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*TrialRecord, error) {
	r := &TrialRecord{}
	var first, second, third, updated sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT a.apwg_id, COALESCE(a.url, ''), COALESCE(a.brand, ''),
		       COALESCE(p.trials, a.trials, 0),
		       COALESCE(a.first_failure_timestamp, p.first_failure_timestamp),
		       COALESCE(a.second_failure_timestamp, p.second_failure_timestamp),
		       a.third_failure_timestamp, a.updated_timestamp,
		       COALESCE(a.directory, ''), p.apwg_id IS NOT NULL
		FROM apwg_all_urls a
		LEFT JOIN apwg_urls_to_check p ON p.apwg_id = a.apwg_id
		WHERE a.apwg_id = ?`, id).Scan(
		&r.ID, &r.URL, &r.Brand, &r.Trials,
		&first, &second, &third, &updated,
		&r.Directory, &r.Pending,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %d: %w", id, err)
	}
	r.FirstFailure = nullInt(first)
	r.SecondFailure = nullInt(second)
	r.ThirdFailure = nullInt(third)
	r.Updated = nullInt(updated)
	return r, nil
}

// SetDirectory records the latest output directory of id.
func (s *Store) SetDirectory(ctx context.Context, id int64, dir string) error {
	_, err := dbopen.Exec(ctx, s.DB, `UPDATE apwg_all_urls SET directory = ? WHERE apwg_id = ?`, dir, id)
	if err != nil {
		return fmt.Errorf("store: set directory %d: %w", id, err)
	}
	return nil
}

// PendingTrials reads the trial count of a pending id. ok is false when the
// id is not pending.
func (t *Tx) PendingTrials(ctx context.Context, id int64) (trials int, ok bool, err error) {
	err = t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(trials, 0) FROM apwg_urls_to_check WHERE apwg_id = ?`, id).Scan(&trials)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: pending trials %d: %w", id, err)
	}
	return trials, true, nil
}

// TrialUpdate is one trial increment.
type TrialUpdate struct {
	ID     int64
	Trials int
	At     time.Time
	// Final writes the third failure timestamp, carries the earlier two into
	// the history row and evicts the id from the pending set.
	Final bool
}

// RecordTrial applies u to both tables. Trials 1 and 2 set the matching
// ordinal timestamp; other non-final counts only move the counter.
func (t *Tx) RecordTrial(ctx context.Context, u TrialUpdate) error {
	at := u.At.UnixMilli()

	if u.Final {
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE apwg_all_urls SET
				trials = ?,
				updated_timestamp = ?,
				first_failure_timestamp = COALESCE(
					(SELECT first_failure_timestamp FROM apwg_urls_to_check WHERE apwg_id = ?),
					first_failure_timestamp),
				second_failure_timestamp = COALESCE(
					(SELECT second_failure_timestamp FROM apwg_urls_to_check WHERE apwg_id = ?),
					second_failure_timestamp),
				third_failure_timestamp = ?
			WHERE apwg_id = ?`,
			u.Trials, at, u.ID, u.ID, at, u.ID); err != nil {
			return fmt.Errorf("store: record final trial %d: %w", u.ID, err)
		}
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM apwg_urls_to_check WHERE apwg_id = ?`, u.ID); err != nil {
			return fmt.Errorf("store: evict %d: %w", u.ID, err)
		}
		return nil
	}

	var column string
	switch u.Trials {
	case 1:
		column = "first_failure_timestamp"
	case 2:
		column = "second_failure_timestamp"
	}

	pendingSQL := `UPDATE apwg_urls_to_check SET trials = ? WHERE apwg_id = ?`
	historySQL := `UPDATE apwg_all_urls SET trials = ?, updated_timestamp = ? WHERE apwg_id = ?`
	pendingArgs := []any{u.Trials, u.ID}
	historyArgs := []any{u.Trials, at, u.ID}
	if column != "" {
		pendingSQL = `UPDATE apwg_urls_to_check SET trials = ?, ` + column + ` = ? WHERE apwg_id = ?`
		historySQL = `UPDATE apwg_all_urls SET trials = ?, updated_timestamp = ?, ` + column + ` = ? WHERE apwg_id = ?`
		pendingArgs = []any{u.Trials, at, u.ID}
		historyArgs = []any{u.Trials, at, at, u.ID}
	}
	if _, err := t.tx.ExecContext(ctx, pendingSQL, pendingArgs...); err != nil {
		return fmt.Errorf("store: record trial %d: %w", u.ID, err)
	}
	if _, err := t.tx.ExecContext(ctx, historySQL, historyArgs...); err != nil {
		return fmt.Errorf("store: record trial history %d: %w", u.ID, err)
	}
	return nil
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
