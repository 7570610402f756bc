// Package vtq implements a visibility timeout queue backed by SQLite.
//
// A claimed row stays invisible for the visibility duration. The holder
// acks it when done or extends it while still working; a holder that dies
// simply stops extending and the row becomes claimable again. With one row
// per name this is a lease: the crawler uses it so that only one process
// works a given queue database at a time.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS vtq_jobs (
//	    id          TEXT NOT NULL,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- epoch ms
//	    created_at  INTEGER NOT NULL,             -- epoch ms
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    PRIMARY KEY (queue, id)
//	);
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Schema is the DDL of the queue table.
const Schema = `
CREATE TABLE IF NOT EXISTS vtq_jobs (
	id          TEXT NOT NULL,
	queue       TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (queue, id)
);
CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);
`

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name; several queues share the table.
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 30s.
	Visibility time.Duration
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

// New creates a queue handle. Call EnsureTable once before use.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts, now: time.Now}
}

// EnsureTable creates the table and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Publish inserts a visible job. Publishing an id that already exists is a
// no-op and reports false.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) (bool, error) {
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Claim atomically picks the oldest visible job and hides it for the
// visibility duration. Returns nil, nil when nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	return q.scanOne(q.db.QueryRowContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE queue = ? AND id = (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts`,
		now.Add(q.opts.Visibility).UnixMilli(), q.opts.Queue, q.opts.Queue, now.UnixMilli(),
	))
}

// ClaimID claims the job id if it is visible. Returns nil, nil when the job
// is unknown or currently held.
func (q *Q) ClaimID(ctx context.Context, id string) (*Job, error) {
	now := q.now()
	return q.scanOne(q.db.QueryRowContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE queue = ? AND id = ? AND visible_at <= ?
		RETURNING id, queue, payload, visible_at, created_at, attempts`,
		now.Add(q.opts.Visibility).UnixMilli(), q.opts.Queue, id, now.UnixMilli(),
	))
}

func (q *Q) scanOne(row *sql.Row) (*Job, error) {
	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a finished job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack makes a job visible again immediately.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vtq_jobs SET visible_at = 0 WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Extend hides a held job for another extra duration from now.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vtq_jobs SET visible_at = ? WHERE id = ? AND queue = ?`,
		q.now().Add(extra).UnixMilli(), id, q.opts.Queue,
	)
	return err
}

// Len returns the number of jobs, visible or not.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}
