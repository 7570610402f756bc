package observability

import (
	"context"
	"database/sql"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

// Schema holds the monitoring tables. They share the queue database, so a
// status reader sees the heartbeat of whichever process is crawling it.
const Schema = `
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    items_done INTEGER NOT NULL DEFAULT 0,
    items_total INTEGER NOT NULL DEFAULT 0,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    gc_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
`

// Init creates the monitoring tables, retrying while the database is busy.
func Init(ctx context.Context, db *sql.DB) error {
	_, err := dbopen.Exec(ctx, db, Schema)
	return err
}
