// Package observability persists crawl run metrics and process heartbeats to
// SQLite so a run can be inspected after the fact without an external stack.
//
// Call Init on the *sql.DB first, then pass it to the constructors.
// Persistence is async: metrics are buffered and flushed in batches.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"` // e.g. "crawl_urls_accessed"
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"` // run_id, category
	Unit      string            `json:"unit,omitempty"`   // "count", "milliseconds"
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMetricsManager creates a manager that flushes metrics in batches.
// Recommended defaults: bufferSize=100, flushInterval=5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric for async persistence. Non-blocking.
func (mm *MetricsManager) Record(m *Metric) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// RecordCount records a count-unit metric with the given labels at time.Now().
func (mm *MetricsManager) RecordCount(name string, value float64, labels map[string]string) {
	mm.Record(&Metric{
		Name:      name,
		Timestamp: time.Now(),
		Value:     value,
		Labels:    labels,
		Unit:      "count",
	})
}

// Filter selects metrics. Zero fields do not filter.
type Filter struct {
	Name  string
	RunID string // matches the run_id label
	Since time.Time
	Until time.Time
	Limit int
}

// QueryMetrics returns the metrics matching f, newest first.
func QueryMetrics(ctx context.Context, db *sql.DB, f Filter) ([]*Metric, error) {
	var where []string
	var args []any
	if f.Name != "" {
		where = append(where, "metric_name = ?")
		args = append(args, f.Name)
	}
	if f.RunID != "" {
		where = append(where, "json_extract(labels, '$.run_id') = ?")
		args = append(args, f.RunID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	out := []*Metric{}
	for rows.Next() {
		var (
			m          Metric
			ts         int64
			unit       sql.NullString
			labelsJSON sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labelsJSON.Valid {
			json.Unmarshal([]byte(labelsJSON.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Flush writes the current buffer synchronously.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Close flushes remaining metrics and stops the background goroutine.
// Safe to call more than once.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range mm.buffer {
			var labels sql.NullString
			if len(m.Labels) > 0 {
				b, _ := json.Marshal(m.Labels)
				labels = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		mm.logger.Error("observability: metrics flush dropped batch", "error", err, "count", len(mm.buffer))
	}
	mm.buffer = mm.buffer[:0]
}

// Crawl metric names.
const (
	MetricURLsProcessed  = "crawl_urls_processed"
	MetricURLsAccessed   = "crawl_urls_accessed"
	MetricURLsSkipped    = "crawl_urls_skipped"
	MetricURLsErrored    = "crawl_urls_errored"
	MetricURLsBenign     = "crawl_urls_benign"
	MetricErrorsCategory = "crawl_errors_by_category"
	MetricRunDurationMs  = "crawl_run_duration_ms"
)
