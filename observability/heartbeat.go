package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	HeapInuseMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics reads current Go runtime stats (~10µs overhead).
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		HeapInuseMB:     float64(mem.HeapInuse) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// Progress is the position of the run a heartbeat reports on.
type Progress struct {
	RunID string
	Done  int
	Total int
}

// HeartbeatWriter writes periodic liveness beats for a crawl run.
type HeartbeatWriter struct {
	db         *sql.DB
	logger     *slog.Logger
	workerName string
	hostname   string
	workerPID  int
	interval   time.Duration
	progress   func() Progress
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHeartbeatWriter creates a writer. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, logger *slog.Logger) *HeartbeatWriter {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:         db,
		logger:     logger,
		workerName: workerName,
		hostname:   hostname,
		workerPID:  os.Getpid(),
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WithProgress makes every heartbeat carry fn's current value.
func (hw *HeartbeatWriter) WithProgress(fn func() Progress) *HeartbeatWriter {
	hw.progress = fn
	return hw
}

// Start launches the heartbeat goroutine. It writes one heartbeat immediately,
// then repeats at the configured interval until Stop or context cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// WriteHeartbeat writes a single heartbeat row with current runtime metrics.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	var p Progress
	if hw.progress != nil {
		p = hw.progress()
	}
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			run_id, items_done, items_total,
			goroutines_count, memory_alloc_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.workerPID, time.Now().Unix(),
		p.RunID, p.Done, p.Total,
		m.GoroutinesCount, m.MemoryAllocMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

// Stop signals the heartbeat goroutine to exit and waits for it.
// Only valid after Start.
func (hw *HeartbeatWriter) Stop() {
	hw.stopOnce.Do(func() {
		close(hw.stop)
		<-hw.done
	})
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	if err := hw.WriteHeartbeat(ctx); err != nil {
		hw.logger.Error("observability: heartbeat write failed", "error", err, "worker", hw.workerName)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			if err := hw.WriteHeartbeat(ctx); err != nil {
				hw.logger.Error("observability: heartbeat write failed", "error", err, "worker", hw.workerName)
			}
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a worker with a staleness verdict.
type HeartbeatStatus struct {
	WorkerName      string         `json:"worker_name"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Timestamp       time.Time      `json:"timestamp"`
	RunID           string         `json:"run_id,omitempty"`
	ItemsDone       int            `json:"items_done"`
	ItemsTotal      int            `json:"items_total"`
	GoroutinesCount int            `json:"goroutines_count"`
	MemoryAllocMB   float64        `json:"memory_alloc_mb"`
	GCCount         int            `json:"gc_count"`
	Alive           bool           `json:"alive"`
	StaleSince      *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat returns the most recent heartbeat for the given worker.
// Returns nil, nil if no heartbeat has been recorded yet.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       run_id, items_done, items_total,
		       goroutines_count, memory_alloc_mb, gc_count
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, workerName)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.RunID, &hs.ItemsDone, &hs.ItemsTotal,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.GCCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	age := time.Since(hs.Timestamp)
	if age <= stalenessThreshold {
		hs.Alive = true
	} else {
		stale := age - stalenessThreshold
		hs.StaleSince = &stale
	}
	return &hs, nil
}
