// Package dispatch fans pending work out over a fixed number of slots and
// aggregates the outcomes of a run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/capture"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
)

// Processor runs one attempt. A non-nil error stops the calling chunk.
type Processor interface {
	Process(ctx context.Context, a capture.Attempt) (capture.Result, error)
}

// Dispatcher drives one Processor over a static partition of the work.
type Dispatcher struct {
	proc        Processor
	concurrency int
	maxInFlight int
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxInFlight caps how many attempts run at once across all slots.
// Slots keep their pages open while waiting for a turn. Values <= 0 or
// above the slot count mean one attempt per slot.
func WithMaxInFlight(n int) Option {
	return func(d *Dispatcher) { d.maxInFlight = n }
}

// New creates a dispatcher. concurrency <= 0 means 16.
func New(proc Processor, concurrency int, logger *slog.Logger, opts ...Option) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{proc: proc, concurrency: concurrency, logger: logger}
	for _, o := range opts {
		o(d)
	}
	if d.maxInFlight <= 0 || d.maxInFlight > concurrency {
		d.maxInFlight = concurrency
	}
	return d
}

// Concurrency returns the slot count.
func (d *Dispatcher) Concurrency() int { return d.concurrency }

// MaxInFlight returns the cap on simultaneous attempts.
func (d *Dispatcher) MaxInFlight() int { return d.maxInFlight }

// Partition splits items into at most n contiguous chunks of
// ceil(len(items)/n) items; the last chunk may be shorter.
func Partition(items []store.WorkItem, n int) [][]store.WorkItem {
	if len(items) == 0 || n <= 0 {
		return nil
	}
	size := (len(items) + n - 1) / n
	chunks := make([][]store.WorkItem, 0, n)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Run processes every item and returns the final summary. Chunk failures
// are contained: a stopped chunk is counted in the summary and its siblings
// keep going. The only error returned is ctx's.
func (d *Dispatcher) Run(ctx context.Context, items []store.WorkItem, tally *Tally) (Summary, error) {
	if tally == nil {
		tally = NewTally("", d.logger)
	}
	chunks := Partition(items, d.concurrency)
	sem := semaphore.NewWeighted(int64(d.maxInFlight))
	d.logger.Info("dispatch: run started", "items", len(items), "chunks", len(chunks), "concurrency", d.concurrency, "max_in_flight", d.maxInFlight)

	var g errgroup.Group
	for slot, chunk := range chunks {
		g.Go(func() error {
			return d.runChunk(ctx, sem, slot, chunk, tally)
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("dispatch: run finished with stopped chunks", "first_error", err)
	}

	sum := tally.Snapshot()
	sum.Finished = time.Now()
	d.logger.Info("dispatch: run finished",
		"accessed", sum.Accessed,
		"skipped", sum.Skipped,
		"benign", sum.Benign,
		"errored", sum.Errored,
		"chunks_stopped", sum.ChunksStopped,
		"duration", sum.Finished.Sub(sum.Started))
	return sum, ctx.Err()
}

// runChunk processes one chunk sequentially on its slot.
func (d *Dispatcher) runChunk(ctx context.Context, sem *semaphore.Weighted, slot int, chunk []store.WorkItem, tally *Tally) (err error) {
	done := 0
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: chunk panic", "slot", slot, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("dispatch: chunk %d: panic: %v", slot, r)
		}
		if err != nil {
			tally.stop(len(chunk) - done)
		}
	}()

	for _, item := range chunk {
		res, err := d.attempt(ctx, sem, capture.Attempt{Item: item, Slot: slot, Stats: tally})
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				d.logger.Error("dispatch: chunk stopped", "slot", slot, "remaining", len(chunk)-done, "error", err)
			}
			return fmt.Errorf("dispatch: chunk %d: %w", slot, err)
		}
		tally.Add(res)
		done++
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, sem *semaphore.Weighted, a capture.Attempt) (capture.Result, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return capture.Result{}, err
	}
	defer sem.Release(1)
	return d.proc.Process(ctx, a)
}
