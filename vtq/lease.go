package vtq

import (
	"context"
	"sync"
	"time"
)

// Lease is an exclusive hold on one named job.
type Lease struct {
	q    *Q
	id   string
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// Acquire publishes id if needed and claims it. It returns nil, nil when
// another holder has it. A held lease is extended in the background every
// third of the visibility until Release.
func (q *Q) Acquire(ctx context.Context, id string) (*Lease, error) {
	if _, err := q.Publish(ctx, id, nil); err != nil {
		return nil, err
	}
	job, err := q.ClaimID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}

	kctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	l := &Lease{q: q, id: id, stop: stop}
	l.wg.Add(1)
	go l.keep(kctx)
	return l, nil
}

func (l *Lease) keep(ctx context.Context) {
	defer l.wg.Done()
	vis := l.q.opts.Visibility
	ticker := time.NewTicker(vis / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.q.Extend(ctx, l.id, vis); err != nil && ctx.Err() == nil {
				l.q.opts.Logger.Warn("vtq: extend lease", "id", l.id, "queue", l.q.opts.Queue, "error", err)
			}
		}
	}
}

// Release stops extending and deletes the job so the next Acquire succeeds.
func (l *Lease) Release(ctx context.Context) error {
	l.stop()
	l.wg.Wait()
	return l.q.Ack(ctx, l.id)
}
