package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errPoolClosed = errors.New("pool closed")

// slot is one worker position. Only the chunk that owns the slot index
// touches its page, so the page itself needs no locking.
type slot struct {
	page  Page
	busy  bool
	pages int // pages created over the run
}

// Pool owns the single session of a run and one reusable page per slot.
type Pool struct {
	launcher Launcher
	viewport Viewport
	logger   *slog.Logger

	mu        sync.Mutex
	session   Session
	launched  bool
	launchErr error
	slots     []slot
}

// NewPool creates a pool of n slots. The session is launched on the first
// Acquire.
func NewPool(l Launcher, n int, vp Viewport, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if n <= 0 {
		n = 1
	}
	return &Pool{launcher: l, viewport: vp, logger: logger, slots: make([]slot, n)}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return len(p.slots) }

// Session returns the shared session, launching it once. A failed launch is
// remembered and every later call returns ErrSessionUnavailable.
func (p *Pool) Session(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionLocked(ctx)
}

func (p *Pool) sessionLocked(ctx context.Context) (Session, error) {
	if !p.launched {
		p.launched = true
		s, err := p.launcher.Launch(ctx)
		if err != nil {
			p.launchErr = err
			p.logger.Error("pool: launch failed", "error", err)
		} else {
			p.session = s
			p.logger.Info("pool: launched session", "slots", len(p.slots))
		}
	}
	if p.launchErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, p.launchErr)
	}
	return p.session, nil
}

// Acquire returns the page of slot i, creating it when the slot is empty.
// ErrSessionUnavailable is returned when the session is gone. The pool lock
// is not held across the connectivity check or page creation, so slots
// acquire in parallel.
func (p *Pool) Acquire(ctx context.Context, i int) (Page, error) {
	p.mu.Lock()
	if i < 0 || i >= len(p.slots) {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: slot %d out of range [0,%d)", i, len(p.slots))
	}
	sl := &p.slots[i]
	if sl.busy {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: slot %d already in use", i)
	}
	s, err := p.sessionLocked(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	sl.busy = true
	pg := sl.page
	p.mu.Unlock()

	if !s.IsConnected() {
		p.Release(i)
		return nil, fmt.Errorf("%w: disconnected", ErrSessionUnavailable)
	}
	if pg != nil {
		return pg, nil
	}

	pg, err = s.NewPage(ctx, p.viewport)
	if err != nil {
		p.Release(i)
		return nil, fmt.Errorf("pool: slot %d: %w", i, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchErr != nil {
		// Closed while the page was being created.
		sl.busy = false
		pg.Close()
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, p.launchErr)
	}
	sl.page = pg
	sl.pages++
	p.logger.Debug("pool: new page", "slot", i, "pages_created", sl.pages)
	return pg, nil
}

// Release hands slot i back. The page stays for the next URL of the slot.
func (p *Pool) Release(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= 0 && i < len(p.slots) {
		p.slots[i].busy = false
	}
}

// Discard closes and evicts the page of slot i after a fatal page error.
// The next Acquire on the slot gets a fresh page.
func (p *Pool) Discard(i int) {
	p.mu.Lock()
	var pg Page
	if i >= 0 && i < len(p.slots) {
		pg = p.slots[i].page
		p.slots[i].page = nil
		p.slots[i].busy = false
	}
	p.mu.Unlock()

	if pg != nil {
		if err := pg.Close(); err != nil {
			p.logger.Debug("pool: close discarded page", "slot", i, "error", err)
		}
		p.logger.Info("pool: page evicted", "slot", i)
	}
}

// PagesCreated returns how many pages slot i has created so far.
func (p *Pool) PagesCreated(i int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.slots) {
		return 0
	}
	return p.slots[i].pages
}

// Close closes every page and the session. Later Acquires fail with
// ErrSessionUnavailable.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launched = true
	p.launchErr = errPoolClosed
	for i := range p.slots {
		if p.slots[i].page != nil {
			p.slots[i].page.Close()
			p.slots[i].page = nil
		}
	}
	if p.session != nil {
		err := p.session.Close()
		p.session = nil
		return err
	}
	return nil
}
