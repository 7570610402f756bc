package vtq

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQ(t *testing.T, opts Options) (*Q, *clock) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	q := New(db, opts)
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	q.now = c.now
	return q, c
}

func TestPublishAndClaim(t *testing.T) {
	q, _ := newQ(t, Options{Visibility: time.Second})
	ctx := context.Background()

	if ok, err := q.Publish(ctx, "j1", []byte("hello")); err != nil || !ok {
		t.Fatalf("publish = %v, %v", ok, err)
	}
	if ok, _ := q.Publish(ctx, "j1", nil); ok {
		t.Fatal("second publish of the same id should be ignored")
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != "j1" || string(job.Payload) != "hello" || job.Attempts != 1 {
		t.Fatalf("job = %+v", job)
	}
	// WHAT: a claimed job is invisible.
	if job2, _ := q.Claim(ctx); job2 != nil {
		t.Fatal("expected nil, job should be invisible")
	}
}

func TestVisibilityTimeout(t *testing.T) {
	q, c := newQ(t, Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	q.Claim(ctx)
	c.advance(80 * time.Millisecond)

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Attempts != 2 {
		t.Fatalf("job should have reappeared on its second attempt, got %+v", job)
	}
}

func TestExtendAndNack(t *testing.T) {
	q, c := newQ(t, Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	job, _ := q.Claim(ctx)
	if err := q.Extend(ctx, job.ID, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.advance(80 * time.Millisecond)
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("job should still be invisible after extend")
	}

	if err := q.Nack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if j, _ := q.Claim(ctx); j == nil {
		t.Fatal("expected job after nack")
	}
}

func TestAck(t *testing.T) {
	q, _ := newQ(t, Options{})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	job, _ := q.Claim(ctx)
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty after ack, got %d", n)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	a := New(db, Options{Queue: "a"})
	b := New(db, Options{Queue: "b"})
	ctx := context.Background()

	a.Publish(ctx, "same", nil)
	b.Publish(ctx, "same", nil)
	if j, _ := a.ClaimID(ctx, "same"); j == nil {
		t.Fatal("queue a should hold its job")
	}
	if j, _ := b.ClaimID(ctx, "same"); j == nil {
		t.Fatal("queue b claim blocked by queue a")
	}
}

func TestLease_Exclusive(t *testing.T) {
	// WHAT: only one holder at a time; release frees the name.
	q, _ := newQ(t, Options{Visibility: time.Minute})
	ctx := context.Background()

	l, err := q.Acquire(ctx, "crawler")
	if err != nil || l == nil {
		t.Fatalf("first acquire = %v, %v", l, err)
	}
	if l2, err := q.Acquire(ctx, "crawler"); err != nil || l2 != nil {
		t.Fatalf("second acquire should be refused, got %v, %v", l2, err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatal(err)
	}
	l3, err := q.Acquire(ctx, "crawler")
	if err != nil || l3 == nil {
		t.Fatalf("acquire after release = %v, %v", l3, err)
	}
	l3.Release(ctx)
}

func TestLease_ExpiresWhenAbandoned(t *testing.T) {
	// WHY: a crashed holder never releases; the lease must come back.
	q, c := newQ(t, Options{Visibility: time.Minute})
	ctx := context.Background()

	q.Publish(ctx, "crawler", nil)
	if j, _ := q.ClaimID(ctx, "crawler"); j == nil {
		t.Fatal("claim failed")
	}
	c.advance(2 * time.Minute)

	l, err := q.Acquire(ctx, "crawler")
	if err != nil || l == nil {
		t.Fatalf("stale lease not reclaimed: %v, %v", l, err)
	}
	l.Release(ctx)
}
