package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Store{DB: db}
}

func seed(t *testing.T, s *Store, id int64, url string, trials int) {
	t.Helper()
	ctx := context.Background()
	err := s.Tx(ctx, func(tx *Tx) error {
		if err := tx.UpsertListing(ctx, Listing{ID: id, URL: url, Brand: "Acme"}); err != nil {
			return err
		}
		return tx.AddPending(ctx, id, url)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if trials > 0 {
		if _, err := s.DB.Exec(`UPDATE apwg_urls_to_check SET trials = ? WHERE apwg_id = ?`, trials, id); err != nil {
			t.Fatalf("seed trials: %v", err)
		}
		if _, err := s.DB.Exec(`UPDATE apwg_all_urls SET trials = ? WHERE apwg_id = ?`, trials, id); err != nil {
			t.Fatalf("seed trials: %v", err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	// WHAT: Running the migration twice leaves one directory column.
	// WHY: Migration runs on every startup against existing databases.
	s := testStore(t)
	if err := Migrate(context.Background(), s.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	has, err := hasColumn(context.Background(), s.DB, "apwg_all_urls", "directory")
	if err != nil || !has {
		t.Fatalf("directory column: has=%v err=%v", has, err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phishing-alive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	n, err := s.CountPending(context.Background(), 3)
	if err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestListPending_FiltersExhausted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 3, "https://c.test", 0)
	seed(t, s, 1, "https://a.test", 2)
	seed(t, s, 2, "https://b.test", 3)

	items, err := s.ListPending(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Trials != 2 || items[0].URL != "https://a.test" {
		t.Fatalf("item[0] = %+v", items[0])
	}

	limited, _ := s.ListPending(ctx, 3, 1)
	if len(limited) != 1 {
		t.Fatalf("limit 1 returned %d", len(limited))
	}
	n, _ := s.CountPending(ctx, 3)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestRecordTrial_Ordinals(t *testing.T) {
	// WHAT: Trial 1 and 2 stamp their ordinal column; the final trial stamps
	// the third, carries the first two into history and evicts.
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 7, "https://x.test", 0)

	t1 := time.UnixMilli(1_000)
	t2 := time.UnixMilli(2_000)
	t3 := time.UnixMilli(3_000)
	for _, u := range []TrialUpdate{
		{ID: 7, Trials: 1, At: t1},
		{ID: 7, Trials: 2, At: t2},
		{ID: 7, Trials: 3, At: t3, Final: true},
	} {
		if err := s.Tx(ctx, func(tx *Tx) error { return tx.RecordTrial(ctx, u) }); err != nil {
			t.Fatalf("record %+v: %v", u, err)
		}
	}

	r, err := s.Get(ctx, 7)
	if err != nil || r == nil {
		t.Fatalf("get: %v %v", r, err)
	}
	if r.Trials != 3 || r.Pending {
		t.Fatalf("record = %+v", r)
	}
	if r.FirstFailure == nil || *r.FirstFailure != 1_000 {
		t.Errorf("first = %v", r.FirstFailure)
	}
	if r.SecondFailure == nil || *r.SecondFailure != 2_000 {
		t.Errorf("second = %v", r.SecondFailure)
	}
	if r.ThirdFailure == nil || *r.ThirdFailure != 3_000 {
		t.Errorf("third = %v", r.ThirdFailure)
	}
	if r.Updated == nil || *r.Updated != 3_000 {
		t.Errorf("updated = %v", r.Updated)
	}
	var pending bool
	if err := s.Tx(ctx, func(tx *Tx) (err error) {
		_, pending, err = tx.PendingTrials(ctx, 7)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if pending {
		t.Fatal("id 7 still pending after final trial")
	}
}

func TestGet_Unknown(t *testing.T) {
	s := testStore(t)
	r, err := s.Get(context.Background(), 404)
	if err != nil || r != nil {
		t.Fatalf("Get(404) = %v, %v", r, err)
	}
}

func TestAddPending_KeepsTrials(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 9, "https://y.test", 2)
	if err := s.Tx(ctx, func(tx *Tx) error { return tx.AddPending(ctx, 9, "https://y.test") }); err != nil {
		t.Fatal(err)
	}
	items, _ := s.ListPending(ctx, 3, 0)
	if len(items) != 1 || items[0].Trials != 2 {
		t.Fatalf("items = %+v", items)
	}
}

func TestLastID_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	var got int64
	err := s.Tx(ctx, func(tx *Tx) error {
		id, err := tx.LastID(ctx)
		if err != nil || id != 0 {
			t.Fatalf("initial last id = %d, %v", id, err)
		}
		if err := tx.SetLastID(ctx, 42); err != nil {
			return err
		}
		if err := tx.SetLastID(ctx, 57); err != nil {
			return err
		}
		got, err = tx.LastID(ctx)
		return err
	})
	if err != nil || got != 57 {
		t.Fatalf("last id = %d, %v", got, err)
	}
}

func TestSetDirectory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 5, "https://z.test", 0)
	if err := s.SetDirectory(ctx, 5, "/out/apwg/0/5-z_test/2026"); err != nil {
		t.Fatal(err)
	}
	r, _ := s.Get(ctx, 5)
	if r.Directory != "/out/apwg/0/5-z_test/2026" || !r.Pending {
		t.Fatalf("record = %+v", r)
	}
}
