package alive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/browser/browsertest"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/classify"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/dnsinfo"
	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
	"github.com/moa-lab/phishing-alive-measurement/dbopen"
	"github.com/moa-lab/phishing-alive-measurement/observability"
)

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, d string) *dnsinfo.RecordSet {
	return &dnsinfo.RecordSet{Domain: d}
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type fixture struct {
	svc    *Service
	driver *browsertest.Driver
	notes  *recorder
	out    string
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	if err := store.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	f := &fixture{driver: browsertest.New(), notes: &recorder{}, out: t.TempDir()}
	cfg.OutputDir = f.out
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	svc, err := New(cfg, nil,
		WithStore(store.New(db)),
		WithLauncher(f.driver),
		WithResolver(staticResolver{}),
		WithNotifier(f.notes),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	f.svc = svc
	return f
}

func feedJSON(urls map[int]string) string {
	var parts []string
	for id, u := range urls {
		parts = append(parts, fmt.Sprintf(`{"id":%d,"url":%q,"brand":"Acme","confidence":90,"status":"active",
"discoveredAt":1,"createdAt":1,"updatedAt":1,"ip":[],"asn":[],"metadata":{},"tld":"test"}`, id, u))
	}
	return `{"data":[` + strings.Join(parts, ",") + `]}`
}

func (f *fixture) importFeed(t *testing.T, urls map[int]string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "feed.json"), []byte(feedJSON(urls)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Import(context.Background(), dir); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func TestService_ImportThenRun(t *testing.T) {
	// WHAT: One run over imported feed items yields one outcome per item and
	// updates the queue accordingly.
	// WHY: This is the whole crawl as the CLI drives it.
	f := newFixture(t, &Config{Metrics: true})
	f.driver.On("https://down.test", browsertest.Script{Err: fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at https://down.test")})
	f.importFeed(t, map[int]string{
		1: "https://ok.test",
		2: "https://www.google.com/search",
		3: "https://down.test",
	})

	ctx := context.Background()
	sum, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Accessed != 1 || sum.Benign != 1 || sum.Errored != 1 || sum.Errors[classify.DNS] != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if !strings.HasPrefix(sum.RunID, "run_") {
		t.Fatalf("run id = %q", sum.RunID)
	}

	st, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 2 || st.Running || st.Run == nil || st.Run.RunID != sum.RunID {
		t.Fatalf("stats = %+v", st)
	}
	if st.Heartbeat == nil || st.Heartbeat.WorkerName != HeartbeatWorker || st.Heartbeat.RunID != sum.RunID || st.Heartbeat.ItemsTotal != 3 {
		t.Fatalf("heartbeat = %+v", st.Heartbeat)
	}

	rec, _ := f.svc.Item(ctx, 2)
	if rec == nil || rec.Pending || rec.Trials != 3 {
		t.Fatalf("benign record = %+v", rec)
	}
	rec, _ = f.svc.Item(ctx, 3)
	if rec == nil || !rec.Pending || rec.Trials != 1 || rec.Directory == "" {
		t.Fatalf("error record = %+v", rec)
	}

	got, err := observability.QueryMetrics(ctx, f.svc.Store().DB, observability.Filter{Name: observability.MetricURLsAccessed})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 1 || got[0].Labels["run_id"] != sum.RunID {
		t.Fatalf("metrics = %+v", got)
	}

	notes := f.notes.all()
	if len(notes) != 2 || !strings.HasPrefix(notes[0], "Done. Num: 3") || !strings.Contains(notes[1], "accessed: 1") {
		t.Fatalf("notifications = %q", notes)
	}
}

func TestService_RunEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total() != 0 || f.driver.Launches() != 0 {
		t.Fatalf("summary = %+v, launches = %d", sum, f.driver.Launches())
	}
}

func TestService_RunRefusedWhileLeaseHeld(t *testing.T) {
	// WHAT: a second crawler on the same database does not touch the queue.
	f := newFixture(t, nil)
	f.importFeed(t, map[int]string{1: "https://ok.test"})

	ctx := context.Background()
	other, err := f.svc.leases.Acquire(ctx, leaseName)
	if err != nil || other == nil {
		t.Fatalf("acquire = %v, %v", other, err)
	}
	if _, err := f.svc.Run(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	if n := len(f.driver.Gotos()); n != 0 {
		t.Fatalf("gotos = %d", n)
	}
	other.Release(ctx)

	sum, err := f.svc.Run(ctx)
	if err != nil || sum.Accessed != 1 {
		t.Fatalf("run after release = %+v, %v", sum, err)
	}
}

func TestService_SessionLossKeepsItemsPending(t *testing.T) {
	// WHAT: When Chrome cannot start, nothing is recorded and every item
	// stays pending with its trial count.
	f := newFixture(t, nil)
	f.driver.LaunchErr = fmt.Errorf("chrome not found")
	f.importFeed(t, map[int]string{1: "https://a.test", 2: "https://b.test", 3: "https://c.test"})

	sum, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total() != 0 || sum.Unattempted != 3 || sum.ChunksStopped != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	for id := int64(1); id <= 3; id++ {
		rec, _ := f.svc.Item(context.Background(), id)
		if rec == nil || !rec.Pending || rec.Trials != 0 {
			t.Fatalf("record %d = %+v", id, rec)
		}
	}
}

func TestNew_RequiresDatabase(t *testing.T) {
	if _, err := New(&Config{}, nil); err != ErrNoDatabase {
		t.Fatalf("err = %v, want ErrNoDatabase", err)
	}
}

func TestNew_OpensDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "phishing-alive.db")
	svc, err := New(&Config{Database: path}, nil, WithLauncher(browsertest.New()))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	st, err := svc.Stats(context.Background())
	if err != nil || st.Pending != 0 {
		t.Fatalf("stats = %+v, %v", st, err)
	}
}

func TestNew_AppliesSQLitePragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phishing-alive.db")
	svc, err := New(&Config{Database: path, SQLitePragmas: []string{"synchronous(FULL)"}}, nil, WithLauncher(browsertest.New()))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	var level int
	if err := svc.Store().DB.QueryRow("PRAGMA synchronous").Scan(&level); err != nil {
		t.Fatal(err)
	}
	if level != 2 {
		t.Fatalf("synchronous = %d, want 2 (FULL)", level)
	}
}
