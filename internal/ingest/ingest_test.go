package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"newsdigest/internal/config"
	"newsdigest/internal/db"
	"newsdigest/internal/lock"
	"newsdigest/internal/store"
)

const page = `<!doctype html>
<html><body>
<div id="__layout"><div><main>
  <article>
    <a href="/stock/alpha">Stock</a>
    <h2> Alpha Shares Rise </h2>
    <img src="/img/alpha.jpg">
    <p>Alpha shares rose
       sharply today.</p>
  </article>
  <article>
    <a href="/economy/beta">Economy</a>
    <h3>Beta Budget</h3>
    <p>Budget details.</p>
  </article>
  <article>
    <p>No heading here.</p>
  </article>
  <article>
    <a href="/stock/alpha">Stock</a>
    <h2>alpha shares rise</h2>
    <p>Repeated in another block.</p>
  </article>
</main></div></div>
</body></html>`

type fixture struct {
	svc   *Service
	store *store.Store
	srv   *httptest.Server
	mu    sync.Mutex
	body  string
	code  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{body: page, code: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.WriteHeader(f.code)
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(f.srv.Close)

	ctx := context.Background()
	database, dialect, err := db.Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "ingest.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close() })
	f.store = store.New(database, dialect, nil)
	if err := f.store.Prepare(ctx); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Source.URL = f.srv.URL + "/page/stock"
	cfg.Source.FetchTimeoutSec = 5
	f.svc = New(cfg, f.store, lock.NewLocal(), nil, nil)
	return f
}

func (f *fixture) serve(code int, body string) {
	f.mu.Lock()
	f.code, f.body = code, body
	f.mu.Unlock()
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if !first.ContainerFound || first.Extracted != 4 {
		t.Fatalf("first report = %+v", first)
	}
	if first.Created != 2 || first.Updated != 1 || first.Skipped != 1 || first.Failed != 0 {
		t.Fatalf("first counts created=%d updated=%d skipped=%d failed=%d",
			first.Created, first.Updated, first.Skipped, first.Failed)
	}
	if first.Items[2].Outcome != OutcomeSkipped || first.Items[2].Reason == "" {
		t.Fatalf("item 2 = %+v", first.Items[2])
	}
	if first.Items[3].ID != first.Items[0].ID {
		t.Fatalf("repeated block should update id %d, got %+v", first.Items[0].ID, first.Items[3])
	}

	articles, err := f.store.ListArticles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 2 {
		t.Fatalf("articles = %d, want 2", len(articles))
	}

	second, err := f.svc.Ingest(ctx)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.Created != 0 || second.Updated != 3 || second.Deduplicated != 0 {
		t.Fatalf("second report = %+v", second)
	}
	if second.RunID == first.RunID {
		t.Fatal("run ids should differ")
	}
	again, err := f.store.ListArticles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 2 {
		t.Fatalf("articles after second run = %d, want 2", len(again))
	}

	alpha, err := f.store.GetArticle(ctx, first.Items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if alpha.Title != "Alpha Shares Rise" {
		t.Errorf("title = %q", alpha.Title)
	}
	if got := *alpha.Content; got != "Repeated in another block." {
		t.Errorf("content = %q, want the last block's body", got)
	}
	if f.svc.LastReport() != second {
		t.Error("LastReport should be the latest run")
	}
}

func TestIngestFetchError(t *testing.T) {
	f := newFixture(t)
	f.serve(http.StatusBadGateway, "upstream down")

	rep, err := f.svc.Ingest(context.Background())
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if rep == nil || rep.FetchError == "" || len(rep.Errors) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if msg, _ := f.svc.LastProgress(); !strings.Contains(msg, "fetch failed") {
		t.Errorf("last progress = %q", msg)
	}
}

func TestIngestContainerMissing(t *testing.T) {
	f := newFixture(t)
	f.serve(http.StatusOK, `<html><body><article><h2>Outside</h2></article></body></html>`)

	rep, err := f.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.ContainerFound || rep.Extracted != 0 || len(rep.Items) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestIngestRespectsLock(t *testing.T) {
	f := newFixture(t)
	l := lock.NewLocal()
	f.svc.locker = l
	unlock, err := l.Lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := f.svc.Ingest(context.Background()); !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if f.svc.LastReport() != nil {
		t.Fatal("a locked-out run must not replace the last report")
	}
}

type memArchive struct {
	keys []string
}

func (m *memArchive) Put(_ context.Context, key string, body []byte, _ string) error {
	if len(body) == 0 {
		return errors.New("empty body")
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *memArchive) Enabled() bool { return true }

func TestIngestArchivesSnapshot(t *testing.T) {
	f := newFixture(t)
	arch := &memArchive{}
	f.svc.archive = arch
	f.svc.prefix = "snapshots"

	rep, err := f.svc.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(arch.keys) != 1 || arch.keys[0] != rep.SnapshotKey {
		t.Fatalf("archived %v, report key %q", arch.keys, rep.SnapshotKey)
	}
	if !strings.HasPrefix(rep.SnapshotKey, "snapshots/") || !strings.HasSuffix(rep.SnapshotKey, rep.RunID+".html") {
		t.Fatalf("snapshot key = %q", rep.SnapshotKey)
	}
}
