package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"newsdigest/internal/config"
	"newsdigest/internal/db"
	"newsdigest/internal/model"
	"newsdigest/internal/normalize"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "news.db")}
	database, _, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(openRaw(t), db.SQLite, nil)
	if err := s.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return s
}

func mustRecord(t *testing.T, raw model.RawArticle) normalize.ArticleInput {
	t.Helper()
	in, err := normalize.Record(raw)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return in
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPrepareIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		if err := s.Prepare(context.Background()); err != nil {
			t.Fatalf("Prepare #%d: %v", i+2, err)
		}
	}
}

func TestUpsertArticleOverwritesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{
		Category: model.StringPtr("Stock"),
		Title:    model.StringPtr("Market Rally"),
		Link:     model.StringPtr("https://example.com/a"),
		Content:  model.StringPtr("old body"),
	}))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !first.Created || first.ID == 0 {
		t.Fatalf("first = %+v, want created with id", first)
	}

	second, err := s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{
		Category: model.StringPtr("Markets"),
		Title:    model.StringPtr("  market   RALLY "),
		Link:     model.StringPtr("HTTPS://EXAMPLE.COM/a "),
		ImageURL: model.StringPtr("https://example.com/a.jpg"),
		Content:  model.StringPtr("new body"),
	}))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Created || second.ID != first.ID {
		t.Fatalf("second = %+v, want update of id %d", second, first.ID)
	}
	if n := countRows(t, s, "articles"); n != 1 {
		t.Fatalf("articles = %d, want 1", n)
	}

	got, err := s.GetArticle(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Market Rally" {
		t.Errorf("title changed to %q", got.Title)
	}
	if model.StringValue(got.Category) != "Markets" || model.StringValue(got.Content) != "new body" {
		t.Errorf("fields not overwritten: %+v", got)
	}
	if model.StringValue(got.ImageURL) != "https://example.com/a.jpg" {
		t.Errorf("image_url = %v", got.ImageURL)
	}
}

func TestNilLinkSharesKeyAcrossUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{Title: model.StringPtr("No Link")})); err != nil {
			t.Fatal(err)
		}
	}
	if n := countRows(t, s, "articles"); n != 1 {
		t.Fatalf("articles = %d, want 1", n)
	}
	list, err := s.ListArticles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].Link != nil || list[0].Category != nil {
		t.Fatalf("nil fields should stay nil: %+v", list[0])
	}
}

func TestPrepareCollapsesLegacyDuplicates(t *testing.T) {
	raw := openRaw(t)
	ctx := context.Background()
	if _, err := raw.Exec(`CREATE TABLE articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		link TEXT,
		image_url TEXT,
		content TEXT
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`CREATE TABLE summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		news_id INTEGER NOT NULL REFERENCES articles (id) ON DELETE CASCADE,
		summary_text TEXT
	)`); err != nil {
		t.Fatal(err)
	}
	rows := []struct {
		id          int64
		title, link string
	}{
		{5, "Budget Passed", "https://x.test/b"},
		{2, " budget passed ", "HTTPS://X.TEST/B"},
		{9, "BUDGET PASSED", "https://x.test/b  "},
		{11, "Other", "https://x.test/o"},
	}
	for _, r := range rows {
		if _, err := raw.Exec(`INSERT INTO articles (id, title, link) VALUES (?, ?, ?)`, r.id, r.title, r.link); err != nil {
			t.Fatal(err)
		}
	}
	for _, text := range []string{"older", "newer"} {
		if _, err := raw.Exec(`INSERT INTO summaries (news_id, summary_text) VALUES (11, ?)`, text); err != nil {
			t.Fatal(err)
		}
	}

	s := New(raw, db.SQLite, nil)
	if err := s.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	list, err := s.ListArticles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != 11 || list[1].ID != 2 {
		t.Fatalf("surviving ids = %+v, want [11 2]", list)
	}
	sum, err := s.GetSummaryByArticle(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if sum.SummaryText != "newer" {
		t.Fatalf("kept summary %q, want newer", sum.SummaryText)
	}

	removed, err := s.DeduplicateArticles(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("second dedup removed %d (err=%v)", removed, err)
	}

	_, err = s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{
		Title: model.StringPtr("Budget passed"),
		Link:  model.StringPtr("https://x.test/b"),
	}))
	if err != nil {
		t.Fatalf("upsert after migration: %v", err)
	}
	if n := countRows(t, s, "articles"); n != 2 {
		t.Fatalf("articles = %d, want 2", n)
	}
}

func TestPrepareAdoptsLegacyTable(t *testing.T) {
	raw := openRaw(t)
	ctx := context.Background()
	if _, err := raw.Exec(`CREATE TABLE news_ta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT,
		title TEXT NOT NULL,
		link TEXT,
		image_url TEXT,
		content TEXT
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`CREATE TABLE summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		news_id INTEGER NOT NULL REFERENCES news_ta (id) ON DELETE CASCADE,
		summary_text TEXT
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`INSERT INTO news_ta (id, category, title, link, content) VALUES (4, 'Stock', 'Shares Climb', 'https://x.test/s', 'Up.')`); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`INSERT INTO summaries (news_id, summary_text) VALUES (4, '- up')`); err != nil {
		t.Fatal(err)
	}

	s := New(raw, db.SQLite, nil)
	if err := s.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	art, err := s.GetArticle(ctx, 4)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if art.Title != "Shares Climb" || model.StringValue(art.Category) != "Stock" {
		t.Fatalf("article = %+v", art)
	}
	if sum, err := s.GetSummaryByArticle(ctx, 4); err != nil || sum.SummaryText != "- up" {
		t.Fatalf("summary = %+v (err=%v)", sum, err)
	}

	res, err := s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{
		Title: model.StringPtr("shares climb"),
		Link:  model.StringPtr("https://x.test/s"),
	}))
	if err != nil || res.ID != 4 || res.Created {
		t.Fatalf("upsert = %+v (err=%v), want existing id 4", res, err)
	}

	if err := s.DeleteArticle(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, s, "summaries"); n != 0 {
		t.Fatalf("summaries = %d, want cascade after rename", n)
	}
}

func TestSummaryUpsertAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	art, err := s.UpsertArticle(ctx, mustRecord(t, model.RawArticle{
		Title:   model.StringPtr("Rates Hold"),
		Content: model.StringPtr("The central bank held rates."),
	}))
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.UpsertSummary(ctx, art.ID, "- held")
	if err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}
	if first.ID == 0 || first.NewsID != art.ID || first.SummaryText != "- held" {
		t.Fatalf("first summary = %+v", first)
	}
	second, err := s.UpsertSummary(ctx, art.ID, "- held again")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.SummaryText != "- held again" {
		t.Fatalf("second summary = %+v, want id %d overwritten", second, first.ID)
	}
	if n := countRows(t, s, "summaries"); n != 1 {
		t.Fatalf("summaries = %d, want 1", n)
	}
	got, err := s.GetSummary(ctx, first.ID)
	if err != nil || got != second {
		t.Fatalf("GetSummary = %+v (err=%v)", got, err)
	}

	if err := s.DeleteArticle(ctx, art.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSummary(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("summary should cascade away, err=%v", err)
	}
}

func TestSummaryRequiresArticle(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertSummary(context.Background(), 404, "x"); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GetArticle(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetArticle err = %v", err)
	}
	if _, err := s.GetSummary(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSummary err = %v", err)
	}
	if err := s.DeleteArticle(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteArticle err = %v", err)
	}
}

func TestListArticlesByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, raw := range []model.RawArticle{
		{Category: model.StringPtr("Stock"), Title: model.StringPtr("A")},
		{Category: model.StringPtr("Economy"), Title: model.StringPtr("B")},
		{Category: model.StringPtr("Stock"), Title: model.StringPtr("C")},
	} {
		if _, err := s.UpsertArticle(ctx, mustRecord(t, raw)); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListArticlesByCategory(ctx, "Stock")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Title != "C" || list[1].Title != "A" {
		t.Fatalf("list = %+v", list)
	}
}
