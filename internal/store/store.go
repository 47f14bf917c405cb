package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"newsdigest/internal/db"
	"newsdigest/internal/model"
	"newsdigest/internal/normalize"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db      *sql.DB
	dialect db.Dialect
	log     *zap.Logger
}

type UpsertResult struct {
	ID      int64
	Created bool
}

func New(database *sql.DB, dialect db.Dialect, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: database, dialect: dialect, log: log}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Prepare brings any existing database up to the current schema: the legacy
// table rename, tables,
// optional columns, natural keys for legacy rows, duplicate collapse, and
// finally the unique indexes. Safe to run on every start.
func (s *Store) Prepare(ctx context.Context) error {
	adopted, err := db.AdoptLegacyTable(ctx, s.db, s.dialect)
	if err != nil {
		return fmt.Errorf("adopt %s: %w", db.LegacyArticlesTable, err)
	}
	if adopted {
		s.log.Info("legacy article table renamed", zap.String("from", db.LegacyArticlesTable))
	}
	if err := db.InitializeSchema(ctx, s.db, s.dialect); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	added, err := db.MigrateSchema(ctx, s.db, s.dialect)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if len(added) > 0 {
		s.log.Info("schema columns added", zap.Strings("columns", added))
	}
	keyed, err := s.backfillNaturalKeys(ctx)
	if err != nil {
		return fmt.Errorf("backfill natural keys: %w", err)
	}
	if keyed > 0 {
		s.log.Info("natural keys backfilled", zap.Int("rows", keyed))
	}
	removed, err := s.DeduplicateArticles(ctx)
	if err != nil {
		return fmt.Errorf("deduplicate articles: %w", err)
	}
	if removed > 0 {
		s.log.Info("duplicate articles removed", zap.Int64("rows", removed))
	}
	collapsed, err := s.collapseDuplicateSummaries(ctx)
	if err != nil {
		return fmt.Errorf("collapse summaries: %w", err)
	}
	if collapsed > 0 {
		s.log.Info("duplicate summaries removed", zap.Int64("rows", collapsed))
	}
	if err := db.EnsureConstraints(ctx, s.db, s.dialect); err != nil {
		return err
	}
	return nil
}

func (s *Store) backfillNaturalKeys(ctx context.Context) (int, error) {
	type pending struct {
		id    int64
		title string
		link  sql.NullString
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, link FROM articles WHERE title_key = '' OR link_key = ''`)
	if err != nil {
		return 0, err
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.title, &p.link); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(todo) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE articles SET title_key = ?, link_key = ? WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, p := range todo {
		titleKey, linkKey := normalize.NaturalKey(p.title, nullToPtr(p.link))
		if _, err := stmt.ExecContext(ctx, titleKey, linkKey, p.id); err != nil {
			return 0, err
		}
	}
	return len(todo), tx.Commit()
}

const (
	upsertArticleMySQL = `
		INSERT INTO articles (category, title, link, image_url, content, title_key, link_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			category = VALUES(category),
			link = VALUES(link),
			image_url = VALUES(image_url),
			content = VALUES(content)`
	upsertArticleSQLite = `
		INSERT INTO articles (category, title, link, image_url, content, title_key, link_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (title_key, link_key) DO UPDATE SET
			category = excluded.category,
			link = excluded.link,
			image_url = excluded.image_url,
			content = excluded.content`
)

// UpsertArticle inserts the record, or overwrites category, link, image_url
// and content of the row that already holds its natural key. The id of an
// existing row never changes.
func (s *Store) UpsertArticle(ctx context.Context, in normalize.ArticleInput) (UpsertResult, error) {
	if in.TitleKey == "" || in.LinkKey == "" {
		in.TitleKey, in.LinkKey = normalize.NaturalKey(in.Title, in.Link)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	var res UpsertResult
	err = tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE title_key = ? AND link_key = ?`, in.TitleKey, in.LinkKey).Scan(&res.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res.Created = true
	case err != nil:
		return UpsertResult{}, err
	}

	query := upsertArticleSQLite
	if s.dialect == db.MySQL {
		query = upsertArticleMySQL
	}
	if _, err := tx.ExecContext(ctx, query,
		nullable(in.Category), in.Title, nullable(in.Link), nullable(in.ImageURL), nullable(in.Content),
		in.TitleKey, in.LinkKey); err != nil {
		return UpsertResult{}, err
	}
	if res.Created {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE title_key = ? AND link_key = ?`, in.TitleKey, in.LinkKey).Scan(&res.ID); err != nil {
			return UpsertResult{}, err
		}
	}
	return res, tx.Commit()
}

// DeduplicateArticles keeps the smallest id of every natural-key group and
// deletes the rest. Run it only after a batch of upserts has finished.
func (s *Store) DeduplicateArticles(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM articles
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT MIN(id) AS id
				FROM articles
				GROUP BY title_key, link_key
			) AS keep
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// collapseDuplicateSummaries keeps the newest summary per article. Older
// schemas had no unique index on news_id.
func (s *Store) collapseDuplicateSummaries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM summaries
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT MAX(id) AS id
				FROM summaries
				GROUP BY news_id
			) AS keep
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const articleColumns = `id, category, title, link, image_url, content`

func (s *Store) ListArticles(ctx context.Context) ([]model.Article, error) {
	return s.queryArticles(ctx, `SELECT `+articleColumns+` FROM articles ORDER BY id DESC`)
}

func (s *Store) ListArticlesByCategory(ctx context.Context, category string) ([]model.Article, error) {
	return s.queryArticles(ctx, `SELECT `+articleColumns+` FROM articles WHERE category = ? ORDER BY id DESC`, category)
}

func (s *Store) GetArticle(ctx context.Context, id int64) (model.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Article{}, ErrNotFound
	}
	return a, err
}

// DeleteArticle removes one article; its summary goes with it through the
// foreign key cascade.
func (s *Store) DeleteArticle(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryArticles(ctx context.Context, query string, args ...any) ([]model.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Article, 0, 32)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const (
	upsertSummaryMySQL = `
		INSERT INTO summaries (news_id, summary_text)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE summary_text = VALUES(summary_text)`
	upsertSummarySQLite = `
		INSERT INTO summaries (news_id, summary_text)
		VALUES (?, ?)
		ON CONFLICT (news_id) DO UPDATE SET summary_text = excluded.summary_text`
)

// UpsertSummary stores text as the summary of article newsID, replacing the
// previous one. The returned summary carries the persisted id.
func (s *Store) UpsertSummary(ctx context.Context, newsID int64, text string) (model.Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Summary{}, err
	}
	defer tx.Rollback()

	query := upsertSummarySQLite
	if s.dialect == db.MySQL {
		query = upsertSummaryMySQL
	}
	if _, err := tx.ExecContext(ctx, query, newsID, text); err != nil {
		return model.Summary{}, err
	}
	sum, err := scanSummary(tx.QueryRowContext(ctx, `SELECT id, news_id, summary_text FROM summaries WHERE news_id = ?`, newsID))
	if err != nil {
		return model.Summary{}, err
	}
	return sum, tx.Commit()
}

func (s *Store) GetSummary(ctx context.Context, id int64) (model.Summary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx, `SELECT id, news_id, summary_text FROM summaries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Summary{}, ErrNotFound
	}
	return sum, err
}

func (s *Store) GetSummaryByArticle(ctx context.Context, newsID int64) (model.Summary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx, `SELECT id, news_id, summary_text FROM summaries WHERE news_id = ?`, newsID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Summary{}, ErrNotFound
	}
	return sum, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (model.Article, error) {
	var a model.Article
	var category, link, image, content sql.NullString
	if err := row.Scan(&a.ID, &category, &a.Title, &link, &image, &content); err != nil {
		return model.Article{}, err
	}
	a.Category = nullToPtr(category)
	a.Link = nullToPtr(link)
	a.ImageURL = nullToPtr(image)
	a.Content = nullToPtr(content)
	return a, nil
}

func scanSummary(row scanner) (model.Summary, error) {
	var sum model.Summary
	var text sql.NullString
	if err := row.Scan(&sum.ID, &sum.NewsID, &text); err != nil {
		return model.Summary{}, err
	}
	sum.SummaryText = text.String
	return sum, nil
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullToPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
