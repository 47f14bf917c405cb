package db

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	NaturalKeyIndex     = "ux_articles_natural_key"
	SummaryArticleIndex = "ux_summaries_news_id"

	// LegacyArticlesTable is the article table name used by the first
	// deployments.
	LegacyArticlesTable = "news_ta"
)

var tables = map[Dialect][]string{
	MySQL: {
		`CREATE TABLE IF NOT EXISTS articles (
			id INT AUTO_INCREMENT PRIMARY KEY,
			category TEXT,
			title TEXT NOT NULL,
			link TEXT,
			image_url TEXT,
			content TEXT,
			title_key CHAR(64) NOT NULL DEFAULT '',
			link_key CHAR(64) NOT NULL DEFAULT ''
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INT AUTO_INCREMENT PRIMARY KEY,
			news_id INT NOT NULL,
			summary_text TEXT,
			FOREIGN KEY (news_id) REFERENCES articles (id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT,
			title TEXT NOT NULL,
			link TEXT,
			image_url TEXT,
			content TEXT,
			title_key TEXT NOT NULL DEFAULT '',
			link_key TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			news_id INTEGER NOT NULL REFERENCES articles (id) ON DELETE CASCADE,
			summary_text TEXT
		)`,
	},
}

type column struct {
	table, name string
	ddl         map[Dialect]string
}

// Columns introduced after the first schema. Tables created by older
// deployments get them through MigrateSchema.
var optionalColumns = []column{
	{"articles", "category", map[Dialect]string{MySQL: "TEXT", SQLite: "TEXT"}},
	{"articles", "title_key", map[Dialect]string{MySQL: "CHAR(64) NOT NULL DEFAULT ''", SQLite: "TEXT NOT NULL DEFAULT ''"}},
	{"articles", "link_key", map[Dialect]string{MySQL: "CHAR(64) NOT NULL DEFAULT ''", SQLite: "TEXT NOT NULL DEFAULT ''"}},
}

type index struct {
	table, name, columns string
}

var uniqueIndexes = []index{
	{"articles", NaturalKeyIndex, "title_key, link_key"},
	{"summaries", SummaryArticleIndex, "news_id"},
}

// AdoptLegacyTable renames a legacy article table to articles when the new
// table does not exist yet. Summaries keep pointing at the same rows; both
// engines rewrite the foreign key on rename. Run it before InitializeSchema.
func AdoptLegacyTable(ctx context.Context, db *sql.DB, dialect Dialect) (bool, error) {
	legacy, err := tableExists(ctx, db, dialect, LegacyArticlesTable)
	if err != nil || !legacy {
		return false, err
	}
	current, err := tableExists(ctx, db, dialect, "articles")
	if err != nil || current {
		return false, err
	}
	stmt := `ALTER TABLE ` + LegacyArticlesTable + ` RENAME TO articles`
	if dialect == MySQL {
		stmt = `RENAME TABLE ` + LegacyArticlesTable + ` TO articles`
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return false, err
	}
	return true, nil
}

// InitializeSchema creates both tables when missing. Unique indexes are
// installed separately by EnsureConstraints, after legacy rows are keyed.
func InitializeSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts, ok := tables[dialect]
	if !ok {
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// MigrateSchema adds optional columns missing from pre-existing tables. The
// catalog is consulted on every call, so it does not depend on any
// migration history.
func MigrateSchema(ctx context.Context, db *sql.DB, dialect Dialect) ([]string, error) {
	var added []string
	for _, c := range optionalColumns {
		ok, err := ensureColumn(ctx, db, dialect, c.table, c.name, c.ddl[dialect])
		if err != nil {
			return added, fmt.Errorf("ensure column %s.%s: %w", c.table, c.name, err)
		}
		if ok {
			added = append(added, c.table+"."+c.name)
		}
	}
	return added, nil
}

// EnsureConstraints installs the unique indexes. It fails if duplicate rows
// are still present.
func EnsureConstraints(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, ix := range uniqueIndexes {
		if err := ensureUniqueIndex(ctx, db, dialect, ix); err != nil {
			return fmt.Errorf("ensure index %s: %w", ix.name, err)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, dialect Dialect, table string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if dialect == MySQL {
		query = `SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`
	}
	var n int
	if err := db.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func ensureColumn(ctx context.Context, db *sql.DB, dialect Dialect, table, column, columnDDL string) (bool, error) {
	exists, err := columnExists(ctx, db, dialect, table, column)
	if err != nil || exists {
		return false, err
	}
	_, err = db.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN `+column+` `+columnDDL)
	return err == nil, err
}

func columnExists(ctx context.Context, db *sql.DB, dialect Dialect, table, column string) (bool, error) {
	if dialect == MySQL {
		var n int
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?
		`, table, column).Scan(&n)
		return n > 0, err
	}

	rows, err := db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var typ string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func ensureUniqueIndex(ctx context.Context, db *sql.DB, dialect Dialect, ix index) error {
	if dialect == SQLite {
		_, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+ix.name+` ON `+ix.table+` (`+ix.columns+`)`)
		return err
	}
	var n int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME = ?
	`, ix.table, ix.name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX `+ix.name+` ON `+ix.table+` (`+ix.columns+`)`)
	return err
}
