// Package appindex maintains the searchable app-name catalog: a sqlite
// database mapping app ids to names, with a full-text index over the names
// so users can subscribe by title instead of id.
package appindex

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"steamnewsbot/internal/feeds"
	logx "steamnewsbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Entry is one catalog row.
type Entry struct {
	AppID feeds.AppID
	Name  string
}

// Index is the open catalog database. Safe for concurrent use; sqlite
// serializes writers through the single connection.
type Index struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the catalog at path and applies the schema.
func Open(path string, log logx.Logger) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("app index path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	ix := &Index{db: db, log: log}
	if err := ix.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app index migrate: %w", err)
	}
	return ix, nil
}

func (ix *Index) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = ix.db.ExecContext(ctx, string(b))
	return err
}

func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// NameByID looks up one app's display name.
func (ix *Index) NameByID(ctx context.Context, id feeds.AppID) (string, bool, error) {
	var name string
	err := ix.db.QueryRowContext(ctx, `SELECT name FROM apps WHERE appid = ?`, int64(id)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// Search finds apps whose name contains every word of query, best match
// first. A blank query yields no results. limit caps the result count.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	match := buildMatch(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT a.appid, a.name
		 FROM apps_fts f
		 JOIN apps a ON a.appid = f.rowid
		 WHERE apps_fts MATCH ?
		 ORDER BY f.rank
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out = append(out, Entry{AppID: feeds.AppID(id), Name: name})
	}
	return out, rows.Err()
}

// buildMatch turns free-form user text into an FTS5 MATCH expression: each
// word becomes a quoted term and all terms are ANDed. Quoting keeps FTS5
// query operators in user input from being interpreted.
func buildMatch(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

// Upsert writes entries in one transaction, overwriting names of existing
// ids. Blank names are skipped. Returns how many rows were written.
func (ix *Index) Upsert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO apps(appid, name) VALUES(?, ?)
		 ON CONFLICT(appid) DO UPDATE SET name = excluded.name`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, int64(e.AppID), e.Name); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Count returns the number of indexed apps.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM apps`).Scan(&n)
	return n, err
}
