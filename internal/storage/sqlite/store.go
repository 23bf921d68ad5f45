package sqlite

import (
	"context"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"csvload/internal/storage"
	"csvload/internal/storage/sqlbase"
)

// Store is the SQLite backend (modernc.org/sqlite, pure Go).
//
// Key design points vs Postgres:
//   - First-write-wins is INSERT OR IGNORE against the PRIMARY KEY.
//   - The pool is capped at one connection. SQLite serializes writers
//     anyway, and a single connection keeps ":memory:" databases shared
//     across calls and avoids SQLITE_BUSY between concurrent files.
type Store struct {
	*sqlbase.Repo
}

func init() {
	storage.Register("sqlite", NewStore)
}

// Dialect is the SQLite statement set.
var Dialect = sqlbase.Dialect{
	Name:         "sqlite",
	Quote:        sqlIdent,
	Placeholder:  sqlbase.QuestionMark,
	CreateTable:  buildCreateSQL,
	DropTable:    func(t storage.TableSpec) string { return "DROP TABLE IF EXISTS " + sqlIdent(t.Name) },
	InsertIgnore: buildInsertIgnoreSQL,
	IsDuplicate: func(err error) bool {
		return sqlbase.IsDuplicateMessage(err, "UNIQUE constraint failed", "PRIMARY KEY must be unique")
	},
}

// NewStore opens cfg.DSN (a file path, "file:..." URI or ":memory:").
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	repo, err := sqlbase.Open(ctx, "sqlite", withBusyTimeout(cfg.DSN), Dialect)
	if err != nil {
		return nil, err
	}
	repo.DB().SetMaxOpenConns(1)
	return &Store{Repo: repo}, nil
}

// withBusyTimeout adds a busy_timeout pragma unless the DSN sets one.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// buildCreateSQL creates a TEXT-only table with the key as PRIMARY KEY.
func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def := sqlIdent(c) + " TEXT"
		if c == t.Key {
			def += " PRIMARY KEY NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", "))
}

// buildInsertIgnoreSQL relies on the PRIMARY KEY constraint: a row whose key
// exists is skipped and RowsAffected reports 0.
func buildInsertIgnoreSQL(t storage.TableSpec) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		sqlIdent(t.Name), joinIdentList(t.Columns), strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", "))
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// sqlIdent double-quotes an identifier, escaping embedded quotes.
func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
