// Package sqlbase implements storage.Store over database/sql for backends
// whose differences fit in a Dialect: identifier quoting, placeholders, DDL,
// the conditional-insert statement and duplicate-key detection.
//
// The SQL builders are pure so each backend can unit test its statements
// without a database.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"csvload/internal/storage"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string

	// Quote returns a quoted identifier.
	Quote func(name string) string

	// Placeholder returns the n-th (1-based) bind marker.
	Placeholder func(n int) string

	// CreateTable returns an idempotent CREATE TABLE statement.
	CreateTable func(t storage.TableSpec) string

	// DropTable returns an idempotent DROP TABLE statement.
	DropTable func(t storage.TableSpec) string

	// InsertIgnore returns a single-row insert that writes nothing when the
	// key exists. Bind order is t.Columns order, then (if KeyArgTwice) the
	// key once more.
	InsertIgnore func(t storage.TableSpec) string
	KeyArgTwice  bool

	// TopLimit selects SQL Server "SELECT TOP (n)" over a trailing LIMIT.
	TopLimit bool

	// IsDuplicate reports a primary-key violation.
	IsDuplicate func(err error) bool
}

// QuestionMark is the "?" placeholder style (SQLite, MySQL).
func QuestionMark(int) string { return "?" }

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Repo implements storage.Store for one Dialect.
type Repo struct {
	db dbConn
	d  Dialect
}

var _ storage.Store = (*Repo)(nil)

// Open opens driverName/dsn, pings it and wraps it in a Repo.
func Open(ctx context.Context, driverName, dsn string, d Dialect) (*Repo, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, d), nil
}

// New wraps an already-open handle.
func New(db *sql.DB, d Dialect) *Repo {
	return &Repo{db: db, d: d}
}

// DB exposes the handle for backend-specific tuning.
func (r *Repo) DB() *sql.DB {
	db, _ := r.db.(*sql.DB)
	return db
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.d.CreateTable(t)); err != nil {
		return fmt.Errorf("%s: create table %s: %w", r.d.Name, t.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.d.DropTable(t)); err != nil {
		return fmt.Errorf("%s: drop table %s: %w", r.d.Name, t.Name, err)
	}
	return nil
}

func (r *Repo) InsertIgnore(ctx context.Context, t storage.TableSpec, values []string) (bool, error) {
	if err := t.CheckValues(values); err != nil {
		return false, err
	}
	args := textArgs(values)
	if r.d.KeyArgTwice {
		args = append(args, values[t.KeyIndex()])
	}
	res, err := r.db.ExecContext(ctx, r.d.InsertIgnore(t), args...)
	if err != nil {
		// A concurrent writer won the race between the existence check and
		// the insert; that is still "first write wins".
		if r.d.IsDuplicate != nil && r.d.IsDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: insert %s: %w", r.d.Name, t.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) Insert(ctx context.Context, t storage.TableSpec, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, BuildInsert(r.d, t), textArgs(values)...)
	if err != nil {
		if r.d.IsDuplicate != nil && r.d.IsDuplicate(err) {
			return fmt.Errorf("%s %q: %w", t.Name, values[t.KeyIndex()], storage.ErrConflict)
		}
		return fmt.Errorf("%s: insert %s: %w", r.d.Name, t.Name, err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, t storage.TableSpec, key string, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	args := textArgs(t.NonKeyValues(values))
	args = append(args, key)
	res, err := r.db.ExecContext(ctx, BuildUpdate(r.d, t), args...)
	if err != nil {
		return fmt.Errorf("%s: update %s: %w", r.d.Name, t.Name, err)
	}
	return affectedOrNotFound(res, t, key)
}

func (r *Repo) Delete(ctx context.Context, t storage.TableSpec, key string) error {
	res, err := r.db.ExecContext(ctx, BuildDelete(r.d, t), key)
	if err != nil {
		return fmt.Errorf("%s: delete %s: %w", r.d.Name, t.Name, err)
	}
	return affectedOrNotFound(res, t, key)
}

func (r *Repo) Get(ctx context.Context, t storage.TableSpec, key string) ([]string, error) {
	rows, err := r.query(ctx, t, BuildSelect(r.d, t, true, storage.ListOptions{}), key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return rows[0], nil
}

func (r *Repo) List(ctx context.Context, t storage.TableSpec, opt storage.ListOptions) ([][]string, error) {
	return r.query(ctx, t, BuildSelect(r.d, t, false, opt))
}

func (r *Repo) query(ctx context.Context, t storage.TableSpec, q string, args ...any) ([][]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", r.d.Name, t.Name, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(t.Columns))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			row[i] = c.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func affectedOrNotFound(res sql.Result, t storage.TableSpec, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return nil
}

func textArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// ---- pure builders ----

// ColumnList returns the quoted, comma-separated column list.
func ColumnList(d Dialect, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.Quote(c)
	}
	return strings.Join(out, ", ")
}

// Placeholders returns n bind markers starting at from.
func Placeholders(d Dialect, from, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(from + i)
	}
	return strings.Join(out, ", ")
}

// BuildInsert builds a plain single-row INSERT.
func BuildInsert(d Dialect, t storage.TableSpec) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(t.Name), ColumnList(d, t.Columns), Placeholders(d, 1, len(t.Columns)))
}

// BuildUpdate sets every non-key column; the key is bound last.
func BuildUpdate(d Dialect, t storage.TableSpec) string {
	cols := t.NonKeyColumns()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = d.Quote(c) + " = " + d.Placeholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.Quote(t.Name), strings.Join(sets, ", "), d.Quote(t.Key), d.Placeholder(len(cols)+1))
}

// BuildDelete deletes by key.
func BuildDelete(d Dialect, t storage.TableSpec) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.Quote(t.Name), d.Quote(t.Key), d.Placeholder(1))
}

// BuildSelect selects all columns, optionally by key, ordered and limited
// per opt.
func BuildSelect(d Dialect, t storage.TableSpec, byKey bool, opt storage.ListOptions) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if d.TopLimit && opt.Limit > 0 {
		b.WriteString("TOP (" + strconv.Itoa(opt.Limit) + ") ")
	}
	b.WriteString(ColumnList(d, t.Columns))
	b.WriteString(" FROM ")
	b.WriteString(d.Quote(t.Name))
	if byKey {
		b.WriteString(" WHERE " + d.Quote(t.Key) + " = " + d.Placeholder(1))
	}
	switch opt.Sort {
	case storage.SortAsc:
		b.WriteString(" ORDER BY " + d.Quote(t.Key) + " ASC")
	case storage.SortDesc:
		b.WriteString(" ORDER BY " + d.Quote(t.Key) + " DESC")
	}
	if !d.TopLimit && opt.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(opt.Limit))
	}
	return b.String()
}

// IsDuplicateMessage matches driver errors that only expose text.
func IsDuplicateMessage(err error, fragments ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
