package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"csvload/internal/storage"
)

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

/*
Store implements storage.Store for Postgres on a pgx connection pool.

First-write-wins is INSERT ... ON CONFLICT (<key>) DO NOTHING, one statement
per row; RowsAffected tells inserted from skipped.
*/
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Postgres-backed Store and verifies connectivity.
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// EnsureTable creates the table if it is missing.
func (s *Store) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, buildCreateSQL(t)); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) DropTable(ctx context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(t.Name)); err != nil {
		return fmt.Errorf("postgres: drop table %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) InsertIgnore(ctx context.Context, t storage.TableSpec, values []string) (bool, error) {
	if err := t.CheckValues(values); err != nil {
		return false, err
	}
	sql, args := buildInsertSQL(t, values, true)
	cmd, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: insert %s: %w", t.Name, err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *Store) Insert(ctx context.Context, t storage.TableSpec, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	sql, args := buildInsertSQL(t, values, false)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s %q: %w", t.Name, values[t.KeyIndex()], storage.ErrConflict)
		}
		return fmt.Errorf("postgres: insert %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, t storage.TableSpec, key string, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	sql, args := buildUpdateSQL(t, key, values)
	cmd, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", t.Name, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, t storage.TableSpec, key string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pgIdent(t.Name), pgIdent(t.Key))
	cmd, err := s.pool.Exec(ctx, q, key)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", t.Name, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, t storage.TableSpec, key string) ([]string, error) {
	rows, err := s.query(ctx, t, buildSelectSQL(t, true, storage.ListOptions{}), key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return rows[0], nil
}

func (s *Store) List(ctx context.Context, t storage.TableSpec, opt storage.ListOptions) ([][]string, error) {
	return s.query(ctx, t, buildSelectSQL(t, false, opt))
}

func (s *Store) query(ctx context.Context, t storage.TableSpec, q string, args ...any) ([][]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: select %s: %w", t.Name, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]string, error) {
		cells := make([]*string, len(t.Columns))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		vals := make([]string, len(cells))
		for i, c := range cells {
			if c != nil {
				vals[i] = *c
			}
		}
		return vals, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", t.Name, err)
	}
	return out, nil
}

// buildInsertSQL constructs a single-row INSERT and its args.
//
// It is pure and deterministic, so placeholder numbering and the ON CONFLICT
// clause can be unit tested without a database.
func buildInsertSQL(t storage.TableSpec, values []string, ignoreConflict bool) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(t.Name))
	b.WriteString(" (")

	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")

	args := make([]any, 0, len(values))
	for i := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
		args = append(args, values[i])
	}
	b.WriteString(")")

	if ignoreConflict {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(pgIdent(t.Key))
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

// buildUpdateSQL sets every non-key column; the key is the last bind.
func buildUpdateSQL(t storage.TableSpec, key string, values []string) (string, []any) {
	cols := t.NonKeyColumns()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pgIdent(c), i+1)
	}
	args := make([]any, 0, len(cols)+1)
	for _, v := range t.NonKeyValues(values) {
		args = append(args, v)
	}
	args = append(args, key)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		pgIdent(t.Name), strings.Join(sets, ", "), pgIdent(t.Key), len(cols)+1)
	return q, args
}

func buildSelectSQL(t storage.TableSpec, byKey bool, opt storage.ListOptions) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pgIdent(c)
	}
	q := "SELECT " + strings.Join(cols, ", ") + " FROM " + pgIdent(t.Name)
	if byKey {
		q += " WHERE " + pgIdent(t.Key) + " = $1"
	}
	switch opt.Sort {
	case storage.SortAsc:
		q += " ORDER BY " + pgIdent(t.Key) + " ASC"
	case storage.SortDesc:
		q += " ORDER BY " + pgIdent(t.Key) + " DESC"
	}
	if opt.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opt.Limit)
	}
	return q
}

// buildCreateSQL returns a CREATE TABLE IF NOT EXISTS with TEXT columns and
// the key as PRIMARY KEY.
func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c == t.Key {
			defs = append(defs, pgIdent(c)+" TEXT PRIMARY KEY")
			continue
		}
		defs = append(defs, pgIdent(c)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgIdent(t.Name), strings.Join(defs, ", "))
}

// pgIdent double-quotes an identifier via pgx's sanitizer.
func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

var _ storage.Store = (*Store)(nil)
