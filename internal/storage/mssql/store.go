package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"csvload/internal/storage"
	"csvload/internal/storage/sqlbase"
)

// Store implements storage.Store for Microsoft SQL Server.
//
// First-write-wins is an INSERT ... SELECT ... WHERE NOT EXISTS. The
// existence probe takes UPDLOCK, HOLDLOCK so two writers racing on the same
// key serialize on the key range instead of both passing the check; a
// primary-key violation that still slips through is reported as "not
// inserted".
//
// Key columns are NVARCHAR(450) (the 900-byte index key limit); other columns
// are NVARCHAR(MAX).
type Store struct {
	*sqlbase.Repo
}

func init() {
	storage.Register("mssql", NewStore)
}

// Dialect is the SQL Server statement set.
var Dialect = sqlbase.Dialect{
	Name:         "mssql",
	Quote:        mssqlIdent,
	Placeholder:  func(n int) string { return fmt.Sprintf("@p%d", n) },
	CreateTable:  buildCreateSQL,
	DropTable:    buildDropSQL,
	InsertIgnore: buildInsertNotExistsSQL,
	KeyArgTwice:  true,
	TopLimit:     true,
	IsDuplicate:  isDuplicate,
}

// NewStore opens cfg.DSN with the "sqlserver" driver registered by go-mssqldb.
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	repo, err := sqlbase.Open(ctx, "sqlserver", cfg.DSN, Dialect)
	if err != nil {
		return nil, err
	}
	// Files are ingested concurrently, one connection per in-flight row.
	repo.DB().SetMaxOpenConns(64)
	repo.DB().SetMaxIdleConns(64)
	return &Store{Repo: repo}, nil
}

// isDuplicate matches error 2627 (PRIMARY KEY/UNIQUE constraint) and 2601
// (unique index).
func isDuplicate(err error) bool {
	var me mssqldb.Error
	if errors.As(err, &me) {
		return me.Number == 2627 || me.Number == 2601
	}
	return false
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard.
//
// This keeps EnsureTable idempotent without requiring IF NOT EXISTS syntax.
func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c == t.Key {
			defs = append(defs, mssqlIdent(c)+" NVARCHAR(450) NOT NULL PRIMARY KEY")
			continue
		}
		defs = append(defs, mssqlIdent(c)+" NVARCHAR(MAX) NULL")
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		t.Name,
		mssqlTableIdent(t.Name),
		strings.Join(defs, ", "),
	)
}

func buildDropSQL(t storage.TableSpec) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", t.Name, mssqlTableIdent(t.Name))
}

// buildInsertNotExistsSQL constructs a single-row INSERT...SELECT...WHERE NOT EXISTS.
//
// Binds: @p1..@pN are the row in column order, @pN+1 is the key again.
func buildInsertNotExistsSQL(t storage.TableSpec) string {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(t.Name))
	b.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("@p%d", i+1))
	}
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(t.Name))
	b.WriteString(" WITH (UPDLOCK, HOLDLOCK) WHERE ")
	b.WriteString(mssqlIdent(t.Key))
	b.WriteString(fmt.Sprintf(" = @p%d)", len(t.Columns)+1))

	return b.String()
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.orders" -> [dbo].[orders]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
