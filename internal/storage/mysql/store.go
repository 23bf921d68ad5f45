package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"csvload/internal/storage"
	"csvload/internal/storage/sqlbase"
)

// Store implements storage.Store for MySQL/MariaDB.
//
// First-write-wins is a plain INSERT against the PRIMARY KEY whose
// ER_DUP_ENTRY is reported as "not inserted". INSERT IGNORE is not used: it
// downgrades every error, truncation included, to a warning. Key columns are
// VARCHAR(255) because TEXT cannot be a key without a prefix length.
type Store struct {
	*sqlbase.Repo
}

func init() {
	storage.Register("mysql", NewStore)
}

// Dialect is the MySQL statement set.
var Dialect = sqlbase.Dialect{
	Name:         "mysql",
	Quote:        mysqlIdent,
	Placeholder:  sqlbase.QuestionMark,
	CreateTable:  buildCreateSQL,
	DropTable:    func(t storage.TableSpec) string { return "DROP TABLE IF EXISTS " + mysqlIdent(t.Name) },
	InsertIgnore: buildInsertSQL,
	IsDuplicate:  isDuplicate,
}

// NewStore opens cfg.DSN, e.g. "user:pass@tcp(localhost:3306)/shop".
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	dsn, err := prepareDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	repo, err := sqlbase.Open(ctx, "mysql", dsn, Dialect)
	if err != nil {
		return nil, err
	}
	return &Store{Repo: repo}, nil
}

// prepareDSN turns on clientFoundRows so an UPDATE that leaves a row
// unchanged still reports it as affected; Update relies on that to tell
// "unchanged" from "not found". Unless the DSN sets sql_mode, the session is
// strict so an over-long key fails instead of being truncated.
func prepareDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	c.ClientFoundRows = true
	if _, ok := c.Params["sql_mode"]; !ok {
		if c.Params == nil {
			c.Params = map[string]string{}
		}
		c.Params["sql_mode"] = "TRADITIONAL"
	}
	return c.FormatDSN(), nil
}

// isDuplicate matches ER_DUP_ENTRY (1062).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		if c == t.Key {
			defs = append(defs, mysqlIdent(c)+" VARCHAR(255) NOT NULL")
			continue
		}
		defs = append(defs, mysqlIdent(c)+" TEXT NULL")
	}
	defs = append(defs, "PRIMARY KEY ("+mysqlIdent(t.Key)+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) DEFAULT CHARSET=utf8mb4",
		mysqlIdent(t.Name), strings.Join(defs, ", "))
}

func buildInsertSQL(t storage.TableSpec) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = mysqlIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		mysqlIdent(t.Name), strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

// mysqlIdent backtick-quotes an identifier.
func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
