// Package dialect supplies the vendor-specific pieces of compiled SQL:
// placeholder syntax, identifier quoting, table aliasing and pagination clauses.
package dialect

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialect describes one target database.
type Dialect interface {
	Name() string
	// PlaceholderFormat rewrites the ? placeholders squirrel emits.
	PlaceholderFormat() sq.PlaceholderFormat
	QuoteIdentifier(name string) string
	// TableRef renders a FROM or JOIN target; alias may equal table.
	TableRef(table, alias string) string
	// LimitOffset renders the pagination clause appended after ORDER BY.
	// offset <= 0 means no offset.
	LimitOffset(limit, offset int) string
	// CaseInsensitiveLike renders a case-insensitive LIKE against one placeholder.
	CaseInsensitiveLike(column string) string
	// OrderTerm renders one ORDER BY entry. NULL sorts below every value.
	OrderTerm(column string, desc bool) string
	// BindValue converts a canonical value into the argument the driver
	// compares against stored column values.
	BindValue(v any) any
}

// SQLiteTimestampLayout is the text form SQLite's CURRENT_TIMESTAMP stores.
// Fractional seconds are appended only when present.
const SQLiteTimestampLayout = "2006-01-02 15:04:05.999999999"

// Names of the built-in dialects.
const (
	MySQL     = "mysql"
	Postgres  = "postgres"
	SQLite    = "sqlite"
	SQLServer = "sqlserver"
)

// ByName returns a built-in dialect.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MySQL, "tidb", "mariadb":
		return mysqlDialect{}, nil
	case Postgres, "postgresql", "pg":
		return postgresDialect{}, nil
	case SQLite, "sqlite3", "libsql":
		return sqliteDialect{}, nil
	case SQLServer, "mssql":
		return sqlServerDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown SQL dialect %q", name)
	}
}

// ForDriver picks the dialect matching a database/sql driver name.
func ForDriver(driver string) (Dialect, error) {
	return ByName(driver)
}

// quoteWith wraps name in open/close and doubles any embedded close character.
func quoteWith(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}

func tableRef(d Dialect, table, alias string) string {
	if alias == "" || alias == table {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(table) + " AS " + d.QuoteIdentifier(alias)
}

func limitOffset(limit, offset int) string {
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// orderTerm relies on the engine sorting NULL first ascending and last descending.
func orderTerm(column string, desc bool) string {
	if desc {
		return column + " DESC"
	}
	return column + " ASC"
}

func lowerLike(column string) string {
	return "LOWER(" + column + ") LIKE LOWER(?)"
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                            { return MySQL }
func (mysqlDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }
func (mysqlDialect) QuoteIdentifier(name string) string      { return quoteWith(name, "`", "`") }
func (d mysqlDialect) TableRef(table, alias string) string   { return tableRef(d, table, alias) }
func (mysqlDialect) LimitOffset(limit, offset int) string    { return limitOffset(limit, offset) }
func (mysqlDialect) CaseInsensitiveLike(column string) string {
	return lowerLike(column)
}
func (mysqlDialect) OrderTerm(column string, desc bool) string { return orderTerm(column, desc) }
func (mysqlDialect) BindValue(v any) any                       { return v }

type postgresDialect struct{}

func (postgresDialect) Name() string                            { return Postgres }
func (postgresDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }
func (postgresDialect) QuoteIdentifier(name string) string      { return quoteWith(name, `"`, `"`) }
func (d postgresDialect) TableRef(table, alias string) string   { return tableRef(d, table, alias) }
func (postgresDialect) LimitOffset(limit, offset int) string    { return limitOffset(limit, offset) }
func (postgresDialect) CaseInsensitiveLike(column string) string {
	return column + " ILIKE ?"
}

// OrderTerm overrides the Postgres default, which treats NULL as the largest value.
func (postgresDialect) OrderTerm(column string, desc bool) string {
	if desc {
		return column + " DESC NULLS LAST"
	}
	return column + " ASC NULLS FIRST"
}

func (postgresDialect) BindValue(v any) any { return v }

type sqliteDialect struct{}

func (sqliteDialect) Name() string                            { return SQLite }
func (sqliteDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }
func (sqliteDialect) QuoteIdentifier(name string) string      { return quoteWith(name, `"`, `"`) }
func (d sqliteDialect) TableRef(table, alias string) string   { return tableRef(d, table, alias) }
func (sqliteDialect) LimitOffset(limit, offset int) string    { return limitOffset(limit, offset) }
func (sqliteDialect) CaseInsensitiveLike(column string) string {
	return lowerLike(column)
}
func (sqliteDialect) OrderTerm(column string, desc bool) string { return orderTerm(column, desc) }

// BindValue renders timestamps as UTC text. SQLite compares date-time columns
// as strings, and the drivers would otherwise append a zone offset.
func (sqliteDialect) BindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(SQLiteTimestampLayout)
	}
	return v
}

// sqlServerDialect relies on the compiled query always carrying ORDER BY,
// which OFFSET ... FETCH requires.
type sqlServerDialect struct{}

func (sqlServerDialect) Name() string                            { return SQLServer }
func (sqlServerDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.AtP }
func (sqlServerDialect) QuoteIdentifier(name string) string      { return quoteWith(name, "[", "]") }
func (d sqlServerDialect) TableRef(table, alias string) string   { return tableRef(d, table, alias) }
func (sqlServerDialect) LimitOffset(limit, offset int) string {
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}
func (sqlServerDialect) CaseInsensitiveLike(column string) string {
	return lowerLike(column)
}
func (sqlServerDialect) OrderTerm(column string, desc bool) string { return orderTerm(column, desc) }
func (sqlServerDialect) BindValue(v any) any                       { return v }
