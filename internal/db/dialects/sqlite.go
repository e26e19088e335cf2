package dialects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbkit/internal/db"
	"dbkit/internal/schema"
)

// sqliteDialect implements db.Dialect for SQLite.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLite string literals have no backslash escapes; quotes are doubled and
// NUL, which would end the string in the C API, is dropped.
func (sqliteDialect) QuoteString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (sqliteDialect) NullSafeEqual() string { return "IS" }

// SQLite locks whole databases, never rows.
func (sqliteDialect) LockClause(db.LockMode) string { return "" }

func (sqliteDialect) EmptyInsert() string { return " DEFAULT VALUES" }

func (sqliteDialect) Returning(string) string { return "" }

func (sqliteDialect) CurrentDatabaseQuery() string { return "SELECT 'main'" }

func (d sqliteDialect) TableExistsQuery(database, table string) string {
	return "SELECT name FROM " + d.QuoteIdent(database) + ".sqlite_master WHERE type = 'table' AND name = " + d.QuoteString(table)
}

// This is the introspection for SQLite, based on the table_info and
// foreign_key_list pragmas.
func (sqliteDialect) Introspect(ctx context.Context, q db.Querier, database, table string) (schema.Raw, error) {
	var raw schema.Raw

	cr, err := q.QueryxContext(ctx, `SELECT name, dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, database)
	if err != nil {
		return raw, fmt.Errorf("query columns for %s.%s: %w", database, table, err)
	}
	for cr.Next() {
		var name string
		var dflt sql.NullString
		var pk int
		if err := cr.Scan(&name, &dflt, &pk); err != nil {
			cr.Close()
			return raw, fmt.Errorf("scan column for %s.%s: %w", database, table, err)
		}
		raw.Columns = append(raw.Columns, schema.RawColumn{Name: name, Default: unquoteDefault(dflt)})
		// composite keys have pk > 1 on the later columns; only the first is kept
		if pk == 1 {
			raw.Keys = append(raw.Keys, schema.RawKey{Column: name, Primary: true})
		}
	}
	cr.Close()
	if err := cr.Err(); err != nil {
		return raw, fmt.Errorf("read columns for %s.%s: %w", database, table, err)
	}

	fr, err := q.QueryxContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?, ?)`, table, database)
	if err != nil {
		return raw, fmt.Errorf("query foreign keys for %s.%s: %w", database, table, err)
	}
	defer fr.Close()
	for fr.Next() {
		var from, refTable string
		var to sql.NullString
		if err := fr.Scan(&from, &refTable, &to); err != nil {
			return raw, fmt.Errorf("scan foreign key for %s.%s: %w", database, table, err)
		}
		raw.Keys = append(raw.Keys, schema.RawKey{
			Column:           from,
			ReferencedTable:  refTable,
			ReferencedColumn: to.String,
		})
	}
	return raw, fr.Err()
}

func init() {
	db.Register("sqlite3", sqliteDialect{})
	db.Register("sqlite", sqliteDialect{})
}
