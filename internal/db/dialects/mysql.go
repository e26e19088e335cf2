package dialects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbkit/internal/db"
	"dbkit/internal/schema"
)

// myDialect implements db.Dialect for MySQL, MariaDB and TiDB (information_schema).
type myDialect struct{}

func (myDialect) Name() string { return "mysql" }

func (myDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var mysqlEscaper = strings.NewReplacer(
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\x1a", `\Z`,
)

// EscapeString escapes s the way mysql_real_escape_string does, without
// needing an open connection.
func EscapeString(s string) string {
	return mysqlEscaper.Replace(s)
}

func (myDialect) QuoteString(s string) string {
	return "'" + EscapeString(s) + "'"
}

func (myDialect) NullSafeEqual() string { return "<=>" }

func (myDialect) LockClause(mode db.LockMode) string {
	switch mode {
	case db.LockShareMode:
		return " LOCK IN SHARE MODE"
	case db.LockForUpdate:
		return " FOR UPDATE"
	}
	return ""
}

func (myDialect) EmptyInsert() string { return " () VALUES ()" }

func (myDialect) Returning(string) string { return "" }

func (myDialect) CurrentDatabaseQuery() string { return "SELECT DATABASE()" }

func (d myDialect) TableExistsQuery(database, table string) string {
	return "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = " +
		d.QuoteString(database) + " AND TABLE_NAME = " + d.QuoteString(table)
}

// Introspect reads columns from information_schema.COLUMNS and key usage from
// information_schema.KEY_COLUMN_USAGE.
func (myDialect) Introspect(ctx context.Context, q db.Querier, database, table string) (schema.Raw, error) {
	var raw schema.Raw

	cr, err := q.QueryxContext(ctx, `
        SELECT COLUMN_NAME, COLUMN_DEFAULT
        FROM information_schema.COLUMNS
        WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
        ORDER BY ORDINAL_POSITION`, database, table)
	if err != nil {
		return raw, fmt.Errorf("query columns for %s.%s: %w", database, table, err)
	}
	for cr.Next() {
		var name string
		var dflt sql.NullString
		if err := cr.Scan(&name, &dflt); err != nil {
			cr.Close()
			return raw, fmt.Errorf("scan column for %s.%s: %w", database, table, err)
		}
		raw.Columns = append(raw.Columns, schema.RawColumn{Name: name, Default: unquoteDefault(dflt)})
	}
	cr.Close()
	if err := cr.Err(); err != nil {
		return raw, fmt.Errorf("read columns for %s.%s: %w", database, table, err)
	}

	kr, err := q.QueryxContext(ctx, `
        SELECT COLUMN_NAME, CONSTRAINT_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
        FROM information_schema.KEY_COLUMN_USAGE
        WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, database, table)
	if err != nil {
		return raw, fmt.Errorf("query keys for %s.%s: %w", database, table, err)
	}
	defer kr.Close()
	for kr.Next() {
		var column, constraint string
		var refTable, refColumn sql.NullString
		if err := kr.Scan(&column, &constraint, &refTable, &refColumn); err != nil {
			return raw, fmt.Errorf("scan key for %s.%s: %w", database, table, err)
		}
		raw.Keys = append(raw.Keys, schema.RawKey{
			Column:           column,
			Primary:          constraint == "PRIMARY",
			ReferencedTable:  refTable.String,
			ReferencedColumn: refColumn.String,
		})
	}
	return raw, kr.Err()
}

// unquoteDefault strips the quotes MariaDB puts around string defaults.
func unquoteDefault(dflt sql.NullString) *string {
	if !dflt.Valid {
		return nil
	}
	v := dflt.String
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return &v
}

func init() {
	db.Register("mysql", myDialect{})
	db.Register("mariadb", myDialect{})
}
