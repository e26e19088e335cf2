package dialects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbkit/internal/db"
	"dbkit/internal/schema"
)

// pgDialect implements db.Dialect using information_schema queries.
type pgDialect struct{}

func (pgDialect) Name() string { return "postgres" }

func (pgDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// PostgreSQL text cannot hold NUL, so it is dropped rather than escaped.
var pgEscaper = strings.NewReplacer(
	"\x00", "",
	"\n", `\n`,
	"\r", `\r`,
	`\`, `\\`,
	`'`, `\'`,
	"\x1a", `\x1a`,
)

// QuoteString renders an escape string constant (E'...') so backslash
// sequences are interpreted regardless of standard_conforming_strings.
func (pgDialect) QuoteString(s string) string {
	return "E'" + pgEscaper.Replace(s) + "'"
}

func (pgDialect) NullSafeEqual() string { return "IS NOT DISTINCT FROM" }

func (pgDialect) LockClause(mode db.LockMode) string {
	switch mode {
	case db.LockShareMode:
		return " FOR SHARE"
	case db.LockForUpdate:
		return " FOR UPDATE"
	}
	return ""
}

func (pgDialect) EmptyInsert() string { return " DEFAULT VALUES" }

func (d pgDialect) Returning(pkColumn string) string {
	return " RETURNING " + d.QuoteIdent(pkColumn)
}

func (pgDialect) CurrentDatabaseQuery() string { return "SELECT current_database()" }

func (d pgDialect) TableExistsQuery(database, table string) string {
	return "SELECT table_name FROM information_schema.tables WHERE table_catalog = " +
		d.QuoteString(database) + " AND table_schema = current_schema() AND table_name = " + d.QuoteString(table)
}

// This is the introspection for PostgreSQL; only the current schema is searched.
func (pgDialect) Introspect(ctx context.Context, q db.Querier, database, table string) (schema.Raw, error) {
	var raw schema.Raw

	cr, err := q.QueryxContext(ctx, `
        SELECT column_name, column_default
        FROM information_schema.columns
        WHERE table_catalog = $1 AND table_schema = current_schema() AND table_name = $2
        ORDER BY ordinal_position`, database, table)
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
		raw.Columns = append(raw.Columns, schema.RawColumn{Name: name, Default: pgDefault(dflt)})
	}
	cr.Close()
	if err := cr.Err(); err != nil {
		return raw, fmt.Errorf("read columns for %s.%s: %w", database, table, err)
	}

	kr, err := q.QueryxContext(ctx, `
        SELECT kcu.column_name, tc.constraint_type, ccu.table_name, ccu.column_name
        FROM information_schema.table_constraints tc
        JOIN information_schema.key_column_usage kcu
          ON tc.constraint_name = kcu.constraint_name
         AND tc.constraint_schema = kcu.constraint_schema
        LEFT JOIN information_schema.constraint_column_usage ccu
          ON tc.constraint_type = 'FOREIGN KEY'
         AND tc.constraint_name = ccu.constraint_name
         AND tc.constraint_schema = ccu.constraint_schema
        WHERE tc.table_catalog = $1 AND tc.table_schema = current_schema() AND tc.table_name = $2
          AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')`, database, table)
	if err != nil {
		return raw, fmt.Errorf("query keys for %s.%s: %w", database, table, err)
	}
	defer kr.Close()
	for kr.Next() {
		var column, kind string
		var refTable, refColumn sql.NullString
		if err := kr.Scan(&column, &kind, &refTable, &refColumn); err != nil {
			return raw, fmt.Errorf("scan key for %s.%s: %w", database, table, err)
		}
		raw.Keys = append(raw.Keys, schema.RawKey{
			Column:           column,
			Primary:          kind == "PRIMARY KEY",
			ReferencedTable:  refTable.String,
			ReferencedColumn: refColumn.String,
		})
	}
	return raw, kr.Err()
}

// pgDefault turns "'draft'::character varying" into "draft"; sequence
// defaults are reported as no default since the database assigns them.
func pgDefault(dflt sql.NullString) *string {
	if !dflt.Valid || strings.HasPrefix(dflt.String, "nextval(") {
		return nil
	}
	v := dflt.String
	if i := strings.LastIndex(v, "::"); i > 0 {
		v = v[:i]
	}
	return unquoteDefault(sql.NullString{String: v, Valid: true})
}

func init() {
	db.Register("postgres", pgDialect{})
	db.Register("postgresql", pgDialect{})
}
