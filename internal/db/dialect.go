package db

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"dbkit/internal/schema"
)

// LockMode selects a row-level lock hint for SELECT statements.
type LockMode int

const (
	LockNone LockMode = iota
	// LockShareMode lets other sessions read but not modify the selected rows
	// until the current transaction ends.
	LockShareMode
	// LockForUpdate blocks other locking reads and writes of the selected rows
	// until the current transaction ends.
	LockForUpdate
)

// Querier is the subset of *sqlx.DB used by introspection.
type Querier interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// Dialect renders the parts of a statement that differ between databases and
// reads table structure from the database's catalog.
type Dialect interface {
	Name() string

	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string
	// QuoteString returns s as an escaped, quoted string literal.
	QuoteString(s string) string
	// NullSafeEqual is the comparison operator that treats two NULLs as equal.
	NullSafeEqual() string
	// LockClause returns the hint appended to a SELECT, or "" if the dialect
	// has no row locks.
	LockClause(mode LockMode) string
	// EmptyInsert is the column/value part of an INSERT without columns.
	EmptyInsert() string
	// Returning is appended to an INSERT to read back the generated key, or ""
	// if the driver reports it through LastInsertId.
	Returning(pkColumn string) string

	CurrentDatabaseQuery() string
	TableExistsQuery(database, table string) string

	// Introspect reads the columns and key constraints of database.table.
	Introspect(ctx context.Context, q Querier, database, table string) (schema.Raw, error)
}

var dialects = map[string]Dialect{}

// Register makes a Dialect available under name.
func Register(name string, d Dialect) {
	dialects[strings.ToLower(name)] = d
}

// Lookup returns the Dialect registered under name.
func Lookup(name string) (Dialect, bool) {
	d, ok := dialects[strings.ToLower(name)]
	return d, ok
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	return keys
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}
