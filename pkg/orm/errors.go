package orm

import (
	"errors"
	"fmt"
	"strings"

	"dbkit/internal/schema"
)

// ErrNotPersisted is returned when an operation needs the primary key of a
// record that was never saved.
var ErrNotPersisted = errors.New("record has not been persisted")

// ErrUnbound is returned when a record that belongs to no container is asked
// to reach the database.
var ErrUnbound = errors.New("record is not bound to a container")

// InvalidOptionsError reports malformed query options.
type InvalidOptionsError struct {
	Reason string
}

func (e *InvalidOptionsError) Error() string {
	return "invalid query options: " + e.Reason
}

// UnknownOperationError reports a by-property call name that does not match
// the selectBy/deleteBy/countBy grammar.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// SchemaLoadError reports that a table's schema could not be loaded, or that
// it lacks a primary key an operation needed.
type SchemaLoadError = schema.LoadError

// PropertyConflict is one entry of a conflict report: the value an update
// assumed and the value found in the database afterwards.
type PropertyConflict struct {
	Property string      `json:"property"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// ConcurrentModificationError is returned by Save when an optimistically
// locked update matched no row.
type ConcurrentModificationError struct {
	Table     string
	Conflicts []PropertyConflict
	// Missing is set when the row no longer exists.
	Missing bool
}

func (e *ConcurrentModificationError) Error() string {
	if e.Missing {
		return fmt.Sprintf("record in %s was deleted concurrently", e.Table)
	}
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("record in %s was modified concurrently", e.Table)
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s was %s, is %s", c.Property, shorten(c.OldValue), shorten(c.NewValue)))
	}
	return fmt.Sprintf("record in %s was modified concurrently (%s)", e.Table, strings.Join(parts, "; "))
}

// shorten renders v for messages, cut to ten characters.
func shorten(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	r := []rune(fmt.Sprint(scalarOf(v)))
	if len(r) > 10 {
		return string(r[:10]) + "..."
	}
	return string(r)
}

// QueryExecutionError wraps a driver error together with the statement that
// caused it.
type QueryExecutionError struct {
	Query string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query failed: %v [%s]", e.Err, e.Query)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

func IsInvalidOptions(err error) bool {
	var target *InvalidOptionsError
	return errors.As(err, &target)
}

func IsUnknownOperation(err error) bool {
	var target *UnknownOperationError
	return errors.As(err, &target)
}

func IsSchemaLoad(err error) bool {
	var target *SchemaLoadError
	return errors.As(err, &target)
}

func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}

func IsQueryExecution(err error) bool {
	var target *QueryExecutionError
	return errors.As(err, &target)
}
