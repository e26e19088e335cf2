package schema

import (
	"errors"
	"fmt"
)

// ErrNoPrimaryKey is the cause of a LoadError raised when an operation needs a
// primary key the table does not declare.
var ErrNoPrimaryKey = errors.New("table has no primary key")

// ErrNoColumns is the cause of a LoadError raised when introspection found no
// columns, which means the table does not exist.
var ErrNoColumns = errors.New("table has no columns")

// LoadError reports a failure to obtain a table's schema.
type LoadError struct {
	Table string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("schema of %s could not be loaded: %v", e.Table, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
