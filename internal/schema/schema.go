package schema

import (
	"dbkit/internal/naming"
)

// ConstraintType identifies the kind of a non-primary key constraint.
type ConstraintType string

const (
	ForeignKey ConstraintType = "foreignKey"
)

// Column holds the metadata kept for a table column.
type Column struct {
	DefaultValue *string `msgpack:"default_value" json:"defaultValue,omitempty"`
}

// Constraint describes a key constraint on a referencing column.
type Constraint struct {
	Type             ConstraintType `msgpack:"type" json:"type"`
	ReferencedTable  string         `msgpack:"referenced_table" json:"referencedTable"`
	ReferencedColumn string         `msgpack:"referenced_column" json:"referencedColumn"` // property name; empty means the referenced table's primary key
}

// Schema is the cached structural metadata of one table. All column names are
// property names (camelCase); Table is the storage name.
type Schema struct {
	Table       string                `msgpack:"table" json:"table"`
	PrimaryKey  string                `msgpack:"primary_key" json:"primaryKey,omitempty"`
	Columns     map[string]Column     `msgpack:"columns" json:"columns"`
	ColumnOrder []string              `msgpack:"column_order" json:"columnOrder"`
	Constraints map[string]Constraint `msgpack:"constraints" json:"constraints,omitempty"`
}

// HasPrimaryKey reports whether the table declares a primary key.
func (s *Schema) HasPrimaryKey() bool {
	return s != nil && s.PrimaryKey != ""
}

// ForeignKey returns the foreign key constraint on property, if any.
func (s *Schema) ForeignKey(property string) (Constraint, bool) {
	if s == nil {
		return Constraint{}, false
	}
	c, ok := s.Constraints[property]
	if !ok || c.Type != ForeignKey {
		return Constraint{}, false
	}
	return c, true
}

// RawColumn is a column as reported by a dialect's introspection queries.
type RawColumn struct {
	Name    string
	Default *string
}

// RawKey is one row of key-constraint usage as reported by introspection.
type RawKey struct {
	Column           string
	Primary          bool
	ReferencedTable  string
	ReferencedColumn string
}

// Raw is the unconverted result of introspecting one table.
type Raw struct {
	Columns []RawColumn
	Keys    []RawKey
}

// FromRaw converts storage names into property names and assembles a Schema.
// Keys that are neither primary nor referencing another table (unique keys)
// are skipped.
func FromRaw(table string, raw Raw) *Schema {
	s := &Schema{
		Table:       table,
		Columns:     make(map[string]Column, len(raw.Columns)),
		ColumnOrder: make([]string, 0, len(raw.Columns)),
		Constraints: make(map[string]Constraint),
	}
	for _, c := range raw.Columns {
		prop := naming.ToProperty(c.Name)
		s.Columns[prop] = Column{DefaultValue: c.Default}
		s.ColumnOrder = append(s.ColumnOrder, prop)
	}
	for _, k := range raw.Keys {
		prop := naming.ToProperty(k.Column)
		if k.Primary {
			s.PrimaryKey = prop
			continue
		}
		if k.ReferencedTable == "" {
			continue
		}
		s.Constraints[prop] = Constraint{
			Type:             ForeignKey,
			ReferencedTable:  k.ReferencedTable,
			ReferencedColumn: naming.ToProperty(k.ReferencedColumn),
		}
	}
	return s
}
