package orm

import (
	"fmt"
	"strconv"
	"strings"

	"dbkit/internal/db"
)

// Kind is the statement type rendered by Builder.Build.
type Kind int

const (
	Select Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "SELECT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Builder renders statements for one dialect. It holds no state besides the
// dialect and never touches the database.
type Builder struct {
	dialect db.Dialect
}

func NewBuilder(d db.Dialect) *Builder {
	return &Builder{dialect: d}
}

// Build renders a statement of the given kind against table. Filters are
// merged over opts first, so their conditions are added to the caller's and
// their scalar options win.
func (b *Builder) Build(kind Kind, table string, opts Options, filters ...Options) (string, error) {
	o := mergeAll(opts, filters...)
	where, err := b.where(o.Conditions)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	switch kind {
	case Select:
		props := o.Properties
		if props == "" {
			props = b.dialect.QuoteIdent(firstNonEmpty(o.Alias, table)) + ".*"
		}
		sb.WriteString("SELECT " + props + " FROM ")
		b.writeTables(&sb, table, o)
	case Update:
		if o.Properties == "" {
			return "", &InvalidOptionsError{Reason: "update without properties"}
		}
		sb.WriteString("UPDATE ")
		b.writeTables(&sb, table, o)
		sb.WriteString(" SET " + o.Properties)
	case Delete:
		sb.WriteString("DELETE FROM ")
		b.writeTables(&sb, table, o)
	default:
		return "", fmt.Errorf("unsupported statement kind %v", kind)
	}

	sb.WriteString(where)
	if o.Group != "" {
		sb.WriteString(" GROUP BY " + o.Group)
	}
	if o.Order != "" {
		sb.WriteString(" ORDER BY " + o.Order)
	}
	if o.Limit != 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(o.Limit))
	}
	if o.Offset != 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(o.Offset))
	}
	if kind == Select {
		sb.WriteString(b.dialect.LockClause(o.Lock))
	}
	return sb.String(), nil
}

// writeTables writes the base table with its alias followed by the joined tables.
func (b *Builder) writeTables(sb *strings.Builder, table string, o Options) {
	sb.WriteString(b.dialect.QuoteIdent(table))
	if o.Alias != "" {
		sb.WriteString(" AS " + b.dialect.QuoteIdent(o.Alias))
	}
	for _, j := range o.Joins {
		sb.WriteString(", " + b.dialect.QuoteIdent(j.Table))
		if j.Alias != "" {
			sb.WriteString(" AS " + b.dialect.QuoteIdent(j.Alias))
		}
	}
}

func (b *Builder) where(conds []Condition) (string, error) {
	if len(conds) == 0 {
		return "", nil
	}
	rendered := make([]string, 0, len(conds))
	for _, c := range conds {
		s, err := b.Condition(c)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, s)
	}
	return " WHERE (" + strings.Join(rendered, ") AND (") + ")", nil
}

// Condition substitutes the values of c into its template. Substituted text
// is never scanned for further placeholders.
func (b *Builder) Condition(c Condition) (string, error) {
	if n := strings.Count(c.Template, "?"); n != len(c.Values) {
		return "", &InvalidOptionsError{Reason: fmt.Sprintf("condition %q has %d placeholders but %d values", c.Template, n, len(c.Values))}
	}
	var sb strings.Builder
	rest := c.Template
	for _, v := range c.Values {
		i := strings.IndexByte(rest, '?')
		sb.WriteString(rest[:i])
		sb.WriteString(b.Literal(v))
		rest = rest[i+1:]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

// Literal renders v as an SQL literal. Records are replaced by their primary
// key and nil becomes NULL; everything else is quoted as a string.
func (b *Builder) Literal(v interface{}) string {
	v = scalarOf(normalize(v))
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return b.dialect.QuoteString(x)
	case bool:
		if x {
			return b.dialect.QuoteString("1")
		}
		return b.dialect.QuoteString("0")
	default:
		return b.dialect.QuoteString(fmt.Sprint(x))
	}
}

// Insert renders an INSERT of values into the given storage columns.
func (b *Builder) Insert(table string, columns []string, values []interface{}) string {
	if len(columns) == 0 {
		return "INSERT INTO " + b.dialect.QuoteIdent(table) + b.dialect.EmptyInsert()
	}
	cols := make([]string, len(columns))
	vals := make([]string, len(values))
	for i, c := range columns {
		cols[i] = b.dialect.QuoteIdent(c)
	}
	for i, v := range values {
		vals[i] = b.Literal(v)
	}
	return "INSERT INTO " + b.dialect.QuoteIdent(table) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(vals, ", ") + ")"
}

// Equals returns the condition column = value, or column IS NULL for nil.
func (b *Builder) Equals(column string, value interface{}) Condition {
	if scalarOf(normalize(value)) == nil {
		return Cond(b.dialect.QuoteIdent(column) + " IS NULL")
	}
	return Cond(b.dialect.QuoteIdent(column)+" = ?", value)
}

// NullSafeEquals returns a condition that also holds when both sides are NULL.
func (b *Builder) NullSafeEquals(column string, value interface{}) Condition {
	return Cond(b.dialect.QuoteIdent(column)+" "+b.dialect.NullSafeEqual()+" ?", value)
}

// Assignment renders column = value for a SET list.
func (b *Builder) Assignment(column string, value interface{}) string {
	return b.dialect.QuoteIdent(column) + " = " + b.Literal(value)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
