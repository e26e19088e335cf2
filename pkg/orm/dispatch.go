package orm

import (
	"context"
	"regexp"

	"dbkit/internal/naming"
)

// Op is the base operation of a by-property call.
type Op int

const (
	OpSelect Op = iota
	OpSelectFirst
	OpDelete
	OpCount
)

func (o Op) String() string {
	switch o {
	case OpSelect:
		return "selectBy"
	case OpSelectFirst:
		return "selectFirstBy"
	case OpDelete:
		return "deleteBy"
	case OpCount:
		return "countBy"
	}
	return "unknown"
}

// Criterion is a parsed by-property call: an operation plus the property
// compared for equality.
type Criterion struct {
	Op       Op
	Property string
}

var callPattern = regexp.MustCompile(`^(select|delete|count)By(.+?)(First)?$`)

// ParseCriterion parses names such as selectByStatus, selectByEmailFirst,
// deleteByAuthorId or countByStatus. A First suffix only selects the first
// row for select; for delete and count it is part of the property name.
func ParseCriterion(name string) (Criterion, error) {
	m := callPattern.FindStringSubmatch(name)
	if m == nil {
		return Criterion{}, &UnknownOperationError{Name: name}
	}
	suffix := m[2]
	var op Op
	switch m[1] {
	case "select":
		op = OpSelect
		if m[3] != "" {
			op = OpSelectFirst
		}
	case "delete":
		op = OpDelete
		suffix += m[3]
	case "count":
		op = OpCount
		suffix += m[3]
	}
	return Criterion{Op: op, Property: naming.FromMethodSuffix(suffix)}, nil
}

// Name renders c back into its call name.
func (c Criterion) Name() string {
	suffix := naming.ToMethodSuffix(c.Property)
	switch c.Op {
	case OpSelect:
		return "selectBy" + suffix
	case OpSelectFirst:
		return "selectBy" + suffix + "First"
	case OpDelete:
		return "deleteBy" + suffix
	case OpCount:
		return "countBy" + suffix
	}
	return ""
}

// DispatchResult holds the outcome of a by-property call; only the field of
// the executed operation is set.
type DispatchResult struct {
	Records  []*Record
	Record   *Record
	Count    int
	Affected int64
}

// Call runs a by-property operation given by name, for example
// Call(ctx, "countByStatus", "active").
func (c *Container) Call(ctx context.Context, name string, value interface{}, opts ...Options) (DispatchResult, error) {
	crit, err := ParseCriterion(name)
	if err != nil {
		return DispatchResult{}, err
	}
	return c.Dispatch(ctx, crit, value, opts...)
}

// Dispatch runs the operation of crit with an added equality condition on its
// property. Extra options are merged in.
func (c *Container) Dispatch(ctx context.Context, crit Criterion, value interface{}, opts ...Options) (DispatchResult, error) {
	o := c.byOptions(crit.Property, value, opts)

	var res DispatchResult
	var err error
	switch crit.Op {
	case OpSelect:
		res.Records, err = c.Select(ctx, o)
	case OpSelectFirst:
		res.Record, err = c.SelectFirst(ctx, o)
	case OpDelete:
		res.Affected, err = c.DeleteWhere(ctx, o)
	case OpCount:
		res.Count, err = c.Count(ctx, o)
	default:
		err = &UnknownOperationError{Name: crit.Op.String()}
	}
	return res, err
}

func (c *Container) SelectBy(ctx context.Context, prop string, value interface{}, opts ...Options) ([]*Record, error) {
	res, err := c.Dispatch(ctx, Criterion{Op: OpSelect, Property: prop}, value, opts...)
	return res.Records, err
}

func (c *Container) SelectFirstBy(ctx context.Context, prop string, value interface{}, opts ...Options) (*Record, error) {
	res, err := c.Dispatch(ctx, Criterion{Op: OpSelectFirst, Property: prop}, value, opts...)
	return res.Record, err
}

func (c *Container) DeleteBy(ctx context.Context, prop string, value interface{}, opts ...Options) (int64, error) {
	res, err := c.Dispatch(ctx, Criterion{Op: OpDelete, Property: prop}, value, opts...)
	return res.Affected, err
}

func (c *Container) CountBy(ctx context.Context, prop string, value interface{}, opts ...Options) (int, error) {
	res, err := c.Dispatch(ctx, Criterion{Op: OpCount, Property: prop}, value, opts...)
	return res.Count, err
}

func (c *Container) byOptions(prop string, value interface{}, opts []Options) Options {
	var o Options
	for _, extra := range opts {
		o = Merge(o, extra)
	}
	o.Conditions = append(o.Conditions, c.env.builder.Equals(naming.ToColumn(prop), value))
	return o
}
