package orm

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"dbkit/internal/db"
)

// LockMode selects a row lock for SELECT statements. Locked reads bypass the
// result cache.
type LockMode = db.LockMode

const (
	LockNone      = db.LockNone
	LockShareMode = db.LockShareMode
	LockForUpdate = db.LockForUpdate
)

// Condition is a raw SQL condition whose ? placeholders are replaced, left to
// right, by the quoted literals of Values.
type Condition struct {
	Template string
	Values   []interface{}
}

// Cond is shorthand for a Condition literal.
func Cond(template string, values ...interface{}) Condition {
	return Condition{Template: template, Values: values}
}

// Join adds a table to the FROM list. Its condition belongs in Conditions.
type Join struct {
	Table string
	Alias string
}

// Options describes a query. The zero value selects every row.
type Options struct {
	// Properties is the raw select list of a SELECT or the SET list of an
	// UPDATE. Empty selects all columns of the base table.
	Properties string
	Conditions []Condition
	Joins      []Join
	Alias      string
	Group      string
	Order      string
	// Limit and Offset are ignored when zero.
	Limit  int
	Offset int
	Lock   LockMode
}

// Where returns a copy of o with one more condition.
func (o Options) Where(template string, values ...interface{}) Options {
	c := o.clone()
	c.Conditions = append(c.Conditions, Cond(template, values...))
	return c
}

func (o Options) clone() Options {
	c := o
	if o.Conditions != nil {
		c.Conditions = make([]Condition, len(o.Conditions))
		for i, cond := range o.Conditions {
			c.Conditions[i] = Condition{Template: cond.Template, Values: slices.Clone(cond.Values)}
		}
	}
	c.Joins = slices.Clone(o.Joins)
	return c
}

func (o Options) validate() error {
	for _, c := range o.Conditions {
		if n := strings.Count(c.Template, "?"); n != len(c.Values) {
			return &InvalidOptionsError{Reason: fmt.Sprintf("condition %q has %d placeholders but %d values", c.Template, n, len(c.Values))}
		}
	}
	return nil
}

// Merge combines two option sets. Conditions and joins of both are kept, minor
// first; for every other field a value set in major wins.
func Merge(minor, major Options) Options {
	m := minor.clone()
	m.Conditions = append(m.Conditions, major.clone().Conditions...)
	m.Joins = append(m.Joins, major.Joins...)
	if major.Properties != "" {
		m.Properties = major.Properties
	}
	if major.Alias != "" {
		m.Alias = major.Alias
	}
	if major.Group != "" {
		m.Group = major.Group
	}
	if major.Order != "" {
		m.Order = major.Order
	}
	if major.Limit != 0 {
		m.Limit = major.Limit
	}
	if major.Offset != 0 {
		m.Offset = major.Offset
	}
	if major.Lock != LockNone {
		m.Lock = major.Lock
	}
	return m
}

// mergeAll merges each filter over opts in order.
func mergeAll(opts Options, filters ...Options) Options {
	m := opts.clone()
	for _, f := range filters {
		m = Merge(m, f)
	}
	return m
}

// OptionsFromMap reads options from a loosely typed map, as decoded from JSON
// or YAML. Recognised keys are properties, conditions, join, alias, group,
// order, limit, offset and lock; other keys are ignored.
//
// Each condition is a list whose first element is the template, followed by
// the values, or a bare template string. A join is a table name or a map of
// table name to alias.
func OptionsFromMap(m map[string]interface{}) (Options, error) {
	var o Options
	for _, key := range slices.Sorted(maps.Keys(m)) {
		v := m[key]
		var err error
		switch key {
		case "properties":
			o.Properties, err = stringOption(key, v)
		case "alias":
			o.Alias, err = stringOption(key, v)
		case "group":
			o.Group, err = stringOption(key, v)
		case "order":
			o.Order, err = stringOption(key, v)
		case "limit":
			o.Limit, err = intOption(key, v)
		case "offset":
			o.Offset, err = intOption(key, v)
		case "lock", "lockMode":
			o.Lock, err = lockOption(v)
		case "conditions":
			o.Conditions, err = conditionsOption(v)
		case "join", "joins":
			o.Joins, err = joinsOption(v)
		}
		if err != nil {
			return Options{}, err
		}
	}
	return o, o.validate()
}

func stringOption(key string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &InvalidOptionsError{Reason: fmt.Sprintf("%s must be a string, got %T", key, v)}
	}
	return s, nil
}

func intOption(key string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err == nil {
			return i, nil
		}
	}
	return 0, &InvalidOptionsError{Reason: fmt.Sprintf("%s must be an integer, got %v", key, v)}
}

func lockOption(v interface{}) (LockMode, error) {
	switch l := v.(type) {
	case LockMode:
		return l, nil
	case string:
		switch strings.ToLower(l) {
		case "", "none":
			return LockNone, nil
		case "share", "sharemode":
			return LockShareMode, nil
		case "update", "forupdate":
			return LockForUpdate, nil
		}
	}
	return LockNone, &InvalidOptionsError{Reason: fmt.Sprintf("unknown lock mode %v", v)}
}

func conditionsOption(v interface{}) ([]Condition, error) {
	switch list := v.(type) {
	case []Condition:
		return list, nil
	case []interface{}:
		conds := make([]Condition, 0, len(list))
		for _, entry := range list {
			switch e := entry.(type) {
			case Condition:
				conds = append(conds, e)
			case string:
				conds = append(conds, Cond(e))
			case []interface{}:
				if len(e) == 0 {
					return nil, &InvalidOptionsError{Reason: "empty condition"}
				}
				tpl, ok := e[0].(string)
				if !ok {
					return nil, &InvalidOptionsError{Reason: fmt.Sprintf("condition template must be a string, got %T", e[0])}
				}
				conds = append(conds, Cond(tpl, e[1:]...))
			default:
				return nil, &InvalidOptionsError{Reason: fmt.Sprintf("condition must be a list, got %T", entry)}
			}
		}
		return conds, nil
	}
	return nil, &InvalidOptionsError{Reason: fmt.Sprintf("conditions must be a list, got %T", v)}
}

func joinsOption(v interface{}) ([]Join, error) {
	var list []interface{}
	switch j := v.(type) {
	case []Join:
		return j, nil
	case []interface{}:
		list = j
	default:
		list = []interface{}{j}
	}

	var joins []Join
	for _, entry := range list {
		switch e := entry.(type) {
		case string:
			joins = append(joins, Join{Table: e})
		case map[string]interface{}:
			for _, table := range slices.Sorted(maps.Keys(e)) {
				alias, ok := e[table].(string)
				if !ok {
					return nil, &InvalidOptionsError{Reason: fmt.Sprintf("alias of %s must be a string", table)}
				}
				joins = append(joins, Join{Table: table, Alias: alias})
			}
		case map[string]string:
			for _, table := range slices.Sorted(maps.Keys(e)) {
				joins = append(joins, Join{Table: table, Alias: e[table]})
			}
		default:
			return nil, &InvalidOptionsError{Reason: fmt.Sprintf("join must be a table name or a table/alias map, got %T", entry)}
		}
	}
	return joins, nil
}
