package orm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"dbkit/internal/logger"
	"dbkit/internal/schema"
)

// ValueKind tags the content of a property.
type ValueKind int

const (
	Unset ValueKind = iota
	Null
	Scalar
	// Reference is a foreign key value that has not been resolved yet.
	Reference
	// Resolved is a foreign key resolved into the related Record.
	Resolved
)

// Value is one property of a Record.
type Value struct {
	kind   ValueKind
	scalar interface{}
	record *Record
}

func (v Value) Kind() ValueKind { return v.kind }

// Interface returns the scalar, the related Record or nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Scalar, Reference:
		return v.scalar
	case Resolved:
		return v.record
	}
	return nil
}

// VirtualFunc computes a virtual property on read.
type VirtualFunc func(r *Record) interface{}

// Record is one row. Properties keep their insertion order. Writes made after
// the record was loaded or inserted are tracked with the value they replaced.
type Record struct {
	container *Container
	schema    *schema.Schema
	populated bool

	order    []string
	values   map[string]Value
	modified map[string]interface{}
	modOrder []string
	virtual  map[string]VirtualFunc
}

// NewRecord returns an empty record bound to c. c may be nil.
func NewRecord(c *Container) *Record {
	return &Record{
		container: c,
		values:    make(map[string]Value),
		modified:  make(map[string]interface{}),
		virtual:   make(map[string]VirtualFunc),
	}
}

func (r *Record) Container() *Container {
	return r.container
}

// Set stores a property. The string "NULL" stores nil. Records are kept as
// related records; other values are reduced to int64, float64, bool or string.
func (r *Record) Set(prop string, v interface{}) {
	if s, ok := v.(string); ok && s == "NULL" {
		v = nil
	}
	r.assign(prop, normalize(v), r.tracking())
}

// SetAll sets every entry of props in sorted key order.
func (r *Record) SetAll(props map[string]interface{}) {
	for _, k := range slices.Sorted(maps.Keys(props)) {
		r.Set(k, props[k])
	}
}

func (r *Record) tracking() bool {
	return r.container != nil && r.populated
}

func (r *Record) assign(prop string, v interface{}, track bool) {
	old, exists := r.values[prop]
	if !exists {
		r.order = append(r.order, prop)
	}
	if track {
		if _, seen := r.modified[prop]; !seen {
			r.modified[prop] = old.Interface()
			r.modOrder = append(r.modOrder, prop)
		}
	}
	r.values[prop] = r.valueOf(prop, v)
}

func (r *Record) valueOf(prop string, v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Value{kind: Null}
	case *Record:
		return Value{kind: Resolved, record: x}
	}
	if _, ok := r.schema.ForeignKey(prop); ok {
		return Value{kind: Reference, scalar: v}
	}
	return Value{kind: Scalar, scalar: v}
}

// clone returns a copy of r that shares no mutable state with it. Related
// records are shared.
func (r *Record) clone() *Record {
	return &Record{
		container: r.container,
		schema:    r.schema,
		populated: r.populated,
		order:     slices.Clone(r.order),
		values:    maps.Clone(r.values),
		modified:  maps.Clone(r.modified),
		modOrder:  slices.Clone(r.modOrder),
		virtual:   maps.Clone(r.virtual),
	}
}

// Value returns the tagged value of prop; Kind is Unset if it was never set.
func (r *Record) Value(prop string) Value {
	return r.values[prop]
}

// Has reports whether prop was set.
func (r *Record) Has(prop string) bool {
	_, ok := r.values[prop]
	return ok
}

// Get returns the value of prop. Foreign keys are returned as stored, resolved
// or not; use Related to resolve them. An absent property with a virtual
// computer is computed.
func (r *Record) Get(prop string) interface{} {
	if v, ok := r.values[prop]; ok {
		return v.Interface()
	}
	if fn, ok := r.virtual[prop]; ok {
		return fn(r)
	}
	return nil
}

// Unset removes prop.
func (r *Record) Unset(prop string) {
	if _, ok := r.values[prop]; !ok {
		return
	}
	delete(r.values, prop)
	for i, p := range r.order {
		if p == prop {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Keys returns the set property names in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.order...)
}

// Properties returns a copy of all set properties. Related records are
// replaced by their primary keys.
func (r *Record) Properties() map[string]interface{} {
	m := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		m[k] = scalarOf(v.Interface())
	}
	return m
}

// Related resolves the foreign key prop into the referenced record and keeps
// it in place of the raw value. It returns nil when prop is not a foreign key,
// is NULL, or references no existing row.
func (r *Record) Related(ctx context.Context, prop string) (*Record, error) {
	v, ok := r.values[prop]
	if !ok {
		return nil, nil
	}
	switch v.kind {
	case Resolved:
		return v.record, nil
	case Null, Unset:
		return nil, nil
	}
	if r.container == nil {
		return nil, ErrUnbound
	}

	target, refProp, err := r.container.referenceFor(ctx, prop)
	if err != nil || target == nil {
		return nil, err
	}
	if refProp == "" {
		s, err := target.Schema(ctx)
		if err != nil {
			return nil, err
		}
		if !s.HasPrimaryKey() {
			return nil, &SchemaLoadError{Table: target.FullyQualifiedTable(), Cause: schema.ErrNoPrimaryKey}
		}
		refProp = s.PrimaryKey
	}

	res, err := target.Dispatch(ctx, Criterion{Op: OpSelectFirst, Property: refProp}, v.scalar)
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		return nil, nil
	}
	r.values[prop] = Value{kind: Resolved, record: res.Record}
	return res.Record, nil
}

// SetVirtual registers a computed property. It is only consulted while prop
// is not set and is never saved.
func (r *Record) SetVirtual(prop string, fn VirtualFunc) {
	r.virtual[prop] = fn
}

var programs sync.Map // expression source -> *vm.Program

// SetVirtualExpr registers a computed property defined by an expr-lang
// expression over the record's properties, for example
// `firstName + " " + lastName`.
func (r *Record) SetVirtualExpr(prop, code string) error {
	program, err := compileExpr(code)
	if err != nil {
		return err
	}
	r.SetVirtual(prop, func(rec *Record) interface{} {
		out, err := expr.Run(program, rec.exprEnv())
		if err != nil {
			logger.Warn("virtual property %s: %v", prop, err)
			return nil
		}
		return out
	})
	return nil
}

func compileExpr(code string) (*vm.Program, error) {
	if p, ok := programs.Load(code); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	programs.Store(code, p)
	return p, nil
}

func (r *Record) exprEnv() map[string]interface{} {
	env := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		if v.kind == Resolved {
			env[k] = v.record.Properties()
			continue
		}
		env[k] = v.Interface()
	}
	return env
}

// PrimaryKey returns the value of the primary key property, or nil if the
// record is unbound, the table has no primary key or the key is empty.
func (r *Record) PrimaryKey() interface{} {
	pk := r.primaryKeyProperty()
	if pk == "" {
		return nil
	}
	v := scalarOf(r.Get(pk))
	if isEmptyKey(v) {
		return nil
	}
	return v
}

func (r *Record) primaryKeyProperty() string {
	if r.container == nil {
		return ""
	}
	if r.schema != nil {
		return r.schema.PrimaryKey
	}
	if s, ok := r.container.cachedSchema(); ok {
		return s.PrimaryKey
	}
	return ""
}

func isEmptyKey(v interface{}) bool {
	switch k := v.(type) {
	case nil:
		return true
	case string:
		return k == ""
	case int64:
		return k == 0
	}
	return false
}

// Modified returns the properties changed since load, in order of first change.
func (r *Record) Modified() []string {
	return append([]string(nil), r.modOrder...)
}

func (r *Record) IsModified(prop string) bool {
	_, ok := r.modified[prop]
	return ok
}

// OldValue returns the value prop had before its first modification.
func (r *Record) OldValue(prop string) (interface{}, bool) {
	v, ok := r.modified[prop]
	return v, ok
}

func (r *Record) clearModified() {
	r.modified = make(map[string]interface{})
	r.modOrder = nil
}

// Save inserts or updates the record through its container.
func (r *Record) Save(ctx context.Context) error {
	if r.container == nil {
		return ErrUnbound
	}
	return r.container.Save(ctx, r)
}

// String returns the primary key, or "" for unsaved records.
func (r *Record) String() string {
	pk := r.PrimaryKey()
	if pk == nil {
		return ""
	}
	return fmt.Sprint(pk)
}

// MarshalJSON writes the properties as an object in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(scalarOf(r.values[k].Interface()))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// normalize reduces v to int64, float64, bool, string, *Record or nil.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case *Record:
		if x == nil {
			return nil
		}
		return x
	case string, bool, int64, float64:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return fromUint(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// fromUint keeps values beyond the int64 range as decimal strings.
func fromUint(n uint64) interface{} {
	if n > math.MaxInt64 {
		return strconv.FormatUint(n, 10)
	}
	return int64(n)
}

// scalarOf replaces a related record by its primary key.
func scalarOf(v interface{}) interface{} {
	if rec, ok := v.(*Record); ok {
		if rec == nil {
			return nil
		}
		return rec.PrimaryKey()
	}
	return v
}
