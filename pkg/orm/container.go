package orm

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"dbkit/internal/logger"
	"dbkit/internal/naming"
	"dbkit/internal/schema"
)

const (
	defaultRecordType = "Record"
	countColumn       = "core_count_result"
)

// RecordFunc is called with the record an insert or update was made for.
type RecordFunc func(ctx context.Context, r *Record)

// DeleteFunc is called after a delete. r is nil when rows were deleted by
// options rather than as a record.
type DeleteFunc func(ctx context.Context, r *Record, opts Options)

// shared is the part of a container that filtered copies have in common.
type shared struct {
	mu       sync.RWMutex
	onInsert []RecordFunc
	onUpdate []RecordFunc
	onDelete []DeleteFunc

	columnRefs map[string]*reference
	tableRefs  map[string]*reference

	locking      bool
	lockingProps []string
}

func newShared(locking bool, props []string) *shared {
	return &shared{
		columnRefs:   make(map[string]*reference),
		tableRefs:    make(map[string]*reference),
		locking:      locking,
		lockingProps: slices.Clone(props),
	}
}

// Container is the gateway to one table. Records selected through it are
// bound to it and saved through it.
type Container struct {
	env        *Env
	table      string
	recordType string
	init       func(*Record)
	filters    []Options
	shared     *shared
}

type ContainerOption func(*Container)

// WithRecordType names the kind of record the container produces; results
// are cached per record type. init, if not nil, is run on every new record,
// typically to register virtual properties.
func WithRecordType(name string, init func(*Record)) ContainerOption {
	return func(c *Container) {
		c.recordType = name
		c.init = init
	}
}

// WithFilter adds a filter applied to every select and delete by options.
func WithFilter(f Options) ContainerOption {
	return func(c *Container) {
		c.filters = append(c.filters, f.clone())
	}
}

func (c *Container) Env() *Env          { return c.env }
func (c *Container) Table() string      { return c.table }
func (c *Container) RecordType() string { return c.recordType }

// FullyQualifiedTable returns database.table.
func (c *Container) FullyQualifiedTable() string {
	return schema.Key(c.env.conn.DatabaseName(), c.table)
}

// Schema returns the table's schema, loading it on first use.
func (c *Container) Schema(ctx context.Context) (*schema.Schema, error) {
	return c.env.schemas.Get(ctx, c.env.conn.DatabaseName(), c.table)
}

func (c *Container) cachedSchema() (*schema.Schema, bool) {
	return c.env.schemas.Cached(c.env.conn.DatabaseName(), c.table)
}

func (c *Container) primaryKey(ctx context.Context) (*schema.Schema, error) {
	s, err := c.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if !s.HasPrimaryKey() {
		return nil, &SchemaLoadError{Table: c.FullyQualifiedTable(), Cause: schema.ErrNoPrimaryKey}
	}
	return s, nil
}

// New returns an empty record bound to this container.
func (c *Container) New() *Record {
	r := NewRecord(c)
	if s, ok := c.cachedSchema(); ok {
		r.schema = s
	}
	if c.init != nil {
		c.init(r)
	}
	return r
}

// Filtered returns a container that applies f on top of this container's
// filters. Both containers share callbacks, references and locking, but
// later filter changes on either side do not affect the other.
func (c *Container) Filtered(f Options) *Container {
	filters := make([]Options, 0, len(c.filters)+1)
	for _, existing := range c.filters {
		filters = append(filters, existing.clone())
	}
	filters = append(filters, f.clone())
	return &Container{
		env:        c.env,
		table:      c.table,
		recordType: c.recordType,
		init:       c.init,
		filters:    filters,
		shared:     c.shared,
	}
}

// AddFilter adds f to this container only.
func (c *Container) AddFilter(f Options) {
	c.filters = append(c.filters, f.clone())
}

// Filters returns a copy of the container's filters.
func (c *Container) Filters() []Options {
	out := make([]Options, len(c.filters))
	for i, f := range c.filters {
		out[i] = f.clone()
	}
	return out
}

// Select returns the records matching opts. Results are cached until the
// next write through any container of the table; locked reads are neither
// served from nor stored in the cache. Every call returns records of its own.
func (c *Container) Select(ctx context.Context, opts Options) ([]*Record, error) {
	return c.selectMerged(ctx, mergeAll(opts, c.filters...))
}

// selectMerged runs a select whose options already include the filters.
func (c *Container) selectMerged(ctx context.Context, merged Options) ([]*Record, error) {
	s, err := c.Schema(ctx)
	if err != nil {
		return nil, err
	}
	query, err := c.env.builder.Build(Select, c.table, merged)
	if err != nil {
		return nil, err
	}

	fq := c.FullyQualifiedTable()
	cacheable := merged.Lock == LockNone
	if cacheable {
		if records, ok := c.env.cache.Get(fq, c.recordType, query); ok {
			logger.Debug("cache hit: %s", query)
			for _, r := range records {
				r.container = c
			}
			return records, nil
		}
	}

	records, err := c.query(ctx, s, query)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.env.cache.Put(fq, c.recordType, query, records)
	}
	return records, nil
}

func (c *Container) query(ctx context.Context, s *schema.Schema, query string) ([]*Record, error) {
	rows, err := c.env.conn.Query(ctx, query)
	if err != nil {
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		r := c.New()
		r.schema = s
		for i, col := range row.Columns {
			r.assign(naming.ToProperty(col), normalize(row.Values[i]), false)
		}
		r.populated = true
		records = append(records, r)
	}
	return records, nil
}

// SelectFirst returns the first matching record, or nil.
func (c *Container) SelectFirst(ctx context.Context, opts Options) (*Record, error) {
	o := opts.clone()
	o.Limit = 1
	records, err := c.Select(ctx, o)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// SelectByPK returns the record with the given primary key, or nil.
func (c *Container) SelectByPK(ctx context.Context, pk interface{}, opts ...Options) (*Record, error) {
	s, err := c.primaryKey(ctx)
	if err != nil {
		return nil, err
	}
	return c.SelectFirstBy(ctx, s.PrimaryKey, pk, opts...)
}

// Count returns the number of rows matching opts. The select list of opts
// and of the filters is replaced by the count.
func (c *Container) Count(ctx context.Context, opts Options) (int, error) {
	merged := mergeAll(opts, c.filters...)
	merged.Properties = "COUNT(*) AS " + countColumn
	records, err := c.selectMerged(ctx, merged)
	if err != nil || len(records) == 0 {
		return 0, err
	}
	prop := naming.ToProperty(countColumn)
	if !records[0].Has(prop) {
		return 0, fmt.Errorf("count of %s returned no %s column", c.FullyQualifiedTable(), countColumn)
	}
	return toInt(records[0].Get(prop))
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected count result %v (%T)", v, v)
}

// Save inserts a new record or writes the modified properties of a loaded
// one. Saving a loaded record without modifications does nothing.
func (c *Container) Save(ctx context.Context, r *Record) error {
	s, err := c.primaryKey(ctx)
	if err != nil {
		return err
	}
	if r.container == nil {
		r.container = c
	}
	r.schema = s

	if !r.populated || r.PrimaryKey() == nil {
		return c.insert(ctx, s, r)
	}
	if len(r.modOrder) == 0 {
		return nil
	}
	return c.update(ctx, s, r)
}

func (c *Container) insert(ctx context.Context, s *schema.Schema, r *Record) error {
	columns := make([]string, 0, len(r.order))
	values := make([]interface{}, 0, len(r.order))
	for _, prop := range r.order {
		columns = append(columns, naming.ToColumn(prop))
		values = append(values, r.values[prop].Interface())
	}
	query := c.env.builder.Insert(c.table, columns, values)

	id, err := c.env.conn.Insert(ctx, query, naming.ToColumn(s.PrimaryKey))
	if err != nil {
		return &QueryExecutionError{Query: query, Err: err}
	}
	if id != nil && r.PrimaryKey() == nil {
		r.assign(s.PrimaryKey, normalize(id), false)
	}
	for _, prop := range s.ColumnOrder {
		if r.Has(prop) {
			continue
		}
		if dflt := s.Columns[prop].DefaultValue; dflt != nil {
			r.assign(prop, *dflt, false)
		} else {
			r.assign(prop, nil, false)
		}
	}
	r.populated = true
	r.clearModified()
	logger.Debug("inserted %s into %s", r, c.FullyQualifiedTable())

	c.shared.mu.RLock()
	callbacks := slices.Clone(c.shared.onInsert)
	c.shared.mu.RUnlock()
	for _, fn := range callbacks {
		fn(ctx, r)
	}
	c.env.cache.Invalidate(c.FullyQualifiedTable())
	return nil
}

func (c *Container) update(ctx context.Context, s *schema.Schema, r *Record) error {
	b := c.env.builder
	pk := r.PrimaryKey()
	if old, ok := r.modified[s.PrimaryKey]; ok {
		pk = scalarOf(old)
	}

	set := make([]string, 0, len(r.modOrder))
	for _, prop := range r.modOrder {
		set = append(set, b.Assignment(naming.ToColumn(prop), r.values[prop].Interface()))
	}
	opts := Options{
		Properties: strings.Join(set, ", "),
		Conditions: []Condition{b.Equals(naming.ToColumn(s.PrimaryKey), pk)},
	}
	locked := c.lockedProperties(s, r)
	for _, prop := range locked {
		opts.Conditions = append(opts.Conditions, b.NullSafeEquals(naming.ToColumn(prop), r.modified[prop]))
	}

	query, err := b.Build(Update, c.table, opts)
	if err != nil {
		return err
	}
	res, err := c.env.conn.Exec(ctx, query)
	if err != nil {
		return &QueryExecutionError{Query: query, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &QueryExecutionError{Query: query, Err: err}
	}
	c.env.cache.Invalidate(c.FullyQualifiedTable())

	if affected == 0 && len(locked) > 0 {
		return c.conflict(ctx, s, r, pk)
	}
	r.clearModified()

	c.shared.mu.RLock()
	callbacks := slices.Clone(c.shared.onUpdate)
	c.shared.mu.RUnlock()
	for _, fn := range callbacks {
		fn(ctx, r)
	}
	return nil
}

// lockedProperties returns the modified properties compared against their
// old values. A zero row update only counts as a conflict when this is not
// empty.
func (c *Container) lockedProperties(s *schema.Schema, r *Record) []string {
	c.shared.mu.RLock()
	defer c.shared.mu.RUnlock()
	if !c.shared.locking {
		return nil
	}
	var locked []string
	for _, prop := range r.modOrder {
		if prop == s.PrimaryKey {
			continue
		}
		if len(c.shared.lockingProps) == 0 || slices.Contains(c.shared.lockingProps, prop) {
			locked = append(locked, prop)
		}
	}
	return locked
}

// conflict reloads the row the failed update targeted and reports every
// modified property whose stored value differs from the assumed old value.
func (c *Container) conflict(ctx context.Context, s *schema.Schema, r *Record, pk interface{}) error {
	fq := c.FullyQualifiedTable()
	query, err := c.env.builder.Build(Select, c.table, Options{
		Conditions: []Condition{c.env.builder.Equals(naming.ToColumn(s.PrimaryKey), pk)},
		Limit:      1,
	})
	if err != nil {
		return err
	}
	current, err := c.query(ctx, s, query)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		logger.Warn("optimistic lock failed on %s: row %v is gone", fq, pk)
		return &ConcurrentModificationError{Table: fq, Missing: true}
	}

	cme := &ConcurrentModificationError{Table: fq}
	for _, prop := range r.modOrder {
		old := scalarOf(r.modified[prop])
		now := scalarOf(current[0].Get(prop))
		if !looseEqual(old, now) {
			cme.Conflicts = append(cme.Conflicts, PropertyConflict{Property: prop, OldValue: old, NewValue: now})
		}
	}
	logger.Warn("optimistic lock failed on %s: %v", fq, cme)
	return cme
}

// looseEqual compares scalars by their string form, so 1 equals "1". NULL only
// equals NULL.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Delete removes the row of r.
func (c *Container) Delete(ctx context.Context, r *Record) error {
	s, err := c.primaryKey(ctx)
	if err != nil {
		return err
	}
	if r.schema == nil {
		r.schema = s
	}
	pk := r.PrimaryKey()
	if pk == nil {
		return ErrNotPersisted
	}
	opts := Options{Conditions: []Condition{c.env.builder.Equals(naming.ToColumn(s.PrimaryKey), pk)}}
	query, err := c.env.builder.Build(Delete, c.table, opts)
	if err != nil {
		return err
	}
	if _, err := c.env.conn.Exec(ctx, query); err != nil {
		return &QueryExecutionError{Query: query, Err: err}
	}
	c.env.cache.Invalidate(c.FullyQualifiedTable())
	c.fireDelete(ctx, r, opts)
	return nil
}

// DeleteWhere removes the rows matching opts and the container's filters and
// returns how many were removed.
func (c *Container) DeleteWhere(ctx context.Context, opts Options) (int64, error) {
	query, err := c.env.builder.Build(Delete, c.table, opts, c.filters...)
	if err != nil {
		return 0, err
	}
	res, err := c.env.conn.Exec(ctx, query)
	if err != nil {
		return 0, &QueryExecutionError{Query: query, Err: err}
	}
	c.env.cache.Invalidate(c.FullyQualifiedTable())
	c.fireDelete(ctx, nil, opts)
	return res.RowsAffected()
}

// Clear removes every row visible through the container's filters.
func (c *Container) Clear(ctx context.Context) (int64, error) {
	return c.DeleteWhere(ctx, Options{})
}

// UpdateByOptions runs an UPDATE whose SET list is opts.Properties against the
// rows matching opts and the container's filters.
func (c *Container) UpdateByOptions(ctx context.Context, opts Options) (int64, error) {
	query, err := c.env.builder.Build(Update, c.table, opts, c.filters...)
	if err != nil {
		return 0, err
	}
	res, err := c.env.conn.Exec(ctx, query)
	if err != nil {
		return 0, &QueryExecutionError{Query: query, Err: err}
	}
	c.env.cache.Invalidate(c.FullyQualifiedTable())
	return res.RowsAffected()
}

// TableExists reports whether the table exists in the connected database.
func (c *Container) TableExists(ctx context.Context) (bool, error) {
	query := c.env.conn.Dialect().TableExistsQuery(c.env.conn.DatabaseName(), c.table)
	rows, err := c.env.conn.Query(ctx, query)
	if err != nil {
		return false, &QueryExecutionError{Query: query, Err: err}
	}
	return len(rows) > 0, nil
}

func (c *Container) fireDelete(ctx context.Context, r *Record, opts Options) {
	c.shared.mu.RLock()
	callbacks := slices.Clone(c.shared.onDelete)
	c.shared.mu.RUnlock()
	for _, fn := range callbacks {
		fn(ctx, r, opts)
	}
}

func (c *Container) OnInsert(fn RecordFunc) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.onInsert = append(c.shared.onInsert, fn)
}

func (c *Container) OnUpdate(fn RecordFunc) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.onUpdate = append(c.shared.onUpdate, fn)
}

func (c *Container) OnDelete(fn DeleteFunc) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.onDelete = append(c.shared.onDelete, fn)
}

// EnableOptimisticLocking compares the old values of the given properties, or
// of all modified properties if none are given, when records are updated.
func (c *Container) EnableOptimisticLocking(props ...string) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.locking = true
	c.shared.lockingProps = slices.Clone(props)
}

func (c *Container) DisableOptimisticLocking() {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.locking = false
	c.shared.lockingProps = nil
}

// AddReferencedContainer makes target resolve the foreign key prop of this
// container's records. With an empty prop, target resolves every foreign key
// referencing target's table. referencedProp overrides the referenced column
// of the constraint.
func (c *Container) AddReferencedContainer(target *Container, prop, referencedProp string) {
	c.addReference(target.Table(), prop, &reference{container: target, referencedColumn: referencedProp})
}

// AddReferencedContainerFunc is like AddReferencedContainer for a container
// built on first resolution.
func (c *Container) AddReferencedContainerFunc(table string, fn ContainerFunc, prop, referencedProp string) {
	c.addReference(table, prop, &reference{fn: fn, referencedColumn: referencedProp})
}

func (c *Container) addReference(table, prop string, ref *reference) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	if prop == "" {
		c.shared.tableRefs[table] = ref
		return
	}
	c.shared.columnRefs[prop] = ref
}

// referenceFor finds the container resolving prop and the referenced
// property, empty for the primary key. Per-property registrations win over
// per-table ones, which win over the Env registry; without any registration
// a new container of the referenced table is used.
func (c *Container) referenceFor(ctx context.Context, prop string) (*Container, string, error) {
	s, err := c.Schema(ctx)
	if err != nil {
		return nil, "", err
	}
	fk, isFK := s.ForeignKey(prop)

	c.shared.mu.RLock()
	colRef := c.shared.columnRefs[prop]
	tableRef := c.shared.tableRefs[fk.ReferencedTable]
	c.shared.mu.RUnlock()

	if colRef != nil {
		return colRef.get(), firstNonEmpty(colRef.referencedColumn, fk.ReferencedColumn), nil
	}
	if !isFK {
		return nil, "", nil
	}
	if tableRef != nil {
		return tableRef.get(), firstNonEmpty(tableRef.referencedColumn, fk.ReferencedColumn), nil
	}
	if target := c.env.references.Lookup(fk.ReferencedTable); target != nil {
		return target, fk.ReferencedColumn, nil
	}
	return c.env.Container(fk.ReferencedTable), fk.ReferencedColumn, nil
}
