// Package orm maps table rows to Records through Containers. A Container
// renders statements from Options, caches select results per table, tracks
// modified properties for optimistic locking and resolves foreign keys into
// related Records on request.
package orm

import (
	"dbkit/internal/db"
	"dbkit/internal/schema"
)

// Env holds the services shared by every container of one connection: the
// schema provider, the result cache and the reference registry.
type Env struct {
	conn       *db.Conn
	builder    *Builder
	schemas    *schema.Provider
	cache      *ResultCache
	references *ReferenceRegistry

	store        schema.Store
	locking      bool
	lockingProps []string
}

type EnvOption func(*Env)

// WithSchemaStore persists loaded schemas in store so that a restart does not
// repeat introspection.
func WithSchemaStore(store schema.Store) EnvOption {
	return func(e *Env) {
		e.store = store
	}
}

// WithOptimisticLocking enables optimistic locking for every container created
// afterwards. Without properties all modified properties are compared.
func WithOptimisticLocking(props ...string) EnvOption {
	return func(e *Env) {
		e.locking = true
		e.lockingProps = props
	}
}

func NewEnv(conn *db.Conn, opts ...EnvOption) *Env {
	e := &Env{
		conn:       conn,
		builder:    NewBuilder(conn.Dialect()),
		cache:      NewResultCache(),
		references: NewReferenceRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.schemas = schema.NewProvider(conn, e.store)
	return e
}

// Container returns a new container for table.
func (e *Env) Container(table string, opts ...ContainerOption) *Container {
	c := &Container{
		env:        e,
		table:      table,
		recordType: defaultRecordType,
		shared:     newShared(e.locking, e.lockingProps),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (e *Env) Conn() *db.Conn                 { return e.conn }
func (e *Env) Builder() *Builder              { return e.builder }
func (e *Env) Schemas() *schema.Provider      { return e.schemas }
func (e *Env) Cache() *ResultCache            { return e.cache }
func (e *Env) References() *ReferenceRegistry { return e.references }

// ClearQueryCache drops all cached select results.
func (e *Env) ClearQueryCache() {
	e.cache.ClearAll()
}

// ClearAll drops all cached select results and schemas, including the
// persistent schema store. Call it after the database structure changed.
func (e *Env) ClearAll() error {
	e.cache.ClearAll()
	return e.schemas.ClearAll()
}
