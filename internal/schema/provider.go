package schema

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"dbkit/internal/logger"
)

// Introspector reads a table's raw structure from the database.
type Introspector interface {
	Introspect(ctx context.Context, database, table string) (Raw, error)
}

// Store persists schemas beyond the process lifetime.
type Store interface {
	Load(key string) (*Schema, bool, error)
	Save(key string, s *Schema) error
	Clear() error
}

// Key returns the fully qualified cache key of a table.
func Key(database, table string) string {
	return database + "." + table
}

// Provider loads schemas on first use and keeps them for the lifetime of the
// process. Entries are never invalidated automatically; call ClearAll after the
// database structure changed.
type Provider struct {
	source Introspector
	store  Store

	mu      sync.RWMutex
	schemas map[string]*Schema
	group   singleflight.Group
}

// NewProvider returns a Provider reading from source. store may be nil.
func NewProvider(source Introspector, store Store) *Provider {
	return &Provider{
		source:  source,
		store:   store,
		schemas: make(map[string]*Schema),
	}
}

// Get returns the schema of database.table, loading it if necessary.
func (p *Provider) Get(ctx context.Context, database, table string) (*Schema, error) {
	key := Key(database, table)

	p.mu.RLock()
	s, ok := p.schemas[key]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.RLock()
		s, ok := p.schemas[key]
		p.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := p.load(ctx, key, database, table)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.schemas[key] = s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}

func (p *Provider) load(ctx context.Context, key, database, table string) (*Schema, error) {
	if p.store != nil {
		s, ok, err := p.store.Load(key)
		if err != nil {
			logger.Warn("schema store lookup for %s: %v", key, err)
		} else if ok {
			logger.Debug("schema of %s restored from store", key)
			return s, nil
		}
	}

	if p.source == nil {
		return nil, &LoadError{Table: key, Cause: ErrNoColumns}
	}
	raw, err := p.source.Introspect(ctx, database, table)
	if err != nil {
		return nil, &LoadError{Table: key, Cause: err}
	}
	if len(raw.Columns) == 0 {
		return nil, &LoadError{Table: key, Cause: ErrNoColumns}
	}
	s := FromRaw(table, raw)
	logger.Info("loaded schema of %s (%d columns, primary key %q)", key, len(s.Columns), s.PrimaryKey)

	if p.store != nil {
		if err := p.store.Save(key, s); err != nil {
			logger.Warn("schema store write for %s: %v", key, err)
		}
	}
	return s, nil
}

// Cached returns the schema of database.table if it is already loaded.
func (p *Provider) Cached(database, table string) (*Schema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.schemas[Key(database, table)]
	return s, ok
}

// Put seeds the cache with a known schema, bypassing introspection.
func (p *Provider) Put(database, table string, s *Schema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[Key(database, table)] = s
}

// Len returns the number of cached schemas.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.schemas)
}

// ClearAll drops every cached schema, including the persistent store.
func (p *Provider) ClearAll() error {
	p.mu.Lock()
	p.schemas = make(map[string]*Schema)
	p.mu.Unlock()

	if p.store != nil {
		return p.store.Clear()
	}
	return nil
}
