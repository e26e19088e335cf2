package orm

import (
	"sync"
)

// ResultCache memoizes select results by fully qualified table, record type
// and statement text. Any write through a container drops every entry of the
// written table. Records are copied in and out, so changes a caller makes to
// a returned record are never seen by later hits.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]map[string]map[string][]*Record
}

func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]map[string]map[string][]*Record)}
}

// Get returns the cached records of query, if any.
func (c *ResultCache) Get(table, recordType, query string) ([]*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	records, ok := c.entries[table][recordType][query]
	if !ok {
		return nil, false
	}
	return cloneRecords(records), true
}

func (c *ResultCache) Put(table, recordType, query string, records []*Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	types, ok := c.entries[table]
	if !ok {
		types = make(map[string]map[string][]*Record)
		c.entries[table] = types
	}
	queries, ok := types[recordType]
	if !ok {
		queries = make(map[string][]*Record)
		types[recordType] = queries
	}
	queries[query] = cloneRecords(records)
}

// Invalidate drops every cached result of table.
func (c *ResultCache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
}

func (c *ResultCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]map[string][]*Record)
}

// Len returns the number of cached statements over all tables.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, types := range c.entries {
		for _, queries := range types {
			n += len(queries)
		}
	}
	return n
}

func cloneRecords(records []*Record) []*Record {
	out := make([]*Record, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}
	return out
}
