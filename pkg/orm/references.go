package orm

import (
	"sync"
)

// ContainerFunc builds a container on first use.
type ContainerFunc func() *Container

// reference is a registered container for foreign key resolution, built
// lazily when only a ContainerFunc was given.
type reference struct {
	once             sync.Once
	container        *Container
	fn               ContainerFunc
	referencedColumn string
}

func (r *reference) get() *Container {
	r.once.Do(func() {
		if r.container == nil && r.fn != nil {
			r.container = r.fn()
		}
	})
	return r.container
}

// ReferenceRegistry maps referenced tables to the containers that resolve
// foreign keys pointing at them, for every container of an Env.
type ReferenceRegistry struct {
	mu      sync.RWMutex
	byTable map[string]*reference
}

func NewReferenceRegistry() *ReferenceRegistry {
	return &ReferenceRegistry{byTable: make(map[string]*reference)}
}

// Register makes c resolve every foreign key that references table.
func (r *ReferenceRegistry) Register(table string, c *Container) {
	r.set(table, &reference{container: c})
}

// RegisterFunc is like Register but builds the container on first resolution.
func (r *ReferenceRegistry) RegisterFunc(table string, fn ContainerFunc) {
	r.set(table, &reference{fn: fn})
}

// Lookup returns the container registered for table, or nil.
func (r *ReferenceRegistry) Lookup(table string) *Container {
	r.mu.RLock()
	ref, ok := r.byTable[table]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ref.get()
}

func (r *ReferenceRegistry) Remove(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTable, table)
}

func (r *ReferenceRegistry) set(table string, ref *reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTable[table] = ref
}
