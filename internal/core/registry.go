package core

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog holds the destination table definitions an import can target.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]TableDefinition
}

// NewCatalog creates a catalog holding defs.
func NewCatalog(defs ...TableDefinition) *Catalog {
	c := &Catalog{tables: make(map[string]TableDefinition)}
	for _, def := range defs {
		c.Register(def)
	}
	return c
}

// Register adds a table definition to the catalog.
// Panics if a table with the same key is already registered.
func (c *Catalog) Register(def TableDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[def.Info.Key]; exists {
		panic(fmt.Sprintf("table already registered: %s", def.Info.Key))
	}
	if def.Info.DisplayField == "" && len(def.Info.NaturalKey) > 0 {
		def.Info.DisplayField = def.Info.NaturalKey[0]
	}
	c.tables[def.Info.Key] = def
}

// Get returns a table definition by key.
// Returns false if not found.
func (c *Catalog) Get(key string) (TableDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.tables[key]
	return def, ok
}

// All returns all registered table definitions sorted by key.
func (c *Catalog) All() []TableDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]TableDefinition, 0, len(c.tables))
	for _, def := range c.tables {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// TableCount returns the number of registered tables.
func (c *Catalog) TableCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
