package fields

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// AllTables asks FieldsFor for the cross-table view.
const AllTables = "*"

var (
	// ErrDuplicateKey is returned when a custom field key is already registered.
	ErrDuplicateKey = errors.New("custom field already registered")
	// ErrNotFound is returned when unregistering an unknown custom field.
	ErrNotFound = errors.New("custom field not found")
)

// Registry holds built-in field definitions and the current custom ones.
// Reads always see the latest registration; nothing is cached.
type Registry struct {
	builtin []FieldDefinition
	tables  []string

	mu     sync.RWMutex
	custom []FieldDefinition
}

// NewRegistry creates a registry over the given built-in definitions.
// Panics if two built-ins share a key within one table.
func NewRegistry(builtin []FieldDefinition) *Registry {
	seen := make(map[string]bool)
	r := &Registry{}
	for _, def := range builtin {
		def.IsCustom = false
		for _, table := range def.Tables {
			id := table + "." + def.Key
			if seen[id] {
				panic(fmt.Sprintf("field already registered: %s", id))
			}
			seen[id] = true
			if !slices.Contains(r.tables, table) {
				r.tables = append(r.tables, table)
			}
		}
		r.builtin = append(r.builtin, cloneDef(def))
	}
	return r
}

// Register adds a custom field definition.
func (r *Registry) Register(def FieldDefinition) error {
	def.IsCustom = true
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.custom {
		if existing.Key == def.Key {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, def.Key)
		}
	}
	r.custom = append(r.custom, cloneDef(def))
	return nil
}

// Unregister removes a custom field by key.
func (r *Registry) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.custom {
		if existing.Key == key {
			r.custom = slices.Delete(r.custom, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Snapshot returns a copy of the registered custom fields.
func (r *Registry) Snapshot() []FieldDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FieldDefinition, len(r.custom))
	for i, def := range r.custom {
		out[i] = cloneDef(def)
	}
	return out
}

// FieldsFor returns the built-in fields of table followed by the custom
// fields targeting it. A custom field whose key collides with a built-in
// of the same table is hidden. FieldsFor(AllTables) is AllFields.
func (r *Registry) FieldsFor(table string) []FieldDefinition {
	if table == AllTables {
		return r.AllFields()
	}

	var out []FieldDefinition
	keys := make(map[string]bool)
	for _, def := range r.builtin {
		if def.AppliesTo(table) {
			out = append(out, cloneDef(def))
			keys[def.Key] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.custom {
		if def.AppliesTo(table) && !keys[def.Key] {
			out = append(out, cloneDef(def))
			keys[def.Key] = true
		}
	}
	return out
}

// AllFields unions the fields of every known table, first occurrence of a
// key wins.
func (r *Registry) AllFields() []FieldDefinition {
	var out []FieldDefinition
	seen := make(map[string]bool)
	for _, table := range r.Tables() {
		for _, def := range r.FieldsFor(table) {
			if seen[def.Key] {
				continue
			}
			seen[def.Key] = true
			out = append(out, def)
		}
	}
	return out
}

// Tables returns the built-in tables in declaration order, then any table
// only named by custom fields.
func (r *Registry) Tables() []string {
	tables := slices.Clone(r.tables)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.custom {
		for _, t := range def.Tables {
			if !slices.Contains(tables, t) {
				tables = append(tables, t)
			}
		}
	}
	return tables
}

// Field looks up one field of table by key.
func (r *Registry) Field(table, key string) (FieldDefinition, bool) {
	for _, def := range r.FieldsFor(table) {
		if def.Key == key {
			return def, true
		}
	}
	return FieldDefinition{}, false
}

func cloneDef(d FieldDefinition) FieldDefinition {
	d.Keywords = slices.Clone(d.Keywords)
	d.Tables = slices.Clone(d.Tables)
	d.Truthy = slices.Clone(d.Truthy)
	if d.Options != nil {
		opts := make(OptionSet, len(d.Options))
		for i, o := range d.Options {
			opts[i] = Option{Label: o.Label, Accepted: slices.Clone(o.Accepted)}
		}
		d.Options = opts
	}
	return d
}
