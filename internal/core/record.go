package core

import (
	"strings"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
	"github.com/clinicops/intake/internal/workbook"
)

// columnPlan says where one mapped column goes.
type columnPlan struct {
	index int
	field fields.FieldDefinition
	table string
	child *ChildCollection
}

// rowPlan turns sheet rows into canonical records for one session. It is
// built once before the row loop.
type rowPlan struct {
	def         TableDefinition
	columns     []columnPlan
	required    []fields.FieldDefinition
	transformer *transform.Transformer
}

// record is one source row after mapping and transformation.
type record struct {
	line      int
	main      store.Row
	custom    map[string]any
	secondary map[string]store.Row
	secCustom map[string]map[string]any
	children  map[string][]string
}

func newRowPlan(def TableDefinition, defs []fields.FieldDefinition, mappings []mapping.ColumnMapping, tr *transform.Transformer) *rowPlan {
	byKey := make(map[string]fields.FieldDefinition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}

	p := &rowPlan{def: def, transformer: tr}
	for _, m := range mappings {
		f, ok := byKey[m.FieldKey]
		if !m.Mapped() || !ok {
			continue
		}
		cp := columnPlan{index: m.Index, field: f, table: targetTable(def, f)}
		if child, ok := def.Child(f.Key); ok {
			cp.child = &child
		}
		if cp.table != "" {
			p.columns = append(p.columns, cp)
		}
	}

	for _, d := range defs {
		if d.Required && d.AppliesTo(def.Info.Key) {
			p.required = append(p.required, d)
		}
	}
	return p
}

// targetTable returns the destination of f: the session table when f
// belongs to it, else the first linked table f belongs to.
func targetTable(def TableDefinition, f fields.FieldDefinition) string {
	if f.AppliesTo(def.Info.Key) {
		return def.Info.Key
	}
	for _, l := range def.Links {
		if f.AppliesTo(l.Table) {
			return l.Table
		}
	}
	return ""
}

// build transforms the mapped cells of row. Empty values are left out so
// an update never blanks a stored column.
func (p *rowPlan) build(row workbook.Row) *record {
	rec := &record{
		line:      row.Line,
		main:      store.Row{},
		custom:    map[string]any{},
		secondary: map[string]store.Row{},
		secCustom: map[string]map[string]any{},
		children:  map[string][]string{},
	}

	for _, c := range p.columns {
		raw := row.Cell(c.index)
		if c.child != nil {
			if items := c.child.Split(raw); len(items) > 0 {
				rec.children[c.field.Key] = items
			}
			continue
		}

		v := p.transformer.Transform(raw, c.field)
		if v == nil {
			continue
		}

		switch {
		case c.table == p.def.Info.Key && c.field.IsCustom:
			rec.custom[c.field.Key] = customValue(v)
		case c.table == p.def.Info.Key:
			rec.main[c.field.Key] = v
		case c.field.IsCustom:
			if rec.secCustom[c.table] == nil {
				rec.secCustom[c.table] = map[string]any{}
			}
			rec.secCustom[c.table][c.field.Key] = customValue(v)
		default:
			if rec.secondary[c.table] == nil {
				rec.secondary[c.table] = store.Row{}
			}
			rec.secondary[c.table][c.field.Key] = v
		}
	}
	return rec
}

// identity returns the natural key filter, its display string and the
// display name of rec.
func (p *rowPlan) identity(rec *record) (store.Filter, string, string) {
	filter := make(store.Filter, len(p.def.Info.NaturalKey))
	parts := make([]string, 0, len(p.def.Info.NaturalKey))
	for _, k := range p.def.Info.NaturalKey {
		v := rec.main[k]
		filter[k] = v
		if v != nil {
			parts = append(parts, store.Canonical(v))
		}
	}
	name := ""
	if v, ok := rec.main[p.def.Info.DisplayField]; ok {
		name = store.Canonical(v)
	}
	return filter, strings.Join(parts, "|"), name
}

// customValue keeps custom field values JSON friendly.
func customValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(dates.ISOLayout)
	}
	return v
}

// mergeCustom overlays incoming onto the custom fields already stored.
func mergeCustom(existing store.Row, incoming map[string]any) map[string]any {
	merged := map[string]any{}
	if existing != nil {
		if cur, ok := existing[store.CustomFieldsColumn].(map[string]any); ok {
			for k, v := range cur {
				merged[k] = v
			}
		}
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
