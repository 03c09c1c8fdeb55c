package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
)

// TemplateTable stores saved column mappings.
const TemplateTable = "mapping_templates"

// TemplateMatchThreshold is the share of a template's headers a sheet must
// carry for the template to be suggested.
const TemplateMatchThreshold = 0.8

// ErrTemplateNotFound is returned for unknown template names.
var ErrTemplateNotFound = errors.New("mapping template not found")

// MappingTemplate is a saved header → field assignment for one table.
// Headers are stored normalized.
type MappingTemplate struct {
	Table     string            `json:"table"`
	Name      string            `json:"name"`
	Columns   map[string]string `json:"columns"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Headers returns the template's normalized headers, sorted.
func (t MappingTemplate) Headers() []string {
	out := make([]string, 0, len(t.Columns))
	for h := range t.Columns {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// TemplateMatch is a saved template that fits a sheet's headers.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"matchScore"`
}

// SaveTemplate stores the session's current mapping under name. Saving
// under an existing name replaces that template.
func (s *Service) SaveTemplate(ctx context.Context, id, name string) (*MappingTemplate, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	tmpl := MappingTemplate{
		Table:     sess.Table,
		Name:      name,
		Columns:   make(map[string]string),
		UpdatedAt: s.opts.Now(),
	}
	for _, m := range sess.Mappings() {
		if m.Mapped() {
			tmpl.Columns[mapping.Normalize(m.SourceColumn)] = m.FieldKey
		}
	}
	if len(tmpl.Columns) == 0 {
		return nil, fmt.Errorf("template %q has no mapped columns", name)
	}

	cols := make(map[string]any, len(tmpl.Columns))
	for h, f := range tmpl.Columns {
		cols[h] = f
	}
	row := store.Row{
		"table_key":      tmpl.Table,
		"name":           tmpl.Name,
		"column_mapping": cols,
		"updated_at":     tmpl.UpdatedAt,
	}
	if err := s.store.Upsert(ctx, TemplateTable, []store.Row{row}, []string{"table_key", "name"}); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}

	s.logger(ctx, sess).Info("mapping template saved",
		slog.String("template", name),
		slog.Int("columns", len(tmpl.Columns)),
	)
	return &tmpl, nil
}

// ListTemplates returns all templates for a table, sorted by name.
func (s *Service) ListTemplates(ctx context.Context, table string) ([]MappingTemplate, error) {
	rows, err := s.store.List(ctx, TemplateTable, store.Filter{"table_key": table})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]MappingTemplate, 0, len(rows))
	for _, r := range rows {
		t, err := rowToTemplate(r)
		if err != nil {
			s.opts.Logger.Warn("skipping unreadable mapping template",
				slog.String("table", table),
				slog.Any("name", r["name"]),
				slog.String("error", err.Error()),
			)
			continue
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})
	return templates, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, table, name string) error {
	n, err := s.store.Delete(ctx, TemplateTable, store.Filter{"table_key": table, "name": name})
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return nil
}

// MatchTemplates finds templates of the session's table that fit its
// headers, best first.
func (s *Service) MatchTemplates(ctx context.Context, id string) ([]TemplateMatch, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	templates, err := s.ListTemplates(ctx, sess.Table)
	if err != nil {
		return nil, err
	}

	sess.mu.RLock()
	headers := sess.sheet.ColumnNames()
	sess.mu.RUnlock()

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers())
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{
				Template:   t,
				MatchScore: score,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// ApplyTemplate remaps the session's columns from a saved template.
// Columns the template knows become manual mappings; fields no longer in
// the registry are skipped.
func (s *Service) ApplyTemplate(ctx context.Context, id, name string) (SessionInfo, error) {
	sess, err := s.Session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	templates, err := s.ListTemplates(ctx, sess.Table)
	if err != nil {
		return SessionInfo{}, err
	}
	var tmpl *MappingTemplate
	for i := range templates {
		if templates[i].Name == name {
			tmpl = &templates[i]
			break
		}
	}
	if tmpl == nil {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	sess.mu.Lock()
	if err := sess.transition(StateMappingReady); err != nil {
		sess.mu.Unlock()
		return SessionInfo{}, err
	}
	sess.fields = s.candidateFields(sess.def)
	updated := sess.mappings
	applied := 0
	for i, m := range sess.mappings {
		key, ok := tmpl.Columns[mapping.Normalize(m.SourceColumn)]
		if !ok {
			continue
		}
		next, err := mapping.Override(updated, i, key, sess.fields)
		if err != nil {
			continue
		}
		updated = next
		applied++
	}
	sess.mappings = updated
	sess.preview = nil
	sess.decision = s.decideFormat(sess)
	sess.mu.Unlock()

	s.logger(ctx, sess).Info("mapping template applied",
		slog.String("template", name),
		slog.Int("columns", applied),
	)
	return sess.Info(), nil
}

// matchTemplateHeaders returns the share of template headers present in
// the sheet's headers.
func matchTemplateHeaders(sheetHeaders, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	present := make(map[string]bool, len(sheetHeaders))
	for _, h := range sheetHeaders {
		present[mapping.Normalize(h)] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if present[h] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}

// rowToTemplate reads a stored template. The mapping column comes back as
// a map from memstore and PostgreSQL and as JSON text from SQLite.
func rowToTemplate(r store.Row) (MappingTemplate, error) {
	t := MappingTemplate{
		Table:   store.Canonical(r["table_key"]),
		Name:    store.Canonical(r["name"]),
		Columns: make(map[string]string),
	}

	var raw map[string]any
	switch v := r["column_mapping"].(type) {
	case map[string]any:
		raw = v
	case string:
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return t, fmt.Errorf("unmarshal mapping: %w", err)
		}
	case []byte:
		if err := json.Unmarshal(v, &raw); err != nil {
			return t, fmt.Errorf("unmarshal mapping: %w", err)
		}
	default:
		return t, fmt.Errorf("unexpected mapping type %T", v)
	}
	for h, f := range raw {
		if key, ok := f.(string); ok {
			t.Columns[h] = key
		}
	}

	switch v := r["updated_at"].(type) {
	case time.Time:
		t.UpdatedAt = v
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t.UpdatedAt = ts
		}
	}
	return t, nil
}
