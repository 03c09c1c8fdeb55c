package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/logging"
)

// handleListTables returns the destination tables.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListTables())
}

// handleListFields returns the built-in and custom fields of a table.
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	defs := s.service.Fields().FieldsFor(table)
	if len(defs) == 0 {
		if _, ok := s.service.Catalog().Get(table); !ok {
			writeError(w, r, http.StatusNotFound, "unknown table: "+table)
			return
		}
	}
	writeJSON(w, http.StatusOK, defs)
}

// fieldRequest is the body of a custom field registration.
type fieldRequest struct {
	Key         string           `json:"key"`
	DisplayName string           `json:"displayName"`
	Keywords    []string         `json:"keywords"`
	Required    bool             `json:"required"`
	Type        fields.FieldType `json:"type"`
	Tables      []string         `json:"tables"`
	Options     fields.OptionSet `json:"options"`
	Fallback    string           `json:"fallback"`
	Default     string           `json:"default"`
	Truthy      []string         `json:"truthy"`
}

// handleRegisterField adds a custom field. It applies to sessions opened or
// remapped afterwards.
func (s *Server) handleRegisterField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	fallback, err := fields.ParseFallback(req.Fallback)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	def := fields.FieldDefinition{
		Key:         strings.TrimSpace(req.Key),
		DisplayName: req.DisplayName,
		Keywords:    req.Keywords,
		Required:    req.Required,
		Type:        req.Type,
		Tables:      req.Tables,
		Options:     req.Options,
		Fallback:    fallback,
		Default:     req.Default,
		Truthy:      req.Truthy,
	}
	for _, table := range def.Tables {
		if _, ok := s.service.Catalog().Get(table); !ok {
			writeError(w, r, http.StatusBadRequest, "unknown table: "+table)
			return
		}
	}

	if err := s.service.Fields().Register(def); err != nil {
		if errors.Is(err, fields.ErrDuplicateKey) {
			s.respondError(w, r, err)
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("custom field registered",
		"field", def.Key,
		"tables", def.Tables,
	)
	def.IsCustom = true
	writeJSON(w, http.StatusCreated, def)
}

// handleUnregisterField removes a custom field.
func (s *Server) handleUnregisterField(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.service.Fields().Unregister(key); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("custom field unregistered", "field", key)
	w.WriteHeader(http.StatusNoContent)
}

// handleListTemplates returns the saved mapping templates of a table.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// handleDeleteTemplate removes a saved mapping template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "name")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
