package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/logging"
	"github.com/clinicops/intake/internal/workbook"
)

// readWorkbook parses the multipart "file" field. On failure it has
// already written the response.
func (s *Server) readWorkbook(w http.ResponseWriter, r *http.Request) (*workbook.Workbook, bool) {
	maxSize := s.cfg.Import.MaxFileSize
	tooLargeMsg := "file too large (limit " + humanize.IBytes(uint64(maxSize)) + ")"
	if r.ContentLength > maxSize {
		writeError(w, r, http.StatusRequestEntityTooLarge, tooLargeMsg)
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, tooLargeMsg)
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, "invalid form")
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no file provided")
		return nil, false
	}
	defer file.Close()

	wb, err := workbook.Read(file, header.Filename)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return wb, true
}

// handleOpenSession uploads a workbook and maps it onto a table. An
// optional "template" form value applies a saved mapping template.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	wb, ok := s.readWorkbook(w, r)
	if !ok {
		return
	}

	table := r.FormValue("table")
	if table == "" {
		writeError(w, r, http.StatusBadRequest, "missing table")
		return
	}

	sess, err := s.service.OpenSession(r.Context(), wb, table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	info := sess.Info()
	if name := r.FormValue("template"); name != "" {
		info, err = s.service.ApplyTemplate(r.Context(), sess.ID, name)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, info)
}

// handleGetSession returns the current state of a session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// handleCancelSession cancels a running import or drops an idle session.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// mappingRequest reassigns columns. An empty field unmaps the column.
type mappingRequest struct {
	Columns []struct {
		Index int    `json:"index"`
		Field string `json:"field"`
	} `json:"columns"`
}

// handleOverrideMapping applies operator overrides in order.
func (s *Server) handleOverrideMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Columns) == 0 {
		writeError(w, r, http.StatusBadRequest, "no columns given")
		return
	}

	var info core.SessionInfo
	for _, c := range req.Columns {
		var err error
		info, err = s.service.OverrideMapping(r.Context(), id, c.Index, c.Field)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// handlePreview classifies the session's rows without writing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleStartImport starts the session's import in the background.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.service.StartImport(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.service.Session(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.ForSession(r.Context(), sess.ID, sess.Table).Info("import started")
	writeJSON(w, http.StatusAccepted, sess.Info().Progress)
}

// handleResult returns the import result. While the import runs it answers
// 202 with the progress, unless ?wait=true asks to block until it ends.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.service.Session(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sess.State() == core.StateImporting && r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, sess.Info().Progress)
		return
	}

	result, err := s.service.Result(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProgress streams import progress via Server-Sent Events.
// The event id is the progress percentage; a reconnecting client passes
// lastEventId to skip what it has seen.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progressCh, err := s.service.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	lastEventID := -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lastEventID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}

			percent := progress.Percent()
			if percent <= lastEventID && progress.Phase == core.PhaseImporting {
				continue
			}
			lastEventID = percent

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleMatchTemplates lists saved templates that fit the session's headers.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.MatchTemplates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleSaveTemplate stores the session's mapping as a named template.
func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "template name is required")
		return
	}

	tmpl, err := s.service.SaveTemplate(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

// handleApplyTemplate remaps the session from a saved template.
func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.ApplyTemplate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleImportSchedule imports a doctor roster workbook.
func (s *Server) handleImportSchedule(w http.ResponseWriter, r *http.Request) {
	wb, ok := s.readWorkbook(w, r)
	if !ok {
		return
	}

	result, err := s.service.ImportSchedule(r.Context(), wb)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSessionPage renders the session summary page.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := sessionPage(sess.Info()).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render session page", "error", err)
	}
}
