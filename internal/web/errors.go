package web

// errors.go turns service errors into responses.
//
//  1. Handler encounters an error and calls respondError
//  2. The status comes from the error's sentinel (statusFor)
//  3. core.MapError supplies the coded user message
//  4. The technical error is logged with the request id
//  5. API routes get JSON, pages get a short HTML fragment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/logging"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/workbook"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code,omitempty"`
}

// respondError logs err and writes its user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	errorAlert(userMsg).Render(r.Context(), w)
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrTemplateNotFound),
		errors.Is(err, fields.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, fields.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrUnknownTable),
		errors.Is(err, workbook.ErrUnsupportedFormat),
		errors.Is(err, workbook.ErrEmpty),
		errors.Is(err, core.ErrNoDateColumns):
		return http.StatusUnprocessableEntity
	case strings.Contains(err.Error(), "unknown field"),
		strings.Contains(err.Error(), "out of range"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
