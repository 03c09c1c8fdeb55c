package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/config"
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/core/tables"
	"github.com/clinicops/intake/internal/store/memstore"
)

const patientsCSV = "national_number,full_name_ar,IsDiabetic\n1001,Ali,Yes\n1002,Omar,No\n"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	svc := core.NewService(st, tables.NewRegistry(), tables.NewCatalog(), core.Options{
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return NewServer(svc, cfg), st
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, fileName, content string, form map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range form {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func openSession(t *testing.T, s *Server) core.SessionInfo {
	t.Helper()
	rec := do(t, s, uploadRequest(t, "/api/sessions", "patients.csv", patientsCSV, map[string]string{"table": tables.Patients}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[core.SessionInfo](t, rec)
}

func TestListTables(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.TableInfo](t, rec), 3)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSessionLifecycle(t *testing.T) {
	s, st := newTestServer(t, testConfig())

	info := openSession(t, s)
	assert.Equal(t, core.StateMappingReady, info.State)
	assert.Equal(t, 2, info.TotalRows)
	assert.Empty(t, info.Missing)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+info.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, info.ID, decode[core.SessionInfo](t, rec).ID)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/preview", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[core.PreviewResponse](t, rec)
	assert.Equal(t, 2, preview.Summary.NewRows)
	assert.Zero(t, st.Count(tables.Patients))

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/import", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+info.ID+"/result?wait=true", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.ImportResult](t, rec)
	assert.Equal(t, 2, result.Inserted)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 2, st.Count(tables.Patients))

	t.Run("import twice is a conflict", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/import", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "IMP004", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("progress stream after completion", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+info.ID+"/progress", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "id: 100\nevent: progress\n")
		assert.Contains(t, body, `"phase":"complete"`)
		assert.True(t, strings.HasSuffix(body, "event: complete\ndata: {}\n\n"))
	})
}

func TestResult_NotStarted(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	info := openSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+info.ID+"/result", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOpenSession_Errors(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	tests := []struct {
		name     string
		fileName string
		form     map[string]string
		status   int
		code     string
	}{
		{"unsupported format", "patients.pdf", map[string]string{"table": tables.Patients}, http.StatusUnprocessableEntity, "FILE002"},
		{"unknown table", "patients.csv", map[string]string{"table": "invoices"}, http.StatusUnprocessableEntity, "IMP005"},
		{"missing table", "patients.csv", nil, http.StatusBadRequest, ""},
		{"unknown template", "patients.csv", map[string]string{"table": tables.Patients, "template": "nope"}, http.StatusNotFound, "IMP011"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, uploadRequest(t, "/api/sessions", tt.fileName, patientsCSV, tt.form))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestOpenSession_FileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	s, _ := newTestServer(t, cfg)

	rec := do(t, s, uploadRequest(t, "/api/sessions", "patients.csv", strings.Repeat(patientsCSV, 10), map[string]string{"table": tables.Patients}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "file too large (limit 64 B)", decode[ErrorResponse](t, rec).Error)
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "IMP003", resp.Code)
	assert.NotEmpty(t, resp.Action)
}

func TestOverrideMapping(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	info := openSession(t, s)

	req := jsonRequest(t, http.MethodPut, "/api/sessions/"+info.ID+"/mapping", map[string]any{
		"columns": []map[string]any{{"index": 2, "field": ""}},
	})
	rec := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[core.SessionInfo](t, rec)
	assert.Empty(t, updated.Columns[2].FieldKey)
	assert.Contains(t, updated.Unmapped, "IsDiabetic")

	t.Run("unknown field", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPut, "/api/sessions/"+info.ID+"/mapping", map[string]any{
			"columns": []map[string]any{{"index": 0, "field": "shoe_size"}},
		})
		assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)
	})

	t.Run("empty body", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPut, "/api/sessions/"+info.ID+"/mapping", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)
	})
}

func TestCancelSession(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	info := openSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+info.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+info.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomFields(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	body := map[string]any{
		"key":         "insurance_company",
		"displayName": "Insurance company",
		"keywords":    []string{"insurer"},
		"type":        "text",
		"tables":      []string{tables.Patients},
	}
	rec := do(t, s, jsonRequest(t, http.MethodPost, "/api/fields", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, jsonRequest(t, http.MethodPost, "/api/fields", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP007", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables/patients/fields", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"insurance_company"`)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/fields/insurance_company", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/fields/insurance_company", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("unknown table", func(t *testing.T) {
		bad := map[string]any{"key": "ward", "type": "text", "tables": []string{"invoices"}}
		assert.Equal(t, http.StatusBadRequest, do(t, s, jsonRequest(t, http.MethodPost, "/api/fields", bad)).Code)
	})

	t.Run("fields of unknown table", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables/invoices/fields", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMappingTemplates(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	info := openSession(t, s)

	rec := do(t, s, jsonRequest(t, http.MethodPost, "/api/sessions/"+info.ID+"/templates", map[string]string{"name": "monthly"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables/patients/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]core.MappingTemplate](t, rec), 1)

	second := openSession(t, s)
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+second.ID+"/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decode[[]core.TemplateMatch](t, rec)
	require.Len(t, matches, 1)
	assert.Equal(t, "monthly", matches[0].Template.Name)
	assert.InDelta(t, 1.0, matches[0].MatchScore, 0.001)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sessions/"+second.ID+"/templates/monthly/apply", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[core.SessionInfo](t, rec).Columns[0].Manual)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/tables/patients/templates/monthly", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/tables/patients/templates/monthly", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("missing name", func(t *testing.T) {
		rec := do(t, s, jsonRequest(t, http.MethodPost, "/api/sessions/"+info.ID+"/templates", map[string]string{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestImportSchedule(t *testing.T) {
	s, st := newTestServer(t, testConfig())

	csv := "Doctor,01-12,02-12\nDr. Salem,AM,PM\nDr. Noor,,Night\n"
	rec := do(t, s, uploadRequest(t, "/api/schedules", "roster.csv", csv, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[core.ScheduleResult](t, rec)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, st.Count(tables.Schedules))
}

func TestImportSchedule_NoDateColumns(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s, uploadRequest(t, "/api/schedules", "roster.csv", "Doctor,Ward\nDr. Salem,B\n", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FILE006", decode[ErrorResponse](t, rec).Code)
}

func TestSessionPage(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	info := openSession(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/sessions/"+info.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "patients.csv")
	assert.Contains(t, body, "<td>national_number</td>")

	t.Run("not found renders alert", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `role="alert"`)
		assert.Contains(t, rec.Body.String(), "IMP003")
	})
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s, _ := newTestServer(t, cfg)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(t, s, req).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}
