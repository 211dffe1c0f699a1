package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/config"
	"github.com/qbloader/qbloader/internal/core"
	"github.com/qbloader/qbloader/internal/events"
	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
)

// memStore is a thin in-memory core.Store for handler tests. Pipeline
// semantics live in the core package tests; here it only needs to hold jobs
// and templates.
type memStore struct {
	jobs      map[uuid.UUID]*store.Job
	templates map[uuid.UUID]*store.MappingTemplate
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[uuid.UUID]*store.Job),
		templates: make(map[uuid.UUID]*store.MappingTemplate),
	}
}

func (m *memStore) CreateJob(_ context.Context, userID uuid.UUID, objectType string, status store.JobStatus, meta map[string]any) (*store.Job, error) {
	job := &store.Job{ID: uuid.New(), UserID: userID, ObjectType: objectType, Status: status, Meta: meta}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memStore) GetJob(_ context.Context, id, userID uuid.UUID) (*store.Job, error) {
	job, ok := m.jobs[id]
	if !ok || job.UserID != userID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(_ context.Context, userID uuid.UUID) ([]store.Job, error) {
	var jobs []store.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memStore) UpdateJob(_ context.Context, id uuid.UUID, status store.JobStatus, meta map[string]any) error {
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.Meta = meta
	return nil
}

func (m *memStore) ClaimQueuedJob(context.Context) (*store.Job, error) { return nil, store.ErrNotFound }
func (m *memStore) RequeueJob(context.Context, uuid.UUID, time.Time) error {
	return nil
}
func (m *memStore) ReplaceRows(context.Context, uuid.UUID, []store.RowSeed) error { return nil }
func (m *memStore) ListRows(context.Context, uuid.UUID) ([]store.JobRow, error)  { return nil, nil }
func (m *memStore) ListRowsByStatus(context.Context, uuid.UUID, store.RowStatus) ([]store.JobRow, error) {
	return nil, nil
}
func (m *memStore) UpdateRowValidation(context.Context, uuid.UUID, store.RowStatus, string, map[string]any) error {
	return nil
}
func (m *memStore) UpdateRowImport(context.Context, uuid.UUID, store.RowStatus, string, map[string]any) error {
	return nil
}
func (m *memStore) RowCounts(context.Context, uuid.UUID) (store.Progress, error) {
	return store.Progress{}, nil
}

func (m *memStore) CreateTemplate(_ context.Context, userID uuid.UUID, name, objectType string, mapping map[string]string) (*store.MappingTemplate, error) {
	tmpl := &store.MappingTemplate{ID: uuid.New(), UserID: userID, Name: name, ObjectType: objectType, Mapping: mapping}
	m.templates[tmpl.ID] = tmpl
	return tmpl, nil
}

func (m *memStore) GetTemplate(_ context.Context, id, userID uuid.UUID) (*store.MappingTemplate, error) {
	tmpl, ok := m.templates[id]
	if !ok || tmpl.UserID != userID {
		return nil, store.ErrNotFound
	}
	return tmpl, nil
}

func (m *memStore) ListTemplates(_ context.Context, userID uuid.UUID) ([]store.MappingTemplate, error) {
	var templates []store.MappingTemplate
	for _, tmpl := range m.templates {
		if tmpl.UserID == userID {
			templates = append(templates, *tmpl)
		}
	}
	return templates, nil
}

func (m *memStore) DeleteTemplate(_ context.Context, id, userID uuid.UUID) error {
	tmpl, ok := m.templates[id]
	if !ok || tmpl.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.templates, id)
	return nil
}

type stubCredentials struct{}

func (stubCredentials) Credential(_ context.Context, userID uuid.UUID) (qbo.Credentials, error) {
	return qbo.Credentials{}, fmt.Errorf("user %s is not connected to QuickBooks", userID)
}

func (stubCredentials) SaveTokens(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = time.Minute
	cfg.Import.MaxFileSize = 1 << 20
	cfg.Import.PreviewRows = 50
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	broker := events.NewBroker()
	manager := qbo.NewManager(qbo.Config{ClientID: "id", ClientSecret: "secret"}, stubCredentials{})
	service := core.NewService(newMemStore(), func(ctx context.Context, userID uuid.UUID) (core.QBO, error) {
		return nil, errors.New("not connected to QuickBooks")
	}, broker, core.Options{})
	return NewServer(service, broker, manager, cfg)
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	req.Header.Set("X-User-ID", userID.String())
	return req
}

func multipartCSV(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), uuid.New()))

	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for k, want := range headers {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestUploadEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	userID := uuid.New()

	body, contentType := multipartCSV(t, "customers.csv", "Name,Email\nAcme,a@example.com\n")
	req := authed(httptest.NewRequest(http.MethodPost, "/api/import/customer", body), userID)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result core.UploadResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.JobID == uuid.Nil || result.RowCount != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestUploadEndpoint_UnsupportedObjectType(t *testing.T) {
	s := newTestServer(t, testConfig())

	body, contentType := multipartCSV(t, "x.csv", "Name\nAcme\n")
	req := authed(httptest.NewRequest(http.MethodPost, "/api/import/invoice", body), uuid.New())
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "JOB002" {
		t.Errorf("code = %q, want JOB002", resp.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without X-User-ID", rec.Code)
	}
}

func TestJobStatusEndpoint_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())
	userID := uuid.New()

	t.Run("unknown job", func(t *testing.T) {
		req := authed(httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil), userID)
		rec := doRequest(s, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		var resp ErrorResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Code != "DB001" {
			t.Errorf("code = %q, want DB001", resp.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		req := authed(httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil), userID)
		if rec := doRequest(s, req); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestTemplateEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	userID := uuid.New()

	payload := `{"name":"default","mapping":{"Name":"DisplayName"}}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/mappings", strings.NewReader(payload)), userID)
	rec := doRequest(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var tmpl store.MappingTemplate
	if err := json.NewDecoder(rec.Body).Decode(&tmpl); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/mappings", nil), userID))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "default") {
		t.Errorf("list = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, authed(httptest.NewRequest(http.MethodDelete, "/api/mappings/"+tmpl.ID.String(), nil), userID))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}

	// Deleting again is a 404.
	rec = doRequest(s, authed(httptest.NewRequest(http.MethodDelete, "/api/mappings/"+tmpl.ID.String(), nil), userID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestCompanyEndpoint_NotConnected(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/qbo/company", nil), uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "QBO001" {
		t.Errorf("code = %q, want QBO001", resp.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 2
	cfg.Rate.UploadLimit = 2
	s := newTestServer(t, cfg)
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), userID))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), userID))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response must carry Retry-After")
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "RATE001" {
		t.Errorf("code = %q, want RATE001", resp.Code)
	}
}
