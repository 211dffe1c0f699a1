package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/core"
	"github.com/qbloader/qbloader/internal/web/middleware"
)

// requestUser pulls the authenticated user set by the RequireUser middleware.
// The middleware guarantees presence on /api routes, so absence is a wiring
// bug, not a client error.
func requestUser(r *http.Request) (uuid.UUID, bool) {
	return middleware.UserID(r.Context())
}

func (s *Server) urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%s is not a valid id", param), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// handleUpload accepts a multipart CSV upload and creates a job.
//
// POST /api/import/{objectType}
// Form fields: file (the CSV)
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
		s.respondError(w, r, fmt.Errorf("file exceeds maximum size or form is malformed: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("missing file field: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	result, err := s.service.Upload(r.Context(), userID, chi.URLParam(r, "objectType"), header.Filename, data)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type dryRunRequest struct {
	Mapping map[string]string `json:"mapping"`
}

// handleDryRun validates the stored CSV against a mapping without importing.
//
// POST /api/import/{objectType}/{jobID}/dry-run
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	jobID, ok := s.urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)
		return
	}

	report, err := s.service.DryRun(r.Context(), userID, jobID, req.Mapping)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type startRequest struct {
	Mapping    map[string]string   `json:"mapping"`
	TemplateID *uuid.UUID          `json:"template_id"`
	Rows       []map[string]string `json:"rows"`
}

// handleStart queues the job for the background importer.
//
// POST /api/import/{objectType}/{jobID}/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	jobID, ok := s.urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)
		return
	}

	job, err := s.service.StartImport(r.Context(), userID, jobID, core.StartRequest{
		Mapping:    req.Mapping,
		TemplateID: req.TemplateID,
		Rows:       req.Rows,
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// handleListJobs returns the caller's jobs, newest first.
//
// GET /api/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}

	jobs, err := s.service.ListJobs(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJobStatus returns one job with recomputed row tallies.
//
// GET /api/jobs/{jobID}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	jobID, ok := s.urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	view, err := s.service.JobStatus(r.Context(), userID, jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleExportErrors downloads failed rows as a CSV.
//
// GET /api/jobs/{jobID}/errors
func (s *Server) handleExportErrors(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	jobID, ok := s.urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	export, err := s.service.ExportErrors(r.Context(), userID, jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Write(export.Content)
}

type templateRequest struct {
	Name       string            `json:"name"`
	ObjectType string            `json:"object_type"`
	Mapping    map[string]string `json:"mapping"`
}

// handleCreateTemplate stores a reusable column mapping.
//
// POST /api/mappings
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)
		return
	}

	tmpl, err := s.service.CreateTemplate(r.Context(), userID, req.Name, req.ObjectType, req.Mapping)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

// handleListTemplates returns the caller's stored mappings.
//
// GET /api/mappings
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}

	templates, err := s.service.ListTemplates(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// handleGetTemplate returns one stored mapping.
//
// GET /api/mappings/{templateID}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	templateID, ok := s.urlUUID(w, r, "templateID")
	if !ok {
		return
	}

	tmpl, err := s.service.GetTemplate(r.Context(), userID, templateID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

// handleDeleteTemplate removes one stored mapping.
//
// DELETE /api/mappings/{templateID}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}
	templateID, ok := s.urlUUID(w, r, "templateID")
	if !ok {
		return
	}

	if err := s.service.DeleteTemplate(r.Context(), userID, templateID); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompanyInfo verifies the caller's QuickBooks connection end to end.
//
// GET /api/qbo/company
func (s *Server) handleCompanyInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		s.respondError(w, r, fmt.Errorf("no authenticated user"), http.StatusUnauthorized)
		return
	}

	client, err := s.qbo.ClientFor(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	info, err := client.GetCompanyInfo(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"company":   info,
	})
}
