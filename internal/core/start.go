package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/store"
)

// StartRequest carries the parameters for committing an import.
type StartRequest struct {
	// Mapping assigns CSV columns to canonical field paths. When empty,
	// TemplateID supplies the mapping instead.
	Mapping map[string]string

	// TemplateID optionally names a stored mapping template to fall back to.
	TemplateID *uuid.UUID

	// Rows optionally replaces the stored CSV data with frontend-edited rows.
	// The stored CSV text is regenerated from them before queueing.
	Rows []map[string]string
}

// StartImport persists the chosen mapping, optionally rewrites the stored CSV
// from edited rows, and queues the job for the background worker. Allowed
// only from uploaded or a dry-run state.
func (s *Service) StartImport(ctx context.Context, userID, jobID uuid.UUID, req StartRequest) (*store.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case store.StatusUploaded, store.StatusDryRunComplete, store.StatusDryRunFailed:
	default:
		return nil, fmt.Errorf("job is in status %q and cannot be started", job.Status)
	}

	mapping := req.Mapping
	if len(mapping) == 0 && req.TemplateID != nil {
		tmpl, err := s.store.GetTemplate(ctx, *req.TemplateID, userID)
		if err != nil {
			return nil, fmt.Errorf("mapping template: %w", err)
		}
		mapping = tmpl.Mapping
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("mapping is required: provide one inline or via template_id")
	}
	if !mappingTargets(mapping, "DisplayName") {
		return nil, fmt.Errorf("mapping must assign a column to DisplayName")
	}

	meta := job.Meta
	meta[metaMapping] = mapping

	if len(req.Rows) > 0 {
		headers := metaStringSlice(meta[metaHeaders])
		if len(headers) == 0 {
			return nil, fmt.Errorf("job has no stored headers")
		}
		content, err := buildCSV(headers, req.Rows)
		if err != nil {
			return nil, fmt.Errorf("rebuild csv from edited rows: %w", err)
		}
		meta[metaCSVContent] = content
		meta[metaRowCount] = len(req.Rows) + 1
	}

	if err := s.setStatus(ctx, jobID, store.StatusQueued, meta); err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}
	job.Status = store.StatusQueued
	job.Meta = meta

	logging.FromContext(ctx).Info("import queued", "job_id", jobID, "user_id", userID)
	return job, nil
}

// metaStringSlice coerces a metadata value back to []string. JSONB round-trips
// string slices as []any.
func metaStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
