package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/store"
)

// ObjectTypeCustomer is the only entity type the pipeline imports.
const ObjectTypeCustomer = "customer"

// Job metadata keys. Every stage reads and writes the same bag; keys are
// stable because clients and the error export read them back.
const (
	metaFilename     = "filename"
	metaHeaders      = "headers"
	metaRowCount     = "row_count"
	metaCSVContent   = "csv_content"
	metaPreviewRows  = "preview_rows"
	metaMapping      = "mapping"
	metaLastDryRun   = "last_dry_run"
	metaValidCount   = "valid_count"
	metaSuccessCount = "success_count"
	metaError        = "error"
	metaAttempts     = "attempts"
)

// UploadResult is returned to the client after a successful upload.
type UploadResult struct {
	JobID    uuid.UUID           `json:"job_id"`
	Filename string              `json:"filename"`
	Headers  []string            `json:"headers"`
	RowCount int                 `json:"row_count"`
	Preview  []map[string]string `json:"preview_rows"`
}

// Upload parses the CSV, stores it on a new job in status uploaded, and
// returns the header list plus a bounded row preview. Nothing is persisted
// when the file is unusable.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, objectType, filename string, data []byte) (*UploadResult, error) {
	if objectType != ObjectTypeCustomer {
		return nil, fmt.Errorf("unsupported object type %q: only %q imports are available", objectType, ObjectTypeCustomer)
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", s.opts.MaxFileSize)
	}

	headers, rows, err := parseCSV(data)
	if err != nil {
		return nil, err
	}

	preview := rows
	if len(preview) > s.opts.PreviewRows {
		preview = preview[:s.opts.PreviewRows]
	}

	meta := map[string]any{
		metaFilename: filename,
		metaHeaders:  headers,
		// Header counts as row 1, so total lines = data rows + 1.
		metaRowCount:    len(rows) + 1,
		metaCSVContent:  string(data),
		metaPreviewRows: preview,
	}

	job, err := s.store.CreateJob(ctx, userID, objectType, store.StatusUploaded, meta)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	logging.FromContext(ctx).Info("csv uploaded",
		"job_id", job.ID,
		"user_id", userID,
		"filename", filename,
		"rows", len(rows),
	)

	return &UploadResult{
		JobID:    job.ID,
		Filename: filename,
		Headers:  headers,
		RowCount: len(rows),
		Preview:  preview,
	}, nil
}
