package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qbloader/qbloader/internal/canonical"
	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/store"
)

// RunWorker polls for queued jobs and executes them until the context is
// cancelled. Several workers may run concurrently; the claim query hands each
// job to exactly one of them.
func (s *Service) RunWorker(ctx context.Context) {
	logger := logging.FromContext(ctx)
	logger.Info("import worker started", "poll_interval", s.opts.PollInterval)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		s.drainQueue(ctx)

		select {
		case <-ctx.Done():
			logger.Info("import worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// drainQueue claims and runs jobs until the queue is empty.
func (s *Service) drainQueue(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := s.store.ClaimQueuedJob(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			logging.FromContext(ctx).Warn("claim queued job failed", "error", err)
			return
		}
		s.runJob(ctx, job)
	}
}

// runJob executes one claimed job within its wall-clock budget. Failures that
// escape the pipeline are retried with backoff until attempts run out.
func (s *Service) runJob(ctx context.Context, job *store.Job) {
	logger := logging.WithFields(ctx, "job_id", job.ID, "attempt", job.Attempts)
	logger.Info("job started")

	jobCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	// The claim already moved the job to parsing.
	s.broadcast(jobCtx, job.ID, store.StatusParsing, job.Meta)

	if err := s.executeJob(jobCtx, job); err != nil {
		// Bookkeeping uses the parent context: the budget may be what expired.
		s.failJob(ctx, job, err)
		return
	}
	logger.Info("job finished")
}

// failJob requeues a crashed run with exponential backoff, or marks the job
// permanently failed once attempts are exhausted.
func (s *Service) failJob(ctx context.Context, job *store.Job, cause error) {
	logger := logging.WithFields(ctx, "job_id", job.ID, "attempt", job.Attempts)

	meta := job.Meta
	meta[metaError] = cause.Error()
	meta[metaAttempts] = job.Attempts

	if job.Attempts >= s.opts.MaxAttempts {
		logger.Error("job failed permanently", "error", cause)
		if err := s.setStatus(ctx, job.ID, store.StatusError, meta); err != nil {
			logger.Error("record job failure", "error", err)
		}
		return
	}

	delay := s.opts.RetryDelay * (1 << (job.Attempts - 1))
	logger.Warn("job failed, will retry", "error", cause, "delay", delay)

	if err := s.store.UpdateJob(ctx, job.ID, store.StatusQueued, meta); err != nil {
		logger.Error("persist retry metadata", "error", err)
	}
	if err := s.store.RequeueJob(ctx, job.ID, time.Now().Add(delay)); err != nil {
		logger.Error("requeue job", "error", err)
	}
}

// validRow is a row that passed validation, paired with its record for
// payload construction.
type validRow struct {
	Row      store.JobRow
	Customer *canonical.Customer
}

// executeJob runs the parse → validate → import stages for one claimed job.
// Any returned error counts as a crashed run and triggers the retry policy;
// per-row problems never surface here, they land on the rows.
func (s *Service) executeJob(ctx context.Context, job *store.Job) error {
	meta := job.Meta
	mapping := metaStringMap(meta[metaMapping])
	if len(mapping) == 0 {
		return fmt.Errorf("job has no stored mapping")
	}
	content, _ := meta[metaCSVContent].(string)

	// Parse. Re-parsing from the stored CSV keeps retries idempotent: rows
	// are replaced wholesale, so the row count always matches the file.
	_, rows, err := parseCSV([]byte(content))
	if err != nil {
		return fmt.Errorf("parse stored csv: %w", err)
	}
	seeds := make([]store.RowSeed, len(rows))
	for idx, row := range rows {
		seeds[idx] = store.RowSeed{RowNumber: idx + 2, RawData: row}
	}
	if err := s.store.ReplaceRows(ctx, job.ID, seeds); err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}

	// Validate.
	if err := s.setStatus(ctx, job.ID, store.StatusValidating, meta); err != nil {
		return err
	}
	jobRows, err := s.store.ListRows(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list rows: %w", err)
	}

	var valid []validRow
	for _, row := range jobRows {
		outcome := validateRow(mapping, row.RawData, row.RowNumber)
		if outcome.Result.Status == "error" || outcome.Customer == nil {
			if err := s.store.UpdateRowValidation(ctx, row.ID, store.RowError, issueText(outcome.Result.Issues), nil); err != nil {
				return fmt.Errorf("record row validation: %w", err)
			}
			continue
		}
		if err := s.store.UpdateRowValidation(ctx, row.ID, store.RowValid, "", outcome.Customer.Payload()); err != nil {
			return fmt.Errorf("record row validation: %w", err)
		}
		valid = append(valid, validRow{Row: row, Customer: outcome.Customer})
	}

	// The import cannot run without a provider connection; that is a job
	// failure, not a per-row one.
	client, err := s.clients(ctx, job.UserID)
	if err != nil {
		return err
	}

	valid, err = s.rejectDuplicates(ctx, client, valid)
	if err != nil {
		return err
	}

	// Import.
	meta[metaValidCount] = len(valid)
	if err := s.setStatus(ctx, job.ID, store.StatusImporting, meta); err != nil {
		return err
	}

	success, err := s.importRows(ctx, job, client, valid)
	if err != nil {
		return err
	}

	meta[metaSuccessCount] = success
	final := store.StatusPartialSuccess
	if success == len(valid) {
		final = store.StatusCompleted
	}
	return s.setStatus(ctx, job.ID, final, meta)
}

// rejectDuplicates marks rows with confirmed duplicate DisplayNames as errors
// and returns the remaining importable rows. An unavailable remote check is
// logged and never blocks the import.
func (s *Service) rejectDuplicates(ctx context.Context, client QBO, valid []validRow) ([]validRow, error) {
	refs := make([]nameRef, len(valid))
	for i, vr := range valid {
		refs[i] = nameRef{Row: vr.Row.RowNumber, Name: vr.Customer.DisplayName}
	}

	flagged := localDuplicateIssues(refs)
	remote, warn := remoteDuplicateIssues(ctx, client, refs)
	if warn != nil {
		logging.FromContext(ctx).Warn("duplicate check unavailable", "detail", warn.Message)
	}
	for rowNum, issue := range remote {
		if _, dup := flagged[rowNum]; !dup {
			flagged[rowNum] = issue
		}
	}
	if len(flagged) == 0 {
		return valid, nil
	}

	remaining := valid[:0]
	for _, vr := range valid {
		issue, dup := flagged[vr.Row.RowNumber]
		if !dup {
			remaining = append(remaining, vr)
			continue
		}
		if err := s.store.UpdateRowValidation(ctx, vr.Row.ID, store.RowError, issue.Message, nil); err != nil {
			return nil, fmt.Errorf("record duplicate row: %w", err)
		}
	}
	return remaining, nil
}

// issueText flattens a row's issues into the stored error column.
func issueText(issues []canonical.Issue) string {
	if len(issues) == 0 {
		return "row failed validation"
	}
	parts := make([]string, len(issues))
	for i, issue := range issues {
		if issue.Field != "" {
			parts[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Message)
		} else {
			parts[i] = issue.Message
		}
	}
	return strings.Join(parts, "; ")
}

// metaStringMap coerces a metadata value back to map[string]string. JSONB
// round-trips string maps as map[string]any.
func metaStringMap(v any) map[string]string {
	switch vals := v.(type) {
	case map[string]string:
		return vals
	case map[string]any:
		out := make(map[string]string, len(vals))
		for k, item := range vals {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
