package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus enumerates the job state machine. Transitions are enforced by the
// pipeline; the store only records them.
type JobStatus string

const (
	StatusUploaded       JobStatus = "uploaded"
	StatusDryRunComplete JobStatus = "dry_run_complete"
	StatusDryRunFailed   JobStatus = "dry_run_failed"
	StatusQueued         JobStatus = "queued"
	StatusParsing        JobStatus = "parsing"
	StatusValidating     JobStatus = "validating"
	StatusImporting      JobStatus = "importing"
	StatusCompleted      JobStatus = "completed"
	StatusPartialSuccess JobStatus = "partial_success"
	StatusError          JobStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusError:
		return true
	}
	return false
}

// ErrNotFound is returned when a record does not exist or is owned by a
// different user.
var ErrNotFound = errors.New("not found")

// Job is one CSV import attempt.
type Job struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ObjectType string
	Status     JobStatus
	Meta       map[string]any
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const jobColumns = "id, user_id, object_type, status, meta, attempts, created_at, updated_at"

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.UserID, &j.ObjectType, &j.Status, &j.Meta, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// CreateJob inserts a new job in the given status.
func (s *Store) CreateJob(ctx context.Context, userID uuid.UUID, objectType string, status JobStatus, meta map[string]any) (*Job, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, user_id, object_type, status, meta)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+jobColumns,
		uuid.New(), userID, objectType, status, meta,
	)
	return scanJob(row)
}

// GetJob loads a job owned by the given user.
func (s *Store) GetJob(ctx context.Context, id, userID uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanJob(row)
}

// ListJobs returns the user's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, userID uuid.UUID) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJob writes status and metadata in one statement. Metadata always
// replaces the stored bag wholesale; the pipeline only ever adds keys.
func (s *Store) UpdateJob(ctx context.Context, id uuid.UUID, status JobStatus, meta map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, meta = $3, updated_at = now() WHERE id = $1`,
		id, status, meta)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimQueuedJob atomically picks the oldest runnable queued job and moves it
// to parsing. FOR UPDATE SKIP LOCKED lets several workers poll the same table
// without stepping on each other. Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimQueuedJob(ctx context.Context) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = now()
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE status = $2 AND run_after <= now()
		     ORDER BY created_at
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		StatusParsing, StatusQueued)
	return scanJob(row)
}

// RequeueJob puts a failed job back in the queue with a delay before the next
// attempt.
func (s *Store) RequeueJob(ctx context.Context, id uuid.UUID, runAfter time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, run_after = $3, updated_at = now() WHERE id = $1`,
		id, StatusQueued, runAfter)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}
