package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RowStatus enumerates per-row outcomes.
type RowStatus string

const (
	RowPending RowStatus = "pending"
	RowValid   RowStatus = "valid"
	RowError   RowStatus = "error"
	RowSuccess RowStatus = "success"
)

// JobRow is one CSV data row within a job. RowNumber is 1-based counting the
// header as row 1, so the first data row is 2.
type JobRow struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	RowNumber int
	Status    RowStatus
	Error     string
	RawData   map[string]string
	Payload   map[string]any
	Meta      map[string]any
}

// RowSeed is the input for bulk row creation at parse time.
type RowSeed struct {
	RowNumber int
	RawData   map[string]string
}

// Progress tallies row statuses for a job. Always recomputed from the table,
// never cached, so displayed counts cannot drift from stored rows.
type Progress struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Error   int `json:"error"`
	Success int `json:"success"`
}

const rowColumns = "id, job_id, row_number, status, error, raw_data, payload, meta"

func scanRow(row pgx.Row) (*JobRow, error) {
	var r JobRow
	err := row.Scan(&r.ID, &r.JobID, &r.RowNumber, &r.Status, &r.Error, &r.RawData, &r.Payload, &r.Meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	return &r, nil
}

// ReplaceRows deletes any rows from a previous attempt and bulk-inserts the
// seeds via the COPY protocol. Doing both in one transaction keeps the
// row-count invariant (rows == CSV data rows) across worker retries.
func (s *Store) ReplaceRows(ctx context.Context, jobID uuid.UUID, seeds []RowSeed) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear rows: %w", err)
	}

	copyRows := make([][]any, 0, len(seeds))
	for _, seed := range seeds {
		raw, err := json.Marshal(seed.RawData)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", seed.RowNumber, err)
		}
		copyRows = append(copyRows, []any{uuid.New(), jobID, seed.RowNumber, string(RowPending), raw})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"job_rows"},
		[]string{"id", "job_id", "row_number", "status", "raw_data"},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}

	return tx.Commit(ctx)
}

// ListRows returns all rows of a job in row-number order.
func (s *Store) ListRows(ctx context.Context, jobID uuid.UUID) ([]JobRow, error) {
	return s.queryRows(ctx,
		`SELECT `+rowColumns+` FROM job_rows WHERE job_id = $1 ORDER BY row_number`, jobID)
}

// ListRowsByStatus returns the job's rows with the given status in row-number
// order.
func (s *Store) ListRowsByStatus(ctx context.Context, jobID uuid.UUID, status RowStatus) ([]JobRow, error) {
	return s.queryRows(ctx,
		`SELECT `+rowColumns+` FROM job_rows WHERE job_id = $1 AND status = $2 ORDER BY row_number`,
		jobID, status)
}

func (s *Store) queryRows(ctx context.Context, sql string, args ...any) ([]JobRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var result []JobRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// UpdateRowValidation stores the validation outcome of one row.
func (s *Store) UpdateRowValidation(ctx context.Context, id uuid.UUID, status RowStatus, errText string, payload map[string]any) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_rows SET status = $2, error = $3, payload = $4 WHERE id = $1`,
		id, status, errText, payload)
	if err != nil {
		return fmt.Errorf("update row validation: %w", err)
	}
	return nil
}

// UpdateRowImport stores the import outcome of one row, including the
// provider-assigned id and sync token on success.
func (s *Store) UpdateRowImport(ctx context.Context, id uuid.UUID, status RowStatus, errText string, meta map[string]any) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_rows SET status = $2, error = $3, meta = $4 WHERE id = $1`,
		id, status, errText, meta)
	if err != nil {
		return fmt.Errorf("update row import: %w", err)
	}
	return nil
}

// RowCounts recomputes the status tallies from the row table.
func (s *Store) RowCounts(ctx context.Context, jobID uuid.UUID) (Progress, error) {
	var p Progress
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'valid'),
		        count(*) FILTER (WHERE status = 'error'),
		        count(*) FILTER (WHERE status = 'success')
		 FROM job_rows WHERE job_id = $1`, jobID).
		Scan(&p.Total, &p.Valid, &p.Error, &p.Success)
	if err != nil {
		return Progress{}, fmt.Errorf("row counts: %w", err)
	}
	return p, nil
}
