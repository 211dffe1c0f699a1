package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/store"
)

// ErrorExport is the downloadable report of failed rows.
type ErrorExport struct {
	Filename string
	Content  []byte
}

// ExportErrors builds a CSV of every row with status error, with columns
// [Row #, Error, <original headers...>] so users can fix cells in place and
// re-upload.
func (s *Service) ExportErrors(ctx context.Context, userID, jobID uuid.UUID) (*ErrorExport, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	headers := metaStringSlice(job.Meta[metaHeaders])

	rows, err := s.store.ListRowsByStatus(ctx, jobID, store.RowError)
	if err != nil {
		return nil, fmt.Errorf("list error rows: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	record := make([]string, 0, len(headers)+2)
	record = append(record, "Row #", "Error")
	record = append(record, headers...)
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("write export header: %w", err)
	}

	for _, row := range rows {
		record = record[:0]
		record = append(record, strconv.Itoa(row.RowNumber), row.Error)
		for _, h := range headers {
			record = append(record, row.RawData[h])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush export: %w", err)
	}

	filename, _ := job.Meta[metaFilename].(string)
	filename = strings.TrimSuffix(filename, ".csv")
	if filename == "" {
		filename = "import"
	}

	return &ErrorExport{
		Filename: filename + "_errors.csv",
		Content:  buf.Bytes(),
	}, nil
}
