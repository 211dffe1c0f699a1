package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/canonical"
	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/store"
)

// DryRunReport is the validation-only preview of an import.
type DryRunReport struct {
	Summary canonical.Summary     `json:"summary"`
	Rows    []canonical.RowResult `json:"rows"`
}

// rowOutcome pairs a row's report entry with its validated record, when one
// was produced.
type rowOutcome struct {
	Result   canonical.RowResult
	Customer *canonical.Customer
}

// validateRow runs the normalizer and validator on one CSV row. rowNum is the
// 1-based CSV line, counting the header as line 1.
func validateRow(mapping map[string]string, row map[string]string, rowNum int) rowOutcome {
	data := canonical.Normalize(mapping, row)
	cust, issues := canonical.Build(data)
	for i := range issues {
		issues[i].Row = rowNum
	}

	result := canonical.RowResult{
		RowNumber: rowNum,
		Status:    "valid",
		Issues:    issues,
	}
	switch {
	case canonical.HasErrors(issues):
		result.Status = "error"
	case len(issues) > 0:
		result.Status = "warning"
	}
	if cust != nil {
		result.NormalizedData = cust.Body()
	}
	return rowOutcome{Result: result, Customer: cust}
}

// mappingTargets reports whether any CSV column is mapped to the given
// canonical path.
func mappingTargets(mapping map[string]string, path string) bool {
	for _, target := range mapping {
		if strings.TrimSpace(target) == path {
			return true
		}
	}
	return false
}

// DryRun validates the job's CSV against a mapping without touching the
// provider beyond the duplicate lookup. It may be repeated with different
// mappings; each run replaces the stored summary.
func (s *Service) DryRun(ctx context.Context, userID, jobID uuid.UUID, mapping map[string]string) (*DryRunReport, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case store.StatusUploaded, store.StatusDryRunComplete, store.StatusDryRunFailed:
	default:
		return nil, fmt.Errorf("job is in status %q; dry-run requires an uploaded job", job.Status)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("mapping is required")
	}
	if !mappingTargets(mapping, "DisplayName") {
		return nil, fmt.Errorf("mapping must assign a column to DisplayName")
	}

	content, _ := job.Meta[metaCSVContent].(string)
	_, rows, err := parseCSV([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("stored csv: %w", err)
	}

	report := &DryRunReport{Rows: make([]canonical.RowResult, 0, len(rows))}
	var candidates []nameRef
	byRow := make(map[int]int, len(rows)) // row number -> index in report.Rows

	for idx, row := range rows {
		rowNum := idx + 2
		outcome := validateRow(mapping, row, rowNum)
		byRow[rowNum] = len(report.Rows)
		report.Rows = append(report.Rows, outcome.Result)

		// Every row with a usable DisplayName joins the duplicate check, even
		// ones already failing on other fields, so collisions are reported
		// alongside the other issues instead of surfacing one fix later.
		if outcome.Customer != nil && outcome.Customer.DisplayName != "" {
			candidates = append(candidates, nameRef{Row: rowNum, Name: outcome.Customer.DisplayName})
		}
	}

	applyDup := func(issues map[int]canonical.Issue) {
		for rowNum, issue := range issues {
			i := byRow[rowNum]
			report.Rows[i].Issues = append(report.Rows[i].Issues, issue)
			report.Rows[i].Status = "error"
		}
	}
	applyDup(localDuplicateIssues(candidates))

	client, err := s.clients(ctx, userID)
	if err != nil {
		report.Summary.Issues = append(report.Summary.Issues, canonical.Issue{
			Level:   canonical.LevelWarning,
			Code:    canonical.CodeDuplicateCheckUnavailable,
			Message: fmt.Sprintf("could not check QuickBooks for existing customers: %v", err),
		})
	} else {
		remote, warn := remoteDuplicateIssues(ctx, client, candidates)
		if warn != nil {
			report.Summary.Issues = append(report.Summary.Issues, *warn)
		}
		applyDup(remote)
	}

	summary := &report.Summary
	summary.TotalRows = len(rows)
	for _, row := range report.Rows {
		if row.Status == "error" {
			summary.WillFail++
		} else {
			summary.WillSucceed++
		}
		for _, issue := range row.Issues {
			if issue.Level == canonical.LevelWarning {
				summary.Warnings++
			}
			summary.Issues = append(summary.Issues, issue)
		}
	}
	for _, issue := range report.Summary.Issues {
		if issue.Level == canonical.LevelWarning && issue.Code == canonical.CodeDuplicateCheckUnavailable {
			summary.Warnings++
		}
	}

	meta := job.Meta
	meta[metaMapping] = mapping
	meta[metaLastDryRun] = summary

	status := store.StatusDryRunComplete
	if summary.WillFail > 0 {
		status = store.StatusDryRunFailed
	}
	if err := s.setStatus(ctx, jobID, status, meta); err != nil {
		return nil, fmt.Errorf("persist dry-run: %w", err)
	}

	logging.FromContext(ctx).Info("dry-run finished",
		"job_id", jobID,
		"status", status,
		"total", summary.TotalRows,
		"will_fail", summary.WillFail,
	)
	return report, nil
}
