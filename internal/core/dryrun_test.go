package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/canonical"
	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
)

var basicMapping = map[string]string{
	"Name":  "DisplayName",
	"Email": "PrimaryEmailAddr.Address",
}

func uploadJob(t *testing.T, svc *Service, userID uuid.UUID, csv string) uuid.UUID {
	t.Helper()
	result, err := svc.Upload(context.Background(), userID, ObjectTypeCustomer, "customers.csv", []byte(csv))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return result.JobID
}

func rowIssue(result canonical.RowResult, code string) *canonical.Issue {
	for i := range result.Issues {
		if result.Issues[i].Code == code {
			return &result.Issues[i]
		}
	}
	return nil
}

func TestDryRun_ValidRows(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, factoryFor(newFakeQBO()), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name,Email\nAcme,a@example.com\nGlobex,g@example.com\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, basicMapping)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	if report.Summary.TotalRows != 2 || report.Summary.WillSucceed != 2 || report.Summary.WillFail != 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
	// Data rows are numbered from 2; the header is row 1.
	if report.Rows[0].RowNumber != 2 || report.Rows[1].RowNumber != 3 {
		t.Errorf("row numbers = %d, %d", report.Rows[0].RowNumber, report.Rows[1].RowNumber)
	}

	job, _ := st.GetJob(context.Background(), jobID, userID)
	if job.Status != store.StatusDryRunComplete {
		t.Errorf("Status = %q, want dry_run_complete", job.Status)
	}
	if _, ok := job.Meta["last_dry_run"]; !ok {
		t.Error("last_dry_run summary not stored")
	}
}

func TestDryRun_EndToEndDuplicateScenario(t *testing.T) {
	// Two rows share a DisplayName; the first also has a broken email. Both
	// must carry the local-duplicate issue, and the summary must count the
	// email failure.
	st := newFakeStore()
	svc := newTestService(st, factoryFor(newFakeQBO()), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name,Email\nAcme Inc,bad-email\nAcme Inc,good@x.com\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, basicMapping)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	if report.Summary.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2", report.Summary.TotalRows)
	}
	if report.Summary.WillFail < 1 {
		t.Errorf("WillFail = %d, want at least 1", report.Summary.WillFail)
	}
	if rowIssue(report.Rows[0], canonical.CodeInvalidEmail) == nil {
		t.Errorf("row 2 issues = %v, want invalid_email", report.Rows[0].Issues)
	}
	for i, row := range report.Rows {
		if rowIssue(row, canonical.CodeLocalDuplicate) == nil {
			t.Errorf("row %d issues = %v, want local_duplicate_displayname", i+2, row.Issues)
		}
	}

	job, _ := st.GetJob(context.Background(), jobID, userID)
	if job.Status != store.StatusDryRunFailed {
		t.Errorf("Status = %q, want dry_run_failed", job.Status)
	}
}

func TestDryRun_LocalDuplicatesCiteEachOther(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, factoryFor(newFakeQBO()), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name\nAcme\nGlobex\nAcme\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	first := rowIssue(report.Rows[0], canonical.CodeLocalDuplicate)
	third := rowIssue(report.Rows[2], canonical.CodeLocalDuplicate)
	if first == nil || third == nil {
		t.Fatalf("rows 2 and 4 must both be flagged, got %+v", report.Rows)
	}
	if !strings.Contains(first.Message, "4") || !strings.Contains(third.Message, "2") {
		t.Errorf("messages must cite the other row: %q / %q", first.Message, third.Message)
	}
	if rowIssue(report.Rows[1], canonical.CodeLocalDuplicate) != nil {
		t.Error("unique row must not be flagged")
	}
}

func TestDryRun_RemoteDuplicate(t *testing.T) {
	client := newFakeQBO()
	client.existing["Acme"] = qbo.ExistingCustomer{ID: "42", DisplayName: "Acme"}

	st := newFakeStore()
	svc := newTestService(st, factoryFor(client), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name\nAcme\nGlobex\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	is := rowIssue(report.Rows[0], canonical.CodeRemoteDuplicate)
	if is == nil {
		t.Fatalf("row 2 issues = %v, want remote_duplicate_displayname", report.Rows[0].Issues)
	}
	if !strings.Contains(is.Message, "42") {
		t.Errorf("message = %q, want existing id cited", is.Message)
	}
	if report.Rows[1].Status != "valid" {
		t.Errorf("row 3 status = %q, want valid", report.Rows[1].Status)
	}
}

func TestDryRun_RemoteCheckUnavailableWarnsOnly(t *testing.T) {
	client := newFakeQBO()
	client.findErr = errors.New("dial tcp: connection refused")

	st := newFakeStore()
	svc := newTestService(st, factoryFor(client), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name\nAcme\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	if report.Summary.WillFail != 0 {
		t.Errorf("WillFail = %d, unavailable check must not block rows", report.Summary.WillFail)
	}
	found := false
	for _, is := range report.Summary.Issues {
		if is.Code == canonical.CodeDuplicateCheckUnavailable && is.Level == canonical.LevelWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("summary issues = %v, want duplicate_check_unavailable warning", report.Summary.Issues)
	}
}

func TestDryRun_NoProviderConnectionWarnsOnly(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, failingFactory(errors.New("user is not connected to QuickBooks")), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name\nAcme\n")

	report, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if report.Summary.WillSucceed != 1 {
		t.Errorf("summary = %+v, missing connection must not block validation", report.Summary)
	}
}

func TestDryRun_InputRejections(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, factoryFor(newFakeQBO()), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name\nAcme\n")

	tests := []struct {
		name    string
		mapping map[string]string
	}{
		{"empty mapping", nil},
		{"no DisplayName target", map[string]string{"Name": "CompanyName"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.DryRun(context.Background(), userID, jobID, tt.mapping); err == nil {
				t.Fatal("want error")
			}
		})
	}

	t.Run("wrong job state", func(t *testing.T) {
		if err := st.UpdateJob(context.Background(), jobID, store.StatusImporting, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"}); err == nil {
			t.Fatal("want error")
		}
	})

	t.Run("foreign job", func(t *testing.T) {
		_, err := svc.DryRun(context.Background(), uuid.New(), jobID, map[string]string{"Name": "DisplayName"})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestDryRun_Repeatable(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, factoryFor(newFakeQBO()), Options{})
	userID := uuid.New()
	jobID := uploadJob(t, svc, userID, "Name,Company\nAcme,\n")

	if _, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Company": "DisplayName"}); err != nil {
		t.Fatalf("first DryRun: %v", err)
	}
	// First run fails every row (blank Company); a corrected mapping on the
	// same job must succeed.
	report, err := svc.DryRun(context.Background(), userID, jobID, map[string]string{"Name": "DisplayName"})
	if err != nil {
		t.Fatalf("second DryRun: %v", err)
	}
	if report.Summary.WillSucceed != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}

	job, _ := st.GetJob(context.Background(), jobID, userID)
	if job.Status != store.StatusDryRunComplete {
		t.Errorf("Status = %q, want dry_run_complete after corrected run", job.Status)
	}
}
