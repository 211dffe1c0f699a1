package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/events"
	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
)

// Store is the persistence surface the pipeline needs. *store.Store satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	CreateJob(ctx context.Context, userID uuid.UUID, objectType string, status store.JobStatus, meta map[string]any) (*store.Job, error)
	GetJob(ctx context.Context, id, userID uuid.UUID) (*store.Job, error)
	ListJobs(ctx context.Context, userID uuid.UUID) ([]store.Job, error)
	UpdateJob(ctx context.Context, id uuid.UUID, status store.JobStatus, meta map[string]any) error
	ClaimQueuedJob(ctx context.Context) (*store.Job, error)
	RequeueJob(ctx context.Context, id uuid.UUID, runAfter time.Time) error

	ReplaceRows(ctx context.Context, jobID uuid.UUID, seeds []store.RowSeed) error
	ListRows(ctx context.Context, jobID uuid.UUID) ([]store.JobRow, error)
	ListRowsByStatus(ctx context.Context, jobID uuid.UUID, status store.RowStatus) ([]store.JobRow, error)
	UpdateRowValidation(ctx context.Context, id uuid.UUID, status store.RowStatus, errText string, payload map[string]any) error
	UpdateRowImport(ctx context.Context, id uuid.UUID, status store.RowStatus, errText string, meta map[string]any) error
	RowCounts(ctx context.Context, jobID uuid.UUID) (store.Progress, error)

	CreateTemplate(ctx context.Context, userID uuid.UUID, name, objectType string, mapping map[string]string) (*store.MappingTemplate, error)
	GetTemplate(ctx context.Context, id, userID uuid.UUID) (*store.MappingTemplate, error)
	ListTemplates(ctx context.Context, userID uuid.UUID) ([]store.MappingTemplate, error)
	DeleteTemplate(ctx context.Context, id, userID uuid.UUID) error
}

// QBO is the slice of the provider client the pipeline calls.
type QBO interface {
	FindCustomersByName(ctx context.Context, names []string) (map[string]qbo.ExistingCustomer, error)
	BatchCreateCustomers(ctx context.Context, items []qbo.BatchItem) ([]qbo.BatchResult, error)
}

// ClientFactory resolves the provider client for a user. It fails when the
// user has no stored QuickBooks connection.
type ClientFactory func(ctx context.Context, userID uuid.UUID) (QBO, error)

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	MaxFileSize  int64
	PreviewRows  int
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	JobTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 20 << 20
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Minute
	}
	return o
}

// Service provides the core business logic for CSV customer imports.
type Service struct {
	store   Store
	clients ClientFactory
	broker  *events.Broker
	opts    Options
}

// NewService creates a new Service instance.
func NewService(st Store, clients ClientFactory, broker *events.Broker, opts Options) *Service {
	return &Service{
		store:   st,
		clients: clients,
		broker:  broker,
		opts:    opts.withDefaults(),
	}
}

// setStatus persists a job transition and broadcasts it. The broadcast is
// best-effort; only the persisted state is authoritative.
func (s *Service) setStatus(ctx context.Context, jobID uuid.UUID, status store.JobStatus, meta map[string]any) error {
	if err := s.store.UpdateJob(ctx, jobID, status, meta); err != nil {
		return err
	}
	s.broadcast(ctx, jobID, status, meta)
	return nil
}

// broadcast publishes a progress snapshot with tallies recomputed from the
// row store, so displayed counts never drift from persisted rows.
func (s *Service) broadcast(ctx context.Context, jobID uuid.UUID, status store.JobStatus, meta map[string]any) {
	progress, err := s.store.RowCounts(ctx, jobID)
	if err != nil {
		logging.FromContext(ctx).Warn("progress tally failed", "job_id", jobID, "error", err)
	}
	s.broker.Publish(jobID, events.Snapshot{
		Status:   string(status),
		Progress: progress,
		Meta:     meta,
	})
}
