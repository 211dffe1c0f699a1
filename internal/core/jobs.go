package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/events"
	"github.com/qbloader/qbloader/internal/store"
)

// JobView is the client-facing job status shape: the stored job plus tallies
// recomputed from the row store.
type JobView struct {
	ID         uuid.UUID       `json:"id"`
	Status     store.JobStatus `json:"status"`
	ObjectType string          `json:"object_type"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Meta       map[string]any  `json:"meta"`
	Progress   store.Progress  `json:"progress"`
}

func (s *Service) jobView(ctx context.Context, job *store.Job) (*JobView, error) {
	progress, err := s.store.RowCounts(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobView{
		ID:         job.ID,
		Status:     job.Status,
		ObjectType: job.ObjectType,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		Meta:       job.Meta,
		Progress:   progress,
	}, nil
}

// JobStatus returns one job with current row tallies.
func (s *Service) JobStatus(ctx context.Context, userID, jobID uuid.UUID) (*JobView, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return s.jobView(ctx, job)
}

// ListJobs returns the user's jobs, newest first, each with row tallies.
func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID) ([]JobView, error) {
	jobs, err := s.store.ListJobs(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(jobs))
	for i := range jobs {
		view, err := s.jobView(ctx, &jobs[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Snapshot builds the initial progress event sent to a new subscriber before
// live updates take over.
func (s *Service) Snapshot(ctx context.Context, userID, jobID uuid.UUID) (*events.Snapshot, error) {
	view, err := s.JobStatus(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return &events.Snapshot{
		Status:   string(view.Status),
		Progress: view.Progress,
		Meta:     view.Meta,
	}, nil
}
