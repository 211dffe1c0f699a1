package core

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
)

// fakeStore is an in-memory Store with the same observable semantics as the
// Postgres implementation, including ownership checks and the queue claim.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*store.Job
	rows      map[uuid.UUID][]store.JobRow
	templates map[uuid.UUID]*store.MappingTemplate
	runAfter  map[uuid.UUID]time.Time
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[uuid.UUID]*store.Job),
		rows:      make(map[uuid.UUID][]store.JobRow),
		templates: make(map[uuid.UUID]*store.MappingTemplate),
		runAfter:  make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, userID uuid.UUID, objectType string, status store.JobStatus, meta map[string]any) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if meta == nil {
		meta = map[string]any{}
	}
	f.seq++
	job := &store.Job{
		ID:         uuid.New(),
		UserID:     userID,
		ObjectType: objectType,
		Status:     status,
		Meta:       maps.Clone(meta),
		CreatedAt:  time.Unix(int64(f.seq), 0),
		UpdatedAt:  time.Unix(int64(f.seq), 0),
	}
	f.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (f *fakeStore) GetJob(_ context.Context, id, userID uuid.UUID) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return nil, store.ErrNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeStore) ListJobs(_ context.Context, userID uuid.UUID) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []store.Job
	for _, job := range f.jobs {
		if job.UserID == userID {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, id uuid.UUID, status store.JobStatus, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.Meta = maps.Clone(meta)
	job.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) ClaimQueuedJob(_ context.Context) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var oldest *store.Job
	for _, job := range f.jobs {
		if job.Status != store.StatusQueued || f.runAfter[job.ID].After(time.Now()) {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}
	oldest.Status = store.StatusParsing
	oldest.Attempts++
	return cloneJob(oldest), nil
}

func (f *fakeStore) RequeueJob(_ context.Context, id uuid.UUID, runAfter time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = store.StatusQueued
	f.runAfter[id] = runAfter
	return nil
}

func (f *fakeStore) ReplaceRows(_ context.Context, jobID uuid.UUID, seeds []store.RowSeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows := make([]store.JobRow, len(seeds))
	for i, seed := range seeds {
		rows[i] = store.JobRow{
			ID:        uuid.New(),
			JobID:     jobID,
			RowNumber: seed.RowNumber,
			Status:    store.RowPending,
			RawData:   maps.Clone(seed.RawData),
		}
	}
	f.rows[jobID] = rows
	return nil
}

func (f *fakeStore) ListRows(_ context.Context, jobID uuid.UUID) ([]store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows := make([]store.JobRow, len(f.rows[jobID]))
	copy(rows, f.rows[jobID])
	return rows, nil
}

func (f *fakeStore) ListRowsByStatus(_ context.Context, jobID uuid.UUID, status store.RowStatus) ([]store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []store.JobRow
	for _, row := range f.rows[jobID] {
		if row.Status == status {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeStore) UpdateRowValidation(_ context.Context, id uuid.UUID, status store.RowStatus, errText string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.findRow(id)
	if row == nil {
		return store.ErrNotFound
	}
	row.Status = status
	row.Error = errText
	row.Payload = payload
	return nil
}

func (f *fakeStore) UpdateRowImport(_ context.Context, id uuid.UUID, status store.RowStatus, errText string, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.findRow(id)
	if row == nil {
		return store.ErrNotFound
	}
	row.Status = status
	row.Error = errText
	row.Meta = meta
	return nil
}

func (f *fakeStore) RowCounts(_ context.Context, jobID uuid.UUID) (store.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var p store.Progress
	for _, row := range f.rows[jobID] {
		p.Total++
		switch row.Status {
		case store.RowValid:
			p.Valid++
		case store.RowError:
			p.Error++
		case store.RowSuccess:
			p.Success++
		}
	}
	return p, nil
}

func (f *fakeStore) findRow(id uuid.UUID) *store.JobRow {
	for jobID := range f.rows {
		for i := range f.rows[jobID] {
			if f.rows[jobID][i].ID == id {
				return &f.rows[jobID][i]
			}
		}
	}
	return nil
}

func (f *fakeStore) CreateTemplate(_ context.Context, userID uuid.UUID, name, objectType string, mapping map[string]string) (*store.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpl := &store.MappingTemplate{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		ObjectType: objectType,
		Mapping:    maps.Clone(mapping),
		CreatedAt:  time.Now(),
	}
	f.templates[tmpl.ID] = tmpl
	return tmpl, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id, userID uuid.UUID) (*store.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpl, ok := f.templates[id]
	if !ok || tmpl.UserID != userID {
		return nil, store.ErrNotFound
	}
	return tmpl, nil
}

func (f *fakeStore) ListTemplates(_ context.Context, userID uuid.UUID) ([]store.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var templates []store.MappingTemplate
	for _, tmpl := range f.templates {
		if tmpl.UserID == userID {
			templates = append(templates, *tmpl)
		}
	}
	return templates, nil
}

func (f *fakeStore) DeleteTemplate(_ context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpl, ok := f.templates[id]
	if !ok || tmpl.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.templates, id)
	return nil
}

func cloneJob(job *store.Job) *store.Job {
	clone := *job
	clone.Meta = maps.Clone(job.Meta)
	return &clone
}

// fakeQBO scripts the provider client. Batch calls are recorded; failBatch
// marks whole calls (0-based) as transport failures and failNames marks
// individual customers as per-item faults.
type fakeQBO struct {
	mu        sync.Mutex
	existing  map[string]qbo.ExistingCustomer
	findErr   error
	failBatch map[int]bool
	failNames map[string]string
	batches   [][]qbo.BatchItem
}

func newFakeQBO() *fakeQBO {
	return &fakeQBO{
		existing:  make(map[string]qbo.ExistingCustomer),
		failBatch: make(map[int]bool),
		failNames: make(map[string]string),
	}
}

func (f *fakeQBO) FindCustomersByName(_ context.Context, names []string) (map[string]qbo.ExistingCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}
	found := make(map[string]qbo.ExistingCustomer)
	for _, name := range names {
		if match, ok := f.existing[name]; ok {
			found[name] = match
		}
	}
	return found, nil
}

func (f *fakeQBO) BatchCreateCustomers(_ context.Context, items []qbo.BatchItem) ([]qbo.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.batches)
	f.batches = append(f.batches, items)
	if f.failBatch[call] {
		return nil, fmt.Errorf("connection reset by peer")
	}

	results := make([]qbo.BatchResult, len(items))
	for i, item := range items {
		results[i] = qbo.BatchResult{
			BID:       item.BID,
			ID:        fmt.Sprintf("qb-%d-%d", call, i),
			SyncToken: "0",
		}
		if msg, ok := f.failNames[itemDisplayName(item)]; ok {
			results[i] = qbo.BatchResult{BID: item.BID, Err: msg}
		}
	}
	return results, nil
}

func itemDisplayName(item qbo.BatchItem) string {
	cust, _ := item.Payload["Customer"].(map[string]any)
	name, _ := cust["DisplayName"].(string)
	return name
}

// factoryFor returns a ClientFactory that always yields the given client.
func factoryFor(client QBO) ClientFactory {
	return func(context.Context, uuid.UUID) (QBO, error) {
		return client, nil
	}
}

// failingFactory simulates a user without a stored provider connection.
func failingFactory(err error) ClientFactory {
	return func(context.Context, uuid.UUID) (QBO, error) {
		return nil, err
	}
}
