package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore. The cancel
// flag is read through the same lock as Update, so a cancel request issued
// while a stage runs is visible at the next poll.
type JobStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.EodValuationJob
	byDate map[string]string // date -> job_id
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		byID:   make(map[string]*domain.EodValuationJob),
		byDate: make(map[string]string),
	}
}

var _ storage.JobStore = (*JobStore)(nil)

// Insert adds a job. Returns ErrDuplicateKey if a job already exists for the
// job's valuation date.
func (s *JobStore) Insert(_ context.Context, j *domain.EodValuationJob) error {
	if j == nil || j.JobID == "" || j.ValuationDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dateKey := domain.DateKey(j.ValuationDate)
	if _, exists := s.byDate[dateKey]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byID[j.JobID]; exists {
		return storage.ErrDuplicateKey
	}

	s.byID[j.JobID] = cloneJob(j)
	s.byDate[dateKey] = j.JobID
	return nil
}

// Update replaces the stored job and steps. Returns ErrNotFound if absent.
// The cancel flag is owned by RequestCancel and survives the update.
func (s *JobStore) Update(_ context.Context, j *domain.EodValuationJob) error {
	if j == nil || j.JobID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.byID[j.JobID]
	if !exists {
		return storage.ErrNotFound
	}

	cp := cloneJob(j)
	if prev.CancelRequested {
		cp.CancelRequested = true
	}
	s.byID[j.JobID] = cp
	return nil
}

// GetByJobID retrieves a job. Returns ErrNotFound if absent.
func (s *JobStore) GetByJobID(_ context.Context, jobID string) (*domain.EodValuationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.byID[jobID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneJob(j), nil
}

// GetByDate retrieves the job for a valuation date. Returns ErrNotFound if absent.
func (s *JobStore) GetByDate(_ context.Context, date time.Time) (*domain.EodValuationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, exists := s.byDate[domain.DateKey(date)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneJob(s.byID[jobID]), nil
}

// ListByStatus retrieves jobs with the given status, newest first.
func (s *JobStore) ListByStatus(_ context.Context, status domain.JobStatus) ([]*domain.EodValuationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EodValuationJob
	for _, j := range s.byID {
		if j.Status == status {
			result = append(result, cloneJob(j))
		}
	}

	sortJobsByDateDesc(result)
	return result, nil
}

// ListRecent retrieves up to limit jobs ordered by valuation date descending.
func (s *JobStore) ListRecent(_ context.Context, limit int) ([]*domain.EodValuationJob, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.EodValuationJob, 0, len(s.byID))
	for _, j := range s.byID {
		result = append(result, cloneJob(j))
	}

	sortJobsByDateDesc(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// RequestCancel sets the cooperative cancellation flag on a job.
func (s *JobStore) RequestCancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.byID[jobID]
	if !exists {
		return storage.ErrNotFound
	}

	j.CancelRequested = true
	return nil
}

// IsCancelRequested reads the cancellation flag.
func (s *JobStore) IsCancelRequested(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.byID[jobID]
	if !exists {
		return false, storage.ErrNotFound
	}
	return j.CancelRequested, nil
}

func cloneJob(j *domain.EodValuationJob) *domain.EodValuationJob {
	cp := *j
	cp.Steps = make([]*domain.EodValuationJobStep, 0, len(j.Steps))
	for _, step := range j.Steps {
		sc := *step
		cp.Steps = append(cp.Steps, &sc)
	}
	return &cp
}

func sortJobsByDateDesc(jobs []*domain.EodValuationJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].ValuationDate.Equal(jobs[j].ValuationDate) {
			return jobs[i].ValuationDate.After(jobs[j].ValuationDate)
		}
		return jobs[i].JobID < jobs[j].JobID
	})
}
