package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/json2excel-back/internal/domain"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

// JobsRepository abstracts job persistence. Implementations hand out copies,
// so callers own the jobs they receive.
type JobsRepository interface {
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]*domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory. It is the default store; jobs do
// not survive a restart.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) Save(_ context.Context, job *domain.Job) error {
	clone := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	r.jobs[job.ID] = clone
	return nil
}

func (r *MemoryJobsRepository) Update(_ context.Context, job *domain.Job) error {
	clone := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = clone
	return nil
}

func (r *MemoryJobsRepository) Get(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[jobID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, jobID)
	return nil
}

func (r *MemoryJobsRepository) List(_ context.Context) ([]*domain.Job, error) {
	r.mu.RLock()
	items := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		items = append(items, job.Clone())
	}
	r.mu.RUnlock()

	sortNewestFirst(items)
	return items, nil
}

func sortNewestFirst(items []*domain.Job) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
