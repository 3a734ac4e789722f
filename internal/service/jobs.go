package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/iago/json2excel-back/internal/queue"
	"github.com/iago/json2excel-back/internal/repository"
)

const (
	DefaultMaxActiveJobs   = 5
	DefaultJobTimeout      = 10 * time.Minute
	DefaultPollInterval    = time.Second
	DefaultIdleDelay       = 100 * time.Millisecond
	DefaultRetention       = 24 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute
)

// Executor performs the conversion of one job. Process mutates job in place
// and must leave it terminal; it reports intermediate states through progress.
type Executor interface {
	Process(ctx context.Context, job *domain.Job, progress ProgressFunc) bool
	GetOutputFile(ctx context.Context, jobID string) (path string, name string, err error)
}

type OptionsNormalizer interface {
	ProcessFormData(raw map[string]string) (domain.ConversionOptions, error)
}

type UploadResolver interface {
	GetUpload(ctx context.Context, fileID string) (domain.UploadRef, error)
}

type ArtifactCleaner interface {
	RemoveJobArtifacts(ctx context.Context, job *domain.Job) error
}

// JobNotifier is told about every persisted job change. JobUpdated is called
// with the manager lock held and must not block.
type JobNotifier interface {
	JobUpdated(job *domain.Job)
}

type MetricsRecorder interface {
	JobCreated()
	JobRejected()
	JobFinished(status domain.StatusValue, duration time.Duration)
	JobCancelled()
	JobTimedOut()
	SetQueueDepth(depth int)
	SetActiveJobs(count int)
}

type noopMetrics struct{}

func (noopMetrics) JobCreated() {}
func (noopMetrics) JobRejected() {}
func (noopMetrics) JobFinished(domain.StatusValue, time.Duration) {}
func (noopMetrics) JobCancelled() {}
func (noopMetrics) JobTimedOut() {}
func (noopMetrics) SetQueueDepth(int) {}
func (noopMetrics) SetActiveJobs(int) {}

type JobManagerConfig struct {
	MaxActiveJobs   int
	JobTimeout      time.Duration
	PollInterval    time.Duration
	IdleDelay       time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

func (c JobManagerConfig) withDefaults() JobManagerConfig {
	if c.MaxActiveJobs <= 0 {
		c.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IdleDelay < 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// JobManagerDeps are the collaborators of the manager. Artifacts, Metrics and
// Notifier are optional.
type JobManagerDeps struct {
	Repo      repository.JobsRepository
	Queue     queue.JobQueue
	Uploads   UploadResolver
	Options   OptionsNormalizer
	Executor  Executor
	Artifacts ArtifactCleaner
	Metrics   MetricsRecorder
	Notifier  JobNotifier
	Logger    *log.Logger
}

// QueueStatus is a point-in-time view of the manager's load.
type QueueStatus struct {
	QueueSize       int `json:"queue_size"`
	ActiveJobsCount int `json:"active_jobs_count"`
	MaxActiveJobs   int `json:"max_active_jobs"`
}

type activeJob struct {
	cancel context.CancelFunc
}

// JobManager accepts conversion jobs, queues them and drives a single
// background worker through them in FIFO order.
type JobManager struct {
	repo      repository.JobsRepository
	queue     queue.JobQueue
	uploads   UploadResolver
	options   OptionsNormalizer
	executor  Executor
	artifacts ArtifactCleaner
	metrics   MetricsRecorder
	notifier  JobNotifier
	logger    *log.Logger
	cfg       JobManagerConfig
	now       func() time.Time

	// mu guards activeJobs, startTimes, reserved and store writes of
	// jobs that can still be cancelled.
	mu         sync.Mutex
	activeJobs map[string]*activeJob
	startTimes map[string]time.Time
	reserved   int

	lifecycle sync.Mutex
	running   bool
	stop      context.CancelFunc
	done      chan struct{}
}

func NewJobManager(deps JobManagerDeps, cfg JobManagerConfig) (*JobManager, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("job manager requires a jobs repository")
	case deps.Queue == nil:
		return nil, errors.New("job manager requires a queue")
	case deps.Uploads == nil:
		return nil, errors.New("job manager requires an upload resolver")
	case deps.Options == nil:
		return nil, errors.New("job manager requires an options normalizer")
	case deps.Executor == nil:
		return nil, errors.New("job manager requires an executor")
	}

	cfg = cfg.withDefaults()
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &JobManager{
		repo:       deps.Repo,
		queue:      deps.Queue,
		uploads:    deps.Uploads,
		options:    deps.Options,
		executor:   deps.Executor,
		artifacts:  deps.Artifacts,
		metrics:    metrics,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		activeJobs: make(map[string]*activeJob),
		startTimes: make(map[string]time.Time),
	}, nil
}

// Start launches the worker and cleanup goroutines. Calling it again while
// running only logs.
func (m *JobManager) Start() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.running {
		m.logf("job manager already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stop = cancel
	m.done = done
	m.running = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.runWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		m.runCleanup(ctx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	m.logf(
		"job manager started max_active_jobs=%d timeout=%s poll_interval=%s",
		m.cfg.MaxActiveJobs, m.cfg.JobTimeout, m.cfg.PollInterval,
	)
}

// Stop signals the background goroutines and waits for them to exit.
func (m *JobManager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.running {
		return
	}
	m.stop()
	<-m.done
	m.running = false
	m.stop = nil
	m.done = nil
	m.logf("job manager stopped")
}

func (m *JobManager) Running() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.running
}

// CreateJob validates the request, persists a PENDING job and queues it.
// A full queue is rejected before anything else happens.
func (m *JobManager) CreateJob(ctx context.Context, fileID string, raw map[string]string) (*domain.Job, error) {
	if err := m.reserveSlot(ctx); err != nil {
		m.metrics.JobRejected()
		return nil, err
	}
	defer m.releaseSlot()

	input, err := m.uploads.GetUpload(ctx, fileID)
	if err != nil {
		return nil, asDomainError(err, func() *domain.Error {
			return domain.NewSystemError("Failed to resolve uploaded file", err)
		})
	}

	options, err := m.options.ProcessFormData(raw)
	if err != nil {
		return nil, asDomainError(err, func() *domain.Error {
			return domain.NewValidationError(domain.CodeInvalidOptions, err.Error(), nil)
		})
	}

	job := domain.NewJob("", input, options)
	if err := m.repo.Save(ctx, job); err != nil {
		return nil, domain.NewSystemError("Failed to save job", err)
	}

	// The pending broadcast goes out under m.mu so the worker cannot report
	// the job as processing first.
	message := domain.QueueMessage{JobID: job.ID, EnqueuedAt: m.now()}
	m.mu.Lock()
	err = m.queue.TryEnqueue(ctx, message)
	if err == nil {
		m.notify(job)
	}
	m.mu.Unlock()
	if err != nil {
		if deleteErr := m.repo.Delete(context.WithoutCancel(ctx), job.ID); deleteErr != nil {
			m.logf("job rollback failed job_id=%s err=%v", job.ID, deleteErr)
		}
		if errors.Is(err, queue.ErrQueueFull) {
			m.metrics.JobRejected()
			return nil, domain.NewQueueFullError(m.cfg.MaxActiveJobs)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	m.metrics.JobCreated()
	m.recordGauges(ctx)
	m.logf("job created job_id=%s file_id=%s", job.ID, fileID)
	return job, nil
}

func (m *JobManager) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := m.repo.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewJobNotFoundError(jobID)
		}
		return nil, domain.NewSystemError("Failed to load job", err)
	}
	return job, nil
}

func (m *JobManager) GetJobStatus(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.ToMap(), nil
}

// GetJobResult is available once the job is terminal, failed jobs included.
func (m *JobManager) GetJobResult(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsComplete() {
		return nil, domain.NewJobNotCompleteError(jobID, job.Status.Status)
	}
	return job.ResultMap(), nil
}

func (m *JobManager) GetOutputFile(ctx context.Context, jobID string) (string, string, error) {
	return m.executor.GetOutputFile(ctx, jobID)
}

// CancelJob fails a queued or running job. Terminal jobs are left untouched.
func (m *JobManager) CancelJob(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	if job.IsComplete() {
		m.mu.Unlock()
		return false, domain.NewJobAlreadyCompleteError(jobID, job.Status.Status)
	}

	m.untrack(jobID)
	job.SetError(domain.NewCancelledError(jobID), "")
	err = m.repo.Update(context.WithoutCancel(ctx), job)
	if err == nil {
		m.notify(job)
	}
	activeCount := len(m.activeJobs)
	m.mu.Unlock()

	if err != nil {
		return false, domain.NewSystemError("Failed to persist cancelled job", err)
	}

	m.metrics.JobCancelled()
	m.metrics.SetActiveJobs(activeCount)
	m.logf("job cancelled job_id=%s", jobID)
	return true, nil
}

// ListJobs returns serialized jobs, newest first, optionally filtered by
// status.
func (m *JobManager) ListJobs(ctx context.Context, status *domain.StatusValue) ([]map[string]any, error) {
	jobs, err := m.repo.List(ctx)
	if err != nil {
		return nil, domain.NewSystemError("Failed to list jobs", err)
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		if status != nil && job.Status.Status != *status {
			continue
		}
		items = append(items, job.ToMap())
	}
	return items, nil
}

func (m *JobManager) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	size, err := m.queue.Len(ctx)
	if err != nil {
		return QueueStatus{}, domain.NewSystemError("Failed to read queue size", err)
	}
	m.mu.Lock()
	active := len(m.activeJobs)
	m.mu.Unlock()

	return QueueStatus{
		QueueSize:       size,
		ActiveJobsCount: active,
		MaxActiveJobs:   m.cfg.MaxActiveJobs,
	}, nil
}

// CleanupExpiredJobs deletes terminal jobs completed more than the retention
// period ago, together with their output files.
func (m *JobManager) CleanupExpiredJobs(ctx context.Context) (int, error) {
	jobs, err := m.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	cutoff := m.now().Add(-m.cfg.Retention)
	removed := 0
	for _, job := range jobs {
		if !job.IsComplete() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if m.artifacts != nil {
			if err := m.artifacts.RemoveJobArtifacts(ctx, job); err != nil {
				m.logf("job cleanup artifacts failed job_id=%s err=%v", job.ID, err)
				continue
			}
		}
		if err := m.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			m.logf("job cleanup delete failed job_id=%s err=%v", job.ID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logf("job cleanup removed=%d", removed)
	}
	return removed, nil
}

func (m *JobManager) reserveSlot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, err := m.queue.Len(ctx)
	if err != nil {
		return domain.NewSystemError("Failed to read queue size", err)
	}
	if size+m.reserved >= m.cfg.MaxActiveJobs {
		m.logf("job rejected queue_size=%d reserved=%d max_active_jobs=%d", size, m.reserved, m.cfg.MaxActiveJobs)
		return domain.NewQueueFullError(m.cfg.MaxActiveJobs)
	}
	m.reserved++
	return nil
}

func (m *JobManager) releaseSlot() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
}

// notify must be called with m.mu held so broadcasts keep store order.
func (m *JobManager) notify(job *domain.Job) {
	if m.notifier == nil || job == nil {
		return
	}
	m.notifier.JobUpdated(job.Clone())
}

func (m *JobManager) recordGauges(ctx context.Context) {
	if size, err := m.queue.Len(ctx); err == nil {
		m.metrics.SetQueueDepth(size)
	}
	m.mu.Lock()
	active := len(m.activeJobs)
	m.mu.Unlock()
	m.metrics.SetActiveJobs(active)
}

func (m *JobManager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func asDomainError(err error, fallback func() *domain.Error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	return fallback()
}
