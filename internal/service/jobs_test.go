package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/iago/json2excel-back/internal/queue"
	"github.com/iago/json2excel-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

type fakeUploads map[string]domain.UploadRef

func (f fakeUploads) GetUpload(_ context.Context, fileID string) (domain.UploadRef, error) {
	ref, ok := f[fileID]
	if !ok {
		return domain.UploadRef{}, domain.NewFileNotFoundError(fileID)
	}
	return ref, nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	processed []string
	cancelled []string

	started  chan string
	release  chan struct{}
	panicFor string
	failFor  string

	// lateProgress reports one more processing update after the job
	// context is cancelled.
	lateProgress bool
}

func (e *fakeExecutor) Process(ctx context.Context, job *domain.Job, progress ProgressFunc) bool {
	e.mu.Lock()
	e.processed = append(e.processed, job.ID)
	e.mu.Unlock()

	job.UpdateStatus(domain.StatusProcessing, 50, "Halfway there")
	progress(job.Clone())

	if e.started != nil {
		e.started <- job.ID
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			e.mu.Lock()
			e.cancelled = append(e.cancelled, job.ID)
			e.mu.Unlock()
			if e.lateProgress {
				late := job.Clone()
				late.UpdateStatus(domain.StatusProcessing, 90, "Writing rows")
				progress(late)
			}
			job.SetError(domain.NewProcessingError("Conversion was interrupted", ctx.Err(), nil), "")
			return false
		}
	}
	if job.ID == e.panicFor {
		panic("converter exploded")
	}
	if job.ID == e.failFor {
		job.SetError(domain.NewProcessingError("Failed to convert JSON to Excel", nil, nil), "")
		return false
	}
	job.SetCompleted("/tmp/"+job.ID+".xlsx", "orders.xlsx", map[string]any{"records": 1}, "")
	return true
}

func (e *fakeExecutor) GetOutputFile(_ context.Context, jobID string) (string, string, error) {
	return "/tmp/" + jobID + ".xlsx", "orders.xlsx", nil
}

func (e *fakeExecutor) processedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.processed...)
}

func (e *fakeExecutor) cancelledIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cancelled...)
}

type recordingCleaner struct {
	mu      sync.Mutex
	removed []string
}

func (c *recordingCleaner) RemoveJobArtifacts(_ context.Context, job *domain.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, job.ID)
	return nil
}

type failingQueue struct {
	*queue.LocalQueue
}

func (q failingQueue) TryEnqueue(context.Context, domain.QueueMessage) error {
	return errors.New("broker unavailable")
}

type flakyRepo struct {
	*repository.MemoryJobsRepository
	failGet  atomic.Bool
	failSave atomic.Bool
}

func (r *flakyRepo) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if r.failGet.Load() {
		return nil, errors.New("store unavailable")
	}
	return r.MemoryJobsRepository.Get(ctx, jobID)
}

func (r *flakyRepo) Save(ctx context.Context, job *domain.Job) error {
	if r.failSave.Load() {
		return errors.New("store unavailable")
	}
	return r.MemoryJobsRepository.Save(ctx, job)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates map[string][]domain.StatusValue
}

func (n *recordingNotifier) JobUpdated(job *domain.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.updates == nil {
		n.updates = make(map[string][]domain.StatusValue)
	}
	n.updates[job.ID] = append(n.updates[job.ID], job.Status.Status)
}

func (n *recordingNotifier) statuses(jobID string) []domain.StatusValue {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StatusValue(nil), n.updates[jobID]...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type managerFixture struct {
	manager  *JobManager
	repo     repository.JobsRepository
	queue    queue.JobQueue
	executor *fakeExecutor
	cleaner  *recordingCleaner
	notifier *recordingNotifier
}

func newManagerFixture(t *testing.T, executor *fakeExecutor, maxActive int) *managerFixture {
	t.Helper()
	return newManagerFixtureWithQueue(t, executor, queue.NewLocalQueue(maxActive, nil), maxActive)
}

func newManagerFixtureWithQueue(t *testing.T, executor *fakeExecutor, jobQueue queue.JobQueue, maxActive int) *managerFixture {
	t.Helper()
	return newManagerFixtureWithDeps(t, executor, jobQueue, repository.NewMemoryJobsRepository(), maxActive)
}

func newManagerFixtureWithDeps(
	t *testing.T,
	executor *fakeExecutor,
	jobQueue queue.JobQueue,
	repo repository.JobsRepository,
	maxActive int,
) *managerFixture {
	t.Helper()
	if executor == nil {
		executor = &fakeExecutor{}
	}
	cleaner := &recordingCleaner{}
	notifier := &recordingNotifier{}

	manager, err := NewJobManager(JobManagerDeps{
		Repo:  repo,
		Queue: jobQueue,
		Uploads: fakeUploads{
			"file-1": {FileID: "file-1", OriginalName: "orders.json", Path: "/tmp/orders.json", Size: 42},
		},
		Options:   &ConversionService{},
		Executor:  executor,
		Artifacts: cleaner,
		Notifier:  notifier,
	}, JobManagerConfig{
		MaxActiveJobs: maxActive,
		JobTimeout:    10 * time.Minute,
		PollInterval:  10 * time.Millisecond,
		IdleDelay:     time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(manager.Stop)

	return &managerFixture{
		manager:  manager,
		repo:     repo,
		queue:    jobQueue,
		executor: executor,
		cleaner:  cleaner,
		notifier: notifier,
	}
}

func (f *managerFixture) status(t *testing.T, jobID string) domain.StatusValue {
	t.Helper()
	job, err := f.manager.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job.Status.Status
}

func TestCreateJobReturnsPendingJob(t *testing.T) {
	f := newManagerFixture(t, nil, 5)

	job, err := f.manager.CreateJob(context.Background(), "file-1", map[string]string{"sheet_name": "Orders"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status.Status)
	assert.Equal(t, "Orders", job.Options.SheetName)
	assert.Equal(t, "file-1", job.Input.FileID)

	size, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	status, err := f.manager.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, status["job_id"])
	assert.Equal(t, "pending", status["status"])
}

func TestCreateJobRejectsWhenQueueFull(t *testing.T) {
	f := newManagerFixture(t, nil, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.manager.CreateJob(ctx, "file-1", nil)
		require.NoError(t, err)
	}

	_, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.Error(t, err)
	target, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeJobQueueFull, target.Code)
	assert.Equal(t, domain.CategoryCapacity, target.Category)
	assert.Equal(t, 2, target.Context["max_active_jobs"])

	jobs, err := f.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestCreateJobAcceptedAgainOnceQueuedJobFinishes(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 1)
	ctx := context.Background()

	first, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	_, err = f.manager.CreateJob(ctx, "file-1", nil)
	require.True(t, domain.HasCode(err, domain.CodeJobQueueFull))

	f.manager.Start()
	require.Equal(t, first.ID, <-executor.started)
	close(executor.release)
	require.Eventually(t, func() bool {
		return f.status(t, first.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	second, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	require.Eventually(t, func() bool {
		return f.status(t, second.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)
}

func TestCreateJobConcurrentCallersNeverExceedCapacity(t *testing.T) {
	f := newManagerFixture(t, nil, 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.CreateJob(context.Background(), "file-1", nil); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	size, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestCreateJobUnknownFile(t *testing.T) {
	f := newManagerFixture(t, nil, 5)

	_, err := f.manager.CreateJob(context.Background(), "missing", nil)
	assert.True(t, domain.HasCode(err, domain.CodeFileNotFound))

	size, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestCreateJobInvalidOptions(t *testing.T) {
	f := newManagerFixture(t, nil, 5)

	_, err := f.manager.CreateJob(context.Background(), "file-1", map[string]string{"array_handling": "explode"})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidOptions))

	jobs, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateJobRollsBackWhenEnqueueFails(t *testing.T) {
	f := newManagerFixtureWithQueue(t, nil, failingQueue{queue.NewLocalQueue(5, nil)}, 5)

	_, err := f.manager.CreateJob(context.Background(), "file-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	jobs, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateJobSaveFailureEnqueuesNothing(t *testing.T) {
	repo := &flakyRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository()}
	f := newManagerFixtureWithDeps(t, nil, queue.NewLocalQueue(5, nil), repo, 5)
	ctx := context.Background()

	repo.failSave.Store(true)
	_, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.Error(t, err)
	target, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategorySystem, target.Category)
	assert.Equal(t, domain.CodeSystemError, target.Code)
	assert.Contains(t, err.Error(), "store unavailable")

	size, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	jobs, err := f.repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	repo.failSave.Store(false)
	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	size, err = f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, []domain.StatusValue{domain.StatusPending}, f.notifier.statuses(job.ID))
}

func TestWorkerProcessesJobsInFIFOOrder(t *testing.T) {
	f := newManagerFixture(t, nil, 5)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.manager.CreateJob(ctx, "file-1", nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	f.manager.Start()
	require.Eventually(t, func() bool {
		return f.status(t, ids[2]) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	assert.Equal(t, ids, f.executor.processedIDs())
	for _, id := range ids {
		job, err := f.manager.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 100, job.Status.ProgressPercentage)
		require.NotNil(t, job.CompletedAt)
	}

	status, err := f.manager.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{QueueSize: 0, ActiveJobsCount: 0, MaxActiveJobs: 5}, status)
}

func TestGetJobResult(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 5)
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)

	_, err = f.manager.GetJobResult(ctx, job.ID)
	assert.True(t, domain.HasCode(err, domain.CodeJobNotComplete))

	f.manager.Start()
	<-executor.started

	status, err := f.manager.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "processing", status["status"])
	assert.Equal(t, 50, status["progress_percentage"])

	close(executor.release)
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	result, err := f.manager.GetJobResult(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])
	assert.Equal(t, "orders.xlsx", result["output_file_name"])
	assert.NotContains(t, result, "error")

	path, name, err := f.manager.GetOutputFile(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/"+job.ID+".xlsx", path)
	assert.Equal(t, "orders.xlsx", name)
}

func TestFailedJobResultCarriesError(t *testing.T) {
	executor := &fakeExecutor{}
	f := newManagerFixture(t, executor, 5)
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	executor.failFor = job.ID

	f.manager.Start()
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusFailed
	}, eventually, 5*time.Millisecond)

	result, err := f.manager.GetJobResult(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", result["status"])
	require.Contains(t, result, "error")
	assert.Equal(t, domain.CodeConversionFailed, result["error"].(map[string]any)["code"])
	assert.NotContains(t, result, "output_file_path")
}

func TestCancelQueuedJobIsSkippedByWorker(t *testing.T) {
	f := newManagerFixture(t, nil, 5)
	ctx := context.Background()

	cancelled, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	next, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)

	ok, err := f.manager.CancelJob(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := f.manager.GetJob(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status.Status)
	require.NotNil(t, job.Status.Error)
	assert.Equal(t, domain.CodeJobCancelled, job.Status.Error.Code)
	assert.Equal(t, "Job cancelled by user", job.Status.Message)
	assert.NotNil(t, job.CompletedAt)

	f.manager.Start()
	require.Eventually(t, func() bool {
		return f.status(t, next.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	assert.Equal(t, []string{next.ID}, f.executor.processedIDs())
	assert.Equal(t, domain.StatusFailed, f.status(t, cancelled.ID))
}

func TestCancelRunningJobWinsOverLateResult(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 5)
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	require.Equal(t, job.ID, <-executor.started)

	ok, err := f.manager.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return len(executor.cancelledIDs()) == 1
	}, eventually, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		status, err := f.manager.GetQueueStatus(ctx)
		return err == nil && status.ActiveJobsCount == 0
	}, eventually, 5*time.Millisecond)

	stored, err := f.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status.Status)
	assert.Equal(t, domain.CodeJobCancelled, stored.Status.Error.Code)
}

func TestCancelTerminalJobIsConflict(t *testing.T) {
	f := newManagerFixture(t, nil, 5)
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	before, err := f.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)

	ok, err := f.manager.CancelJob(ctx, job.ID)
	assert.False(t, ok)
	target, isDomain := domain.AsError(err)
	require.True(t, isDomain)
	assert.Equal(t, domain.CodeJobAlreadyComplete, target.Code)
	assert.Equal(t, domain.CategoryConflict, target.Category)

	after, err := f.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ToMap(), after.ToMap())
}

func TestCancelUnknownJob(t *testing.T) {
	f := newManagerFixture(t, nil, 5)

	ok, err := f.manager.CancelJob(context.Background(), "nope")
	assert.False(t, ok)
	assert.True(t, domain.HasCode(err, domain.CodeJobNotFound))
}

func TestTimeoutFailsLongRunningJob(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 5)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.manager.now = clock.Now
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	<-executor.started

	clock.Advance(9 * time.Minute)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, domain.StatusProcessing, f.status(t, job.ID))

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusFailed
	}, eventually, 5*time.Millisecond)

	stored, err := f.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Status.Error)
	assert.Equal(t, domain.CodeJobTimeout, stored.Status.Error.Code)
	assert.Equal(t, "Job timed out after 10 minutes", stored.Status.Error.Message)

	require.Eventually(t, func() bool {
		return len(executor.cancelledIDs()) == 1
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, domain.CodeJobTimeout, f.mustJob(t, job.ID).Status.Error.Code)
}

func TestExecutorPanicDoesNotStopWorker(t *testing.T) {
	executor := &fakeExecutor{}
	f := newManagerFixture(t, executor, 5)
	ctx := context.Background()

	first, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	second, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	executor.panicFor = first.ID

	f.manager.Start()
	require.Eventually(t, func() bool {
		return f.status(t, second.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)

	failed := f.mustJob(t, first.ID)
	assert.Equal(t, domain.StatusFailed, failed.Status.Status)
	assert.Equal(t, domain.CodeSystemError, failed.Status.Error.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	f := newManagerFixture(t, nil, 5)
	ctx := context.Background()

	first, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	_, err = f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	_, err = f.manager.CancelJob(ctx, first.ID)
	require.NoError(t, err)

	all, err := f.manager.ListJobs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed := domain.StatusFailed
	filtered, err := f.manager.ListJobs(ctx, &failed)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0]["job_id"])

	status, err := f.manager.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.QueueSize)
	assert.Equal(t, 5, status.MaxActiveJobs)
}

func TestCleanupExpiredJobsRemovesOnlyOldTerminalJobs(t *testing.T) {
	f := newManagerFixture(t, nil, 5)
	ctx := context.Background()
	now := time.Now().UTC()
	f.manager.now = func() time.Time { return now }

	save := func(status domain.StatusValue, completedAgo time.Duration) string {
		job := domain.NewJob("", domain.UploadRef{FileID: "file-1"}, domain.DefaultConversionOptions())
		if status.IsTerminal() {
			job.SetCompleted("/tmp/out.xlsx", "out.xlsx", nil, "")
			completedAt := now.Add(-completedAgo)
			job.CompletedAt = &completedAt
		}
		require.NoError(t, f.repo.Save(ctx, job))
		return job.ID
	}

	expired := save(domain.StatusCompleted, 48*time.Hour)
	recent := save(domain.StatusCompleted, time.Hour)
	pending := save(domain.StatusPending, 0)

	removed, err := f.manager.CleanupExpiredJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{expired}, f.cleaner.removed)

	_, err = f.manager.GetJob(ctx, expired)
	assert.True(t, domain.HasCode(err, domain.CodeJobNotFound))
	for _, id := range []string{recent, pending} {
		_, err = f.manager.GetJob(ctx, id)
		assert.NoError(t, err)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	f := newManagerFixture(t, nil, 5)

	f.manager.Start()
	f.manager.Start()
	assert.True(t, f.manager.Running())

	f.manager.Stop()
	f.manager.Stop()
	assert.False(t, f.manager.Running())

	f.manager.Start()
	job, err := f.manager.CreateJob(context.Background(), "file-1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)
}

func (f *managerFixture) mustJob(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	job, err := f.manager.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestTimeoutRetriedAfterStoreFailure(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	repo := &flakyRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository()}
	f := newManagerFixtureWithDeps(t, executor, queue.NewLocalQueue(5, nil), repo, 5)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.manager.now = clock.Now
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	<-executor.started

	repo.failGet.Store(true)
	clock.Advance(11 * time.Minute)
	time.Sleep(50 * time.Millisecond)

	status, err := f.manager.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveJobsCount)
	assert.Empty(t, executor.cancelledIDs())

	repo.failGet.Store(false)
	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusFailed
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, domain.CodeJobTimeout, f.mustJob(t, job.ID).Status.Error.Code)

	require.Eventually(t, func() bool {
		return len(executor.cancelledIDs()) == 1
	}, eventually, 5*time.Millisecond)
	status, err = f.manager.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ActiveJobsCount)
}

func TestStopLetsRunningJobFinish(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 5)

	job, err := f.manager.CreateJob(context.Background(), "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	require.Equal(t, job.ID, <-executor.started)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(executor.release)
	}()
	f.manager.Stop()

	assert.False(t, f.manager.Running())
	assert.Empty(t, executor.cancelledIDs())
	stored := f.mustJob(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status.Status)
	assert.Nil(t, stored.Status.Error)
}

func TestNotificationsFollowStoreOrder(t *testing.T) {
	executor := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	f := newManagerFixture(t, executor, 5)

	job, err := f.manager.CreateJob(context.Background(), "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	<-executor.started
	close(executor.release)

	require.Eventually(t, func() bool {
		return f.status(t, job.ID) == domain.StatusCompleted
	}, eventually, 5*time.Millisecond)
	assert.Equal(t,
		[]domain.StatusValue{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted},
		f.notifier.statuses(job.ID),
	)
}

func TestLateProgressAfterCancelIsNotBroadcast(t *testing.T) {
	executor := &fakeExecutor{
		started:      make(chan string, 1),
		release:      make(chan struct{}),
		lateProgress: true,
	}
	f := newManagerFixture(t, executor, 5)
	ctx := context.Background()

	job, err := f.manager.CreateJob(ctx, "file-1", nil)
	require.NoError(t, err)
	f.manager.Start()
	<-executor.started

	_, err = f.manager.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(executor.cancelledIDs()) == 1
	}, eventually, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		status, err := f.manager.GetQueueStatus(ctx)
		return err == nil && status.ActiveJobsCount == 0
	}, eventually, 5*time.Millisecond)

	assert.Equal(t,
		[]domain.StatusValue{domain.StatusPending, domain.StatusProcessing, domain.StatusFailed},
		f.notifier.statuses(job.ID),
	)
	stored := f.mustJob(t, job.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status.Status)
	assert.Equal(t, domain.CodeJobCancelled, stored.Status.Error.Code)
}
