package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
)

func (m *JobManager) runWorker(ctx context.Context) {
	m.logf("job worker started")
	defer m.logf("job worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		message, ok, err := m.queue.Dequeue(ctx, m.cfg.PollInterval)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			m.logf("job worker dequeue error: %v", err)
		case ok:
			m.processMessage(ctx, message)
		}

		m.checkJobTimeouts(context.WithoutCancel(ctx))
		m.recordGauges(context.WithoutCancel(ctx))

		if !sleepContext(ctx, m.cfg.IdleDelay) {
			return
		}
	}
}

// processMessage runs one job to completion. The executor runs on its own
// goroutine so timeouts keep being enforced while it works. The job context
// is detached from ctx: stopping the worker lets the running job finish,
// only cancel and timeout interrupt it.
func (m *JobManager) processMessage(ctx context.Context, message domain.QueueMessage) {
	storeCtx := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, startedAt, ok := m.beginJob(storeCtx, message, cancel)
	if !ok {
		return
	}
	m.logf("job processing job_id=%s waited=%s", job.ID, startedAt.Sub(message.EnqueuedAt))

	done := make(chan bool, 1)
	go func() {
		done <- m.runExecutor(jobCtx, storeCtx, job)
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var succeeded bool
wait:
	for {
		select {
		case succeeded = <-done:
			break wait
		case <-ticker.C:
			m.checkJobTimeouts(storeCtx)
		}
	}

	m.finishJob(storeCtx, job, succeeded, startedAt)
}

// beginJob loads the job and registers it as active. Jobs that became
// terminal while queued are skipped.
func (m *JobManager) beginJob(
	ctx context.Context,
	message domain.QueueMessage,
	cancel context.CancelFunc,
) (*domain.Job, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.Get(ctx, message.JobID)
	if err != nil {
		m.logf("job worker skip job_id=%s err=%v", message.JobID, err)
		return nil, time.Time{}, false
	}
	if job.IsComplete() {
		m.logf("job worker skip job_id=%s status=%s", job.ID, job.Status.Status)
		return nil, time.Time{}, false
	}

	startedAt := m.now()
	m.activeJobs[job.ID] = &activeJob{cancel: cancel}
	m.startTimes[job.ID] = startedAt
	m.metrics.SetActiveJobs(len(m.activeJobs))
	return job, startedAt, true
}

func (m *JobManager) runExecutor(ctx, storeCtx context.Context, job *domain.Job) (succeeded bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logf("job executor panic job_id=%s panic=%v", job.ID, recovered)
			job.SetError(domain.NewSystemError(
				"Unexpected error while processing job",
				fmt.Errorf("panic: %v", recovered),
			), "")
			succeeded = false
		}
	}()

	return m.executor.Process(ctx, job, func(snapshot *domain.Job) {
		m.reportProgress(storeCtx, snapshot)
	})
}

// reportProgress persists an intermediate state while the job is still
// tracked. Updates arriving after cancel or timeout are dropped. Notifying
// under m.mu keeps broadcasts in the same order as store writes.
func (m *JobManager) reportProgress(ctx context.Context, snapshot *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.activeJobs[snapshot.ID]; !active {
		return
	}
	if err := m.repo.Update(ctx, snapshot); err != nil {
		m.logf("job progress update failed job_id=%s err=%v", snapshot.ID, err)
		return
	}
	m.notify(snapshot)
}

// finishJob persists the executor's outcome unless a cancel or timeout
// already settled the job.
func (m *JobManager) finishJob(ctx context.Context, job *domain.Job, succeeded bool, startedAt time.Time) {
	m.mu.Lock()
	if _, active := m.activeJobs[job.ID]; !active {
		m.mu.Unlock()
		m.logf("job result discarded job_id=%s status=%s", job.ID, job.Status.Status)
		return
	}
	delete(m.activeJobs, job.ID)
	delete(m.startTimes, job.ID)

	if !job.IsComplete() {
		job.SetError(domain.NewSystemError("Job finished without a result", nil), "")
	}
	err := m.repo.Update(ctx, job)
	if err == nil {
		m.notify(job)
	}
	activeCount := len(m.activeJobs)
	m.mu.Unlock()

	m.metrics.SetActiveJobs(activeCount)
	if err != nil {
		m.logf("job final update failed job_id=%s err=%v", job.ID, err)
		return
	}

	duration := m.now().Sub(startedAt)
	m.metrics.JobFinished(job.Status.Status, duration)
	m.logf(
		"job finished job_id=%s status=%s succeeded=%t duration=%s",
		job.ID, job.Status.Status, succeeded, duration,
	)
}

// checkJobTimeouts fails every active job that has run longer than the
// configured timeout. One failing job never stops the sweep.
func (m *JobManager) checkJobTimeouts(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	var expired []*domain.Job
	for jobID, startedAt := range m.startTimes {
		if now.Sub(startedAt) <= m.cfg.JobTimeout {
			continue
		}
		job, err := m.expireJob(ctx, jobID)
		if err != nil {
			m.logf("job timeout update failed job_id=%s err=%v", jobID, err)
			continue
		}
		if job != nil {
			m.notify(job)
			expired = append(expired, job)
		}
	}
	activeCount := len(m.activeJobs)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	m.metrics.SetActiveJobs(activeCount)
	for _, job := range expired {
		m.metrics.JobTimedOut()
		m.logf("job timed out job_id=%s timeout=%s", job.ID, m.cfg.JobTimeout)
	}
}

// expireJob must be called with m.mu held. The job stays tracked until the
// timeout is persisted, so a failed store call is retried on the next sweep.
func (m *JobManager) expireJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := m.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.SetError(domain.NewTimeoutError(jobID, m.timeoutMinutes()), "") {
		m.untrack(jobID)
		return nil, nil
	}
	if err := m.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	m.untrack(jobID)
	return job, nil
}

// untrack must be called with m.mu held.
func (m *JobManager) untrack(jobID string) {
	if entry, ok := m.activeJobs[jobID]; ok {
		entry.cancel()
		delete(m.activeJobs, jobID)
	}
	delete(m.startTimes, jobID)
}

func (m *JobManager) timeoutMinutes() int {
	minutes := int(m.cfg.JobTimeout / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (m *JobManager) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupExpiredJobs(ctx); err != nil && ctx.Err() == nil {
				m.logf("job cleanup failed: %v", err)
			}
		}
	}
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
