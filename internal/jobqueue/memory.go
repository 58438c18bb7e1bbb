package jobqueue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandbrain/pkg/errors"
)

// QueueMem 内存实现：语义与 QueuePg 一致，测试与本地开发用
type QueueMem struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	backoff BackoffPolicy
	now     func() time.Time
}

// NewQueueMem 创建内存 Queue
func NewQueueMem(backoff BackoffPolicy) *QueueMem {
	return &QueueMem{
		jobs:    make(map[string]*Job),
		backoff: backoff,
		now:     time.Now,
	}
}

// SetNow 测试用：替换时钟
func (q *QueueMem) SetNow(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *QueueMem) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Type == "" {
		job.Type = JobTypeCompile
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = q.now()
	}
	if job.Params == nil {
		job.Params = json.RawMessage("{}")
	}
	job.Status = StatusPending
	job.CreatedAt = q.now()
	cp := *job
	q.jobs[job.ID] = &cp
	return nil
}

func (q *QueueMem) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var candidates []*Job
	for _, j := range q.jobs {
		if j.Status == StatusPending && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].AvailableAt.Equal(candidates[j].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[j].AvailableAt)
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	j := candidates[0]
	j.Status = StatusRunning
	t := now
	j.LockedAt = &t
	j.LockedBy = workerID
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (q *QueueMem) ExtendLock(ctx context.Context, jobID, workerID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.Status != StatusRunning || j.LockedBy != workerID {
		return false, nil
	}
	t := q.now()
	j.LockedAt = &t
	return true, nil
}

func (q *QueueMem) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.Status != StatusRunning {
		return errors.Newf(errors.KindConflict, "job %s not running", jobID)
	}
	j.Status = StatusSucceeded
	j.LockedAt = nil
	j.LockedBy = ""
	t := q.now()
	j.FinishedAt = &t
	return nil
}

func (q *QueueMem) Fail(ctx context.Context, jobID string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.Status != StatusRunning {
		return errors.Newf(errors.KindConflict, "job %s not running", jobID)
	}
	q.failLocked(j, jobErr.Error())
	return nil
}

// failLocked 退避记账；调用方持锁
func (q *QueueMem) failLocked(j *Job, msg string) {
	j.LockedAt = nil
	j.LockedBy = ""
	j.LastError = msg
	if j.Attempts < j.MaxAttempts {
		j.Status = StatusPending
		j.AvailableAt = q.now().Add(q.backoff.Delay(j.Attempts))
	} else {
		j.Status = StatusFailed
		t := q.now()
		j.FinishedAt = &t
	}
}

func (q *QueueMem) ReleaseStale(ctx context.Context, threshold time.Duration) ([]StaleJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-threshold)
	var released []StaleJob
	for _, j := range q.jobs {
		if j.Status != StatusRunning || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}
		stale := StaleJob{JobID: j.ID, LockedAt: *j.LockedAt, LockedBy: j.LockedBy}
		q.failLocked(j, "stale lock released")
		stale.Failed = j.Status == StatusFailed
		released = append(released, stale)
	}
	return released, nil
}

func (q *QueueMem) Get(ctx context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (q *QueueMem) GetByCompileRun(ctx context.Context, compileRunID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var latest *Job
	for _, j := range q.jobs {
		if j.CompileRunID != compileRunID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}
