// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobqueue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandbrain/pkg/errors"
	"brandbrain/pkg/metrics"
)

// QueuePg Postgres 实现
type QueuePg struct {
	pool    *pgxpool.Pool
	backoff BackoffPolicy
}

// NewQueuePg 创建基于 PostgreSQL 的 Queue
func NewQueuePg(pool *pgxpool.Pool, backoff BackoffPolicy) *QueuePg {
	return &QueuePg{pool: pool, backoff: backoff}
}

const jobColumns = `id, brand_id, compile_run_id, job_type, status, attempts, max_attempts, locked_at, locked_by, available_at, params, last_error, created_at, finished_at`

func (q *QueuePg) Enqueue(ctx context.Context, job *Job) error {
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
		job.AvailableAt = time.Now()
	}
	params := job.Params
	if params == nil {
		params = []byte("{}")
	}
	job.Status = StatusPending
	_, err := q.pool.Exec(ctx,
		`INSERT INTO jobs (id, brand_id, compile_run_id, job_type, status, max_attempts, available_at, params)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)`,
		job.ID, job.BrandID, job.CompileRunID, job.Type, job.MaxAttempts, job.AvailableAt, []byte(params))
	return err
}

// ClaimNext 先选候选再条件更新；rows-affected=1 即抢到。
// 输掉竞争按无任务处理，下一轮 poll 再来
func (q *QueuePg) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	var id string
	err := q.pool.QueryRow(ctx,
		`SELECT id FROM jobs
		 WHERE status = 'pending' AND available_at <= now()
		 ORDER BY available_at, created_at
		 LIMIT 1`).Scan(&id)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			metrics.JobClaimTotal.WithLabelValues("empty").Inc()
			return nil, nil
		}
		return nil, err
	}
	tag, err := q.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'running', locked_at = now(), locked_by = $2, attempts = attempts + 1
		 WHERE id = $1 AND status = 'pending'`,
		id, workerID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		metrics.JobClaimTotal.WithLabelValues("lost_race").Inc()
		return nil, nil
	}
	metrics.JobClaimTotal.WithLabelValues("claimed").Inc()
	return q.Get(ctx, id)
}

func (q *QueuePg) ExtendLock(ctx context.Context, jobID, workerID string) (bool, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE jobs SET locked_at = now()
		 WHERE id = $1 AND status = 'running' AND locked_by = $2`,
		jobID, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *QueuePg) Complete(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'succeeded', locked_at = NULL, locked_by = NULL, finished_at = now()
		 WHERE id = $1 AND status = 'running'`,
		jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.Newf(errors.KindConflict, "job %s not running", jobID)
	}
	metrics.JobTotal.WithLabelValues("succeeded").Inc()
	return nil
}

func (q *QueuePg) Fail(ctx context.Context, jobID string, jobErr error) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = $1 AND status = 'running' FOR UPDATE`,
		jobID).Scan(&attempts, &maxAttempts)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return errors.Newf(errors.KindConflict, "job %s not running", jobID)
		}
		return err
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if attempts < maxAttempts {
		delay := q.backoff.Delay(attempts)
		_, err = tx.Exec(ctx,
			`UPDATE jobs
			 SET status = 'pending', locked_at = NULL, locked_by = NULL,
			     available_at = now() + make_interval(secs => $2), last_error = $3
			 WHERE id = $1`,
			jobID, delay.Seconds(), msg)
		metrics.JobTotal.WithLabelValues("retried").Inc()
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE jobs
			 SET status = 'failed', locked_at = NULL, locked_by = NULL,
			     finished_at = now(), last_error = $2
			 WHERE id = $1`,
			jobID, msg)
		metrics.JobTotal.WithLabelValues("failed").Inc()
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (q *QueuePg) ReleaseStale(ctx context.Context, threshold time.Duration) ([]StaleJob, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := q.pool.Query(ctx,
		`SELECT id, locked_at, locked_by, attempts, max_attempts
		 FROM jobs WHERE status = 'running' AND locked_at < $1`,
		cutoff)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		id          string
		lockedAt    time.Time
		lockedBy    string
		attempts    int
		maxAttempts int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var lockedBy *string
		if err := rows.Scan(&c.id, &c.lockedAt, &lockedBy, &c.attempts, &c.maxAttempts); err != nil {
			rows.Close()
			return nil, err
		}
		if lockedBy != nil {
			c.lockedBy = *lockedBy
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var released []StaleJob
	for _, c := range candidates {
		// 条件里重复 locked_at < cutoff：候选选出后若心跳续上了租约则放过
		var ct pgconn.CommandTag
		var execErr error
		toFailed := c.attempts >= c.maxAttempts
		if toFailed {
			ct, execErr = q.pool.Exec(ctx,
				`UPDATE jobs
				 SET status = 'failed', locked_at = NULL, locked_by = NULL,
				     finished_at = now(), last_error = 'stale lock released'
				 WHERE id = $1 AND status = 'running' AND locked_at < $2`,
				c.id, cutoff)
		} else {
			ct, execErr = q.pool.Exec(ctx,
				`UPDATE jobs
				 SET status = 'pending', locked_at = NULL, locked_by = NULL,
				     available_at = now() + make_interval(secs => $3), last_error = 'stale lock released'
				 WHERE id = $1 AND status = 'running' AND locked_at < $2`,
				c.id, cutoff, q.backoff.Delay(c.attempts).Seconds())
		}
		if execErr != nil {
			return released, execErr
		}
		if ct.RowsAffected() != 1 {
			continue
		}
		metrics.JobStaleReleasedTotal.Inc()
		released = append(released, StaleJob{
			JobID:    c.id,
			LockedAt: c.lockedAt,
			LockedBy: c.lockedBy,
			Failed:   toFailed,
		})
	}
	return released, nil
}

func (q *QueuePg) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (q *QueuePg) GetByCompileRun(ctx context.Context, compileRunID string) (*Job, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE compile_run_id = $1 ORDER BY created_at DESC LIMIT 1`,
		compileRunID)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	var lockedBy, lastError *string
	var params []byte
	err := row.Scan(&j.ID, &j.BrandID, &j.CompileRunID, &j.Type, &status, &j.Attempts, &j.MaxAttempts,
		&j.LockedAt, &lockedBy, &j.AvailableAt, &params, &lastError, &j.CreatedAt, &j.FinishedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	j.Status = Status(status)
	j.Params = params
	if lockedBy != nil {
		j.LockedBy = *lockedBy
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}
