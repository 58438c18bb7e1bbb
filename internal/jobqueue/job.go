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

// Package jobqueue 基于 Postgres 的持久任务队列：乐观 claim、租约心跳、退避重试、过期回收
package jobqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// JobTypeCompile 目前唯一的任务类型
const JobTypeCompile = "compile"

// Job 队列中的一条任务
type Job struct {
	ID           string
	BrandID      string
	CompileRunID string
	Type         string
	Status       Status
	Attempts     int
	MaxAttempts  int
	LockedAt     *time.Time
	LockedBy     string
	AvailableAt  time.Time
	Params       json.RawMessage
	LastError    string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// StaleJob 过期回收时捕获的原持有者信息，只用于日志
type StaleJob struct {
	JobID    string
	LockedAt time.Time
	LockedBy string
	Failed   bool
}

// BackoffPolicy 重试退避；attempts 为 claim 后的值，
// base 30s、multiplier 2 时第 1/2/3 次失败分别等 60s/120s/240s
type BackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
}

// Delay 第 attempts 次尝试失败后的等待
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	d := p.Base
	for i := 0; i < attempts; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Queue 任务队列
type Queue interface {
	// Enqueue 新建 PENDING 任务
	Enqueue(ctx context.Context, job *Job) error
	// ClaimNext 乐观抢占一条可执行任务；无可执行任务返回 nil, nil。
	// 选择 + 条件更新 + rows-affected 仲裁，两个并发 worker 恰好一胜
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	// ExtendLock 续约；仅 status=running 且 locked_by=workerID 时生效，返回是否续上
	ExtendLock(ctx context.Context, jobID, workerID string) (bool, error)
	// Complete 标记成功
	Complete(ctx context.Context, jobID string) error
	// Fail 失败：attempts < max 回 PENDING 并退避，否则终态 FAILED
	Fail(ctx context.Context, jobID string, jobErr error) error
	// ReleaseStale 回收 locked_at 超过 threshold 的 RUNNING 任务，
	// 记账同 Fail；返回被回收任务的原持有者信息
	ReleaseStale(ctx context.Context, threshold time.Duration) ([]StaleJob, error)
	// Get 按 id 取任务；无则 nil, nil
	Get(ctx context.Context, jobID string) (*Job, error)
	// GetByCompileRun 按 compile_run_id 取任务；无则 nil, nil
	GetByCompileRun(ctx context.Context, compileRunID string) (*Job, error)
}
