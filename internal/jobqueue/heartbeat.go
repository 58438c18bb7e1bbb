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
	"sync"
	"time"

	"brandbrain/pkg/log"
)

// Heartbeat 单个 job 执行期间的租约续期；interval 必须远小于 stale 阈值。
// 续期失败（任务被回收或易主）只告警不打断执行——以队列状态为准的最终仲裁在 Complete/Fail
type Heartbeat struct {
	queue    Queue
	jobID    string
	workerID string
	interval time.Duration
	logger   *log.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewHeartbeat 创建心跳；Start 后必须 Stop
func NewHeartbeat(queue Queue, jobID, workerID string, interval time.Duration, logger *log.Logger) *Heartbeat {
	return &Heartbeat{
		queue:    queue,
		jobID:    jobID,
		workerID: workerID,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动后台续期
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := h.queue.ExtendLock(ctx, h.jobID, h.workerID)
				if err != nil {
					h.logger.Warn("心跳续约failed", "job_id", h.jobID, "error", err)
					continue
				}
				if !ok {
					h.logger.Warn("心跳未续上，任务可能已被回收", "job_id", h.jobID, "worker_id", h.workerID)
				}
			}
		}
	}()
}

// Stop 停止并等待后台 goroutine 退出；可重复调用
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}
