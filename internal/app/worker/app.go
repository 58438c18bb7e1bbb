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

// Package worker Worker 进程装配：claim 循环 + 心跳续约 + 过期租约清扫
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandbrain/internal/apify"
	"brandbrain/internal/app"
	"brandbrain/internal/bundle"
	"brandbrain/internal/compile"
	"brandbrain/internal/freshness"
	"brandbrain/internal/ingest"
	"brandbrain/internal/jobqueue"
	"brandbrain/internal/normalize"
	"brandbrain/pkg/config"
	"brandbrain/pkg/log"
	"brandbrain/pkg/metrics"
)

// Options 命令行可调的运行参数
type Options struct {
	PollInterval       time.Duration // Claim 空转时的轮询间隔
	StaleCheckInterval time.Duration // 过期租约清扫间隔
	MaxJobs            int           // 处理完 N 个 job 后退出；0 表示不限
	Once               bool          // 只做一轮 claim（取到则执行完该 job）后退出
	DryRun             bool          // 取到 job 后只记日志并 Complete，不执行编译
}

// App Worker 应用。每个 job 执行期间由 Heartbeat 续约租约，
// 崩溃的 worker 留下的 RUNNING job 由清扫协程按阈值回收
type App struct {
	bootstrap *app.Bootstrap
	opts      Options
	workerID  string
	runner    *compile.Runner
	queue     jobqueue.Queue
	logger    *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// DefaultWorkerID 主机名 + pid + 随机后缀，多实例部署下可区分持有者
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// NewApp 装配 Worker：actor 客户端 → 归一化 → 采集 → 打包 → Runner
func NewApp(b *app.Bootstrap, opts Options) *App {
	cfg := b.Config
	bb := cfg.BrandBrain
	flags := apify.Flags{EnableLinkedinProfilePosts: bb.EnableLinkedinProfilePosts}

	client := apify.NewHTTPClient(cfg.Apify.Token, cfg.Apify.BaseURL)
	client.SetRequestTimeout(config.ParseDurationOr(cfg.Apify.RequestTimeout, 30*time.Second))
	client.SetRateLimit(cfg.Apify.RequestsPerSec)

	registry := normalize.NewRegistry(flags)
	normalizer := normalize.NewNormalizer(b.Runs, b.Items, registry, b.Logger)
	ingester := ingest.NewIngester(
		client, b.Runs, normalizer, flags,
		config.ParseDurationOr(cfg.Apify.PollTimeout, 10*time.Minute),
		config.ParseDurationOr(cfg.Apify.PollInterval, 5*time.Second),
		b.Logger)

	bundleCfg := bundle.DefaultConfig()
	if bb.GlobalMaxItems > 0 {
		bundleCfg.GlobalCap = bb.GlobalMaxItems
	}
	bundler := bundle.NewBundler(b.Items, bundleCfg)

	checker := freshness.NewChecker(b.Runs, bb.ActorTTL())
	runner := compile.NewRunner(
		b.Brands, b.CompileStore, checker, ingester, normalizer,
		bundler, b.Bundles, bundleCfg, flags, b.Logger)

	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StaleCheckInterval <= 0 {
		opts.StaleCheckInterval = time.Minute
	}
	workerID := DefaultWorkerID()
	return &App{
		bootstrap: b,
		opts:      opts,
		workerID:  workerID,
		runner:    runner,
		queue:     b.Queue,
		logger:    b.Logger.With("worker_id", workerID),
		stopCh:    make(chan struct{}),
	}
}

// WorkerID 当前实例持有者标识
func (a *App) WorkerID() string { return a.workerID }

// Start 启动 claim 循环与清扫协程；阻塞到 Stop 或退出条件（--once / --max-jobs）
func (a *App) Start() error {
	a.logger.Info("worker 启动",
		"poll_interval", a.opts.PollInterval.String(),
		"stale_check_interval", a.opts.StaleCheckInterval.String(),
		"dry_run", a.opts.DryRun)

	if !a.opts.Once {
		a.wg.Add(1)
		go a.staleSweepLoop()
	}
	a.claimLoop()
	return nil
}

// Stop 停止循环并等待当前 job 执行完
func (a *App) Stop() {
	a.once.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// claimLoop 抢占-执行循环。空转 sleep 一个轮询间隔；
// 取到 job 则同步执行完再抢下一个，一个实例同一时刻只跑一个 job
func (a *App) claimLoop() {
	processed := 0
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		job, err := a.queue.ClaimNext(context.Background(), a.workerID)
		if err != nil {
			a.logger.Error("claim failed", "error", err)
		} else if job != nil {
			a.handleJob(job)
			processed++
		}

		if a.opts.Once {
			return
		}
		if a.opts.MaxJobs > 0 && processed >= a.opts.MaxJobs {
			a.logger.Info("达到 max-jobs 上限，退出", "processed", processed)
			return
		}
		if err == nil && job != nil {
			continue // 队列非空时不等轮询间隔
		}
		select {
		case <-a.stopCh:
			return
		case <-time.After(a.opts.PollInterval):
		}
	}
}

// handleJob 执行单个 job：心跳续约贯穿执行全程，结束后 Complete / Fail 记账
func (a *App) handleJob(job *jobqueue.Job) {
	logger := a.logger.With("job_id", job.ID, "brand_id", job.BrandID, "compile_run_id", job.CompileRunID)
	logger.Info("开始执行 job", "attempts", job.Attempts, "max_attempts", job.MaxAttempts)

	metrics.WorkerBusy.WithLabelValues(a.workerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(a.workerID).Dec()

	ctx := context.Background()
	hb := jobqueue.NewHeartbeat(a.queue, job.ID, a.workerID, a.bootstrap.Config.BrandBrain.HeartbeatInterval(), a.logger)
	hb.Start(ctx)
	defer hb.Stop()

	start := time.Now()
	if a.opts.DryRun {
		logger.Info("dry-run：跳过编译，直接完成")
		if err := a.queue.Complete(ctx, job.ID); err != nil {
			logger.Error("complete failed", "error", err)
		}
		return
	}

	execErr := a.runner.Execute(ctx, job)
	elapsed := time.Since(start)
	if execErr != nil {
		metrics.JobDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		logger.Error("job 执行 failed", "error", execErr, "elapsed", elapsed.String())
		if err := a.queue.Fail(ctx, job.ID, execErr); err != nil {
			logger.Error("记录 job 失败时出错", "error", err)
		}
		return
	}
	metrics.JobDuration.WithLabelValues("succeeded").Observe(elapsed.Seconds())
	if err := a.queue.Complete(ctx, job.ID); err != nil {
		logger.Error("complete failed", "error", err)
		return
	}
	logger.Info("job 执行成功", "elapsed", elapsed.String())
}

// staleSweepLoop 周期回收超过租约阈值的 RUNNING job
func (a *App) staleSweepLoop() {
	defer a.wg.Done()
	threshold := a.bootstrap.Config.BrandBrain.StaleLockThreshold()
	ticker := time.NewTicker(a.opts.StaleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			released, err := a.queue.ReleaseStale(context.Background(), threshold)
			if err != nil {
				a.logger.Error("回收过期租约failed", "error", err)
				continue
			}
			for _, s := range released {
				a.logger.Warn("回收过期租约",
					"job_id", s.JobID, "locked_by", s.LockedBy,
					"locked_at", s.LockedAt.Format(time.RFC3339), "failed", s.Failed)
			}
		}
	}
}
