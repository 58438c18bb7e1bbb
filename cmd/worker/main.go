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

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brandbrain/internal/app"
	"brandbrain/internal/app/worker"
	"brandbrain/pkg/config"
)

func main() {
	pollInterval := flag.Duration("poll-interval", 0, "claim 轮询间隔（默认取配置 worker.poll_interval）")
	staleCheckInterval := flag.Duration("stale-check-interval", 0, "过期租约清扫间隔（默认取配置 worker.stale_check_interval）")
	maxJobs := flag.Int("max-jobs", 0, "处理 N 个 job 后退出，0 表示不限")
	once := flag.Bool("once", false, "只做一轮 claim 后退出")
	dryRun := flag.Bool("dry-run", false, "取到 job 后不执行编译，直接标记完成")
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("加载配置failed: %v", err)
	}

	bootstrap, err := app.NewBootstrap(cfg)
	if err != nil {
		log.Fatalf("初始化failed: %v", err)
	}
	defer bootstrap.Close()

	opts := worker.Options{
		PollInterval:       config.ParseDurationOr(cfg.Worker.PollInterval, 2*time.Second),
		StaleCheckInterval: config.ParseDurationOr(cfg.Worker.StaleCheckInterval, time.Minute),
		MaxJobs:            *maxJobs,
		Once:               *once,
		DryRun:             *dryRun,
	}
	if *pollInterval > 0 {
		opts.PollInterval = *pollInterval
	}
	if *staleCheckInterval > 0 {
		opts.StaleCheckInterval = *staleCheckInterval
	}

	application := worker.NewApp(bootstrap, opts)

	// 中断信号触发优雅停机；claim 循环在 Start 内阻塞
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("收到停机信号，等待当前 job 执行完")
		application.Stop()
	}()

	if err := application.Start(); err != nil {
		log.Fatalf("启动 worker failed: %v", err)
	}
	application.Stop()
	fmt.Println("worker 已退出")
}
