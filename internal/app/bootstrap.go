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

// Package app 进程装配：配置 → 日志 → 连接池 → 迁移 → 各域 store
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"brandbrain/internal/brand"
	"brandbrain/internal/bundle"
	"brandbrain/internal/compile"
	"brandbrain/internal/evidence"
	"brandbrain/internal/jobqueue"
	"brandbrain/internal/store"
	"brandbrain/pkg/config"
	"brandbrain/pkg/log"
)

// Bootstrap API 与 Worker 共用的进程级依赖
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger
	Pool   *pgxpool.Pool

	Brands       brand.Store
	Runs         evidence.RunStore
	Items        evidence.ItemStore
	CompileStore compile.Store
	Bundles      bundle.Store
	Queue        jobqueue.Queue
}

// NewBootstrap 建立连接池、跑迁移、装配各域 store；DATABASE_URL 必填
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志failed: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("缺少数据库连接串（DATABASE_URL 或 database.dsn）")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := store.NewPool(ctx, cfg.Database.DSN, cfg.Database.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("连接数据库failed: %w", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("执行迁移failed: %w", err)
	}
	logger.Info("数据库就绪", "pool_size", cfg.Database.PoolSize)

	backoff := jobqueue.BackoffPolicy{
		Base:       cfg.BrandBrain.BackoffBase(),
		Multiplier: cfg.BrandBrain.BackoffMultiplier,
	}
	return &Bootstrap{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Brands:       brand.NewStorePg(pool),
		Runs:         evidence.NewRunStorePg(pool),
		Items:        evidence.NewItemStorePg(pool),
		CompileStore: compile.NewStorePg(pool),
		Bundles:      bundle.NewStorePg(pool),
		Queue:        jobqueue.NewQueuePg(pool, backoff),
	}, nil
}

// Close 释放连接池
func (b *Bootstrap) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}
