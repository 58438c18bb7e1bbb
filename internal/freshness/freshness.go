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

// Package freshness 新鲜度判定与 input hash：决定每个 source 是复用缓存 run 还是重新抓取，
// 并对 compile 的全部输入做稳定哈希以支持 no-op 短路
package freshness

import (
	"context"
	"time"

	"brandbrain/internal/brand"
	"brandbrain/internal/evidence"
)

// Reason check-freshness 的判定原因（闭集，进 evidence_status）
const (
	ReasonForced   = "forced"
	ReasonNoRun    = "no_previous_run"
	ReasonStale    = "stale"
	ReasonFresh    = "fresh"
	ReasonDisabled = "capability_disabled"
)

// Decision 单个 source 的新鲜度判定结果
type Decision struct {
	ShouldRefresh bool
	CachedRun     *evidence.ActorRun
	Reason        string
	AgeHours      float64
}

// Checker 按 TTL 判定 source 是否需要重新抓取
type Checker struct {
	runs evidence.RunStore
	ttl  time.Duration
	now  func() time.Time
}

// NewChecker 创建 Checker；ttl 为 run 的有效期
func NewChecker(runs evidence.RunStore, ttl time.Duration) *Checker {
	return &Checker{runs: runs, ttl: ttl, now: time.Now}
}

// Check 单 source 判定：force 直接 refresh；无 SUCCEEDED run 则 refresh；
// 超过 TTL 则 refresh 并带上过期 run；否则 reuse
func (c *Checker) Check(ctx context.Context, sc *brand.SourceConnection, force bool) (*Decision, error) {
	if force {
		return &Decision{ShouldRefresh: true, Reason: ReasonForced}, nil
	}
	run, err := c.runs.LatestSucceeded(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return &Decision{ShouldRefresh: true, Reason: ReasonNoRun}, nil
	}
	age := c.now().Sub(run.StartedAt)
	d := &Decision{CachedRun: run, AgeHours: age.Hours()}
	if age > c.ttl {
		d.ShouldRefresh = true
		d.Reason = ReasonStale
	} else {
		d.Reason = ReasonFresh
	}
	return d, nil
}

// AnyStale 任一 enabled source 需要 refresh 即 true（force=false 语义下的判定）
func (c *Checker) AnyStale(ctx context.Context, sources []*brand.SourceConnection) (bool, error) {
	for _, sc := range sources {
		d, err := c.Check(ctx, sc, false)
		if err != nil {
			return false, err
		}
		if d.ShouldRefresh {
			return true, nil
		}
	}
	return false, nil
}
