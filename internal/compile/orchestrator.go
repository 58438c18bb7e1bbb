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

package compile

import (
	"context"
	"encoding/json"
	"strings"

	"brandbrain/internal/brand"
	"brandbrain/internal/freshness"
	"brandbrain/internal/jobqueue"
	"brandbrain/pkg/errors"
	"brandbrain/pkg/log"
	"brandbrain/pkg/metrics"
)

// KickoffResult compile kickoff 的三种出口之一：入队 / 短路 UNCHANGED
// （gating failed 走 error 的 GatingFailure）
type KickoffResult struct {
	CompileRunID string
	Status       string // "PENDING" 或 "UNCHANGED"
	Snapshot     *Snapshot
}

// Orchestrator kickoff 路径：gating、短路判定、CompileRun 入队。
// 这条路径在请求线程上执行，只做 O(1) 次 DB 调用，绝不触达 actor
type Orchestrator struct {
	brands        brand.Store
	store         Store
	checker       *freshness.Checker
	queue         jobqueue.Queue
	promptVersion string
	model         string
	maxAttempts   int
	logger        *log.Logger
}

// NewOrchestrator 创建 Orchestrator
func NewOrchestrator(brands brand.Store, store Store, checker *freshness.Checker, queue jobqueue.Queue, promptVersion, model string, maxAttempts int, logger *log.Logger) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Orchestrator{
		brands:        brands,
		store:         store,
		checker:       checker,
		queue:         queue,
		promptVersion: promptVersion,
		model:         model,
		maxAttempts:   maxAttempts,
		logger:        logger,
	}
}

// Kickoff 发起一次编译。gating 不过不建任何行；
// force=false 且输入未变、无过期 source 时短路返回上一快照
func (o *Orchestrator) Kickoff(ctx context.Context, brandID string, force bool) (*KickoffResult, error) {
	b, err := o.brands.GetBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		metrics.CompileKickoffTotal.WithLabelValues("not_found").Inc()
		return nil, errors.Newf(errors.KindNotFound, "brand %s not found", brandID)
	}

	onboarding, err := o.brands.GetOnboarding(ctx, brandID)
	if err != nil {
		return nil, err
	}
	sources, err := o.brands.ListEnabledSources(ctx, brandID)
	if err != nil {
		return nil, err
	}
	if gatingErrs := gate(onboarding, sources); len(gatingErrs) > 0 {
		metrics.CompileKickoffTotal.WithLabelValues("gating_failed").Inc()
		return nil, &errors.GatingFailure{Errors: gatingErrs}
	}

	overrides, err := o.brands.GetOverrides(ctx, brandID)
	if err != nil {
		return nil, err
	}
	hash, err := o.inputHash(onboarding, overrides, sources)
	if err != nil {
		return nil, err
	}

	if !force {
		result, err := o.tryShortCircuit(ctx, brandID, sources, hash)
		if err != nil {
			return nil, err
		}
		if result != nil {
			metrics.CompileKickoffTotal.WithLabelValues("unchanged").Inc()
			return result, nil
		}
	}

	answers := map[string]string{}
	if onboarding != nil {
		answers = onboarding.Answers
	}
	onboardingJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	run := &CompileRun{
		BrandID:            brandID,
		PromptVersion:      o.promptVersion,
		Model:              o.model,
		InputHash:          hash,
		OnboardingSnapshot: onboardingJSON,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	params, _ := json.Marshal(map[string]any{"force_refresh": force})
	job := &jobqueue.Job{
		BrandID:      brandID,
		CompileRunID: run.ID,
		Type:         jobqueue.JobTypeCompile,
		MaxAttempts:  o.maxAttempts,
		Params:       params,
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("compile 入队", "brand_id", brandID, "compile_run_id", run.ID, "job_id", job.ID, "force_refresh", force)
	metrics.CompileKickoffTotal.WithLabelValues("enqueued").Inc()
	return &KickoffResult{CompileRunID: run.ID, Status: string(RunPending)}, nil
}

// tryShortCircuit 三个条件全部成立才短路：无过期 source、
// 上一 CompileRun 的 (prompt_version, model) 与当前一致、input hash 相等
func (o *Orchestrator) tryShortCircuit(ctx context.Context, brandID string, sources []*brand.SourceConnection, hash string) (*KickoffResult, error) {
	snap, err := o.store.LatestSnapshot(ctx, brandID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	prior, err := o.store.GetRun(ctx, brandID, snap.CompileRunID)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.PromptVersion != o.promptVersion || prior.Model != o.model || prior.InputHash != hash {
		return nil, nil
	}
	stale, err := o.checker.AnyStale(ctx, sources)
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, nil
	}
	return &KickoffResult{CompileRunID: prior.ID, Status: "UNCHANGED", Snapshot: snap}, nil
}

func (o *Orchestrator) inputHash(onboarding *brand.Onboarding, overrides *brand.Overrides, sources []*brand.SourceConnection) (string, error) {
	in := freshness.HashInputs{
		Sources:       sources,
		PromptVersion: o.promptVersion,
		Model:         o.model,
	}
	if onboarding != nil {
		in.Answers = onboarding.Answers
	}
	if overrides != nil {
		in.Overrides = overrides.Overrides
		in.PinnedPaths = overrides.PinnedPaths
	}
	return freshness.ComputeInputHash(in)
}

// gate tier-0 答案齐全且至少一个 enabled source；错误码稳定，错误顺序确定
func gate(onboarding *brand.Onboarding, sources []*brand.SourceConnection) []errors.GatingError {
	var out []errors.GatingError
	if onboarding == nil {
		out = append(out, errors.GatingError{
			Code:    CodeMissingOnboarding,
			Message: "onboarding has not been completed",
		})
	} else {
		for _, q := range brand.Tier0RequiredAnswers {
			if strings.TrimSpace(onboarding.Answers[q]) == "" {
				out = append(out, errors.GatingError{
					Code:    CodeMissingTier0Answer,
					Message: "missing required onboarding answer: " + q,
				})
			}
		}
	}
	if len(sources) == 0 {
		out = append(out, errors.GatingError{
			Code:    CodeNoEnabledSources,
			Message: "no enabled source connections",
		})
	}
	return out
}
