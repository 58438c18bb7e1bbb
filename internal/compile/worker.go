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
	"time"

	"brandbrain/internal/apify"
	"brandbrain/internal/brand"
	"brandbrain/internal/bundle"
	"brandbrain/internal/freshness"
	"brandbrain/internal/ingest"
	"brandbrain/internal/jobqueue"
	"brandbrain/internal/normalize"
	"brandbrain/pkg/errors"
	"brandbrain/pkg/log"
	"brandbrain/pkg/metrics"
)

// Runner compile job 的执行体。单 source 的失败只进 evidence_status.failed，
// 不终止整次编译；bundler / 快照 / 存储层失败才把 CompileRun 打成 FAILED
type Runner struct {
	brands     brand.Store
	store      Store
	checker    *freshness.Checker
	ingester   *ingest.Ingester
	normalizer *normalize.Normalizer
	bundler    *bundle.Bundler
	bundles    bundle.Store
	bundleCfg  bundle.Config
	flags      apify.Flags
	logger     *log.Logger
}

// NewRunner 创建 Runner
func NewRunner(brands brand.Store, store Store, checker *freshness.Checker, ingester *ingest.Ingester, normalizer *normalize.Normalizer, bundler *bundle.Bundler, bundles bundle.Store, bundleCfg bundle.Config, flags apify.Flags, logger *log.Logger) *Runner {
	return &Runner{
		brands:     brands,
		store:      store,
		checker:    checker,
		ingester:   ingester,
		normalizer: normalizer,
		bundler:    bundler,
		bundles:    bundles,
		bundleCfg:  bundleCfg,
		flags:      flags,
		logger:     logger,
	}
}

type jobParams struct {
	ForceRefresh bool `json:"force_refresh"`
}

// Execute 执行一个 compile job：RUNNING → 按稳定 source 顺序逐个处理 →
// bundler → draft/QA → 快照 → SUCCEEDED。返回 error 表示 job 失败，
// 重试由队列负责；CompileRun 此时已是 FAILED 终态
func (r *Runner) Execute(ctx context.Context, job *jobqueue.Job) error {
	start := time.Now()
	logger := r.logger.With("brand_id", job.BrandID, "compile_run_id", job.CompileRunID, "job_id", job.ID)

	run, err := r.store.GetRun(ctx, job.BrandID, job.CompileRunID)
	if err != nil {
		return err
	}
	if run == nil {
		return errors.Newf(errors.KindPermanent, "compile run %s not found for brand %s", job.CompileRunID, job.BrandID)
	}
	switch run.Status {
	case RunPending:
		if err := r.store.MarkRunning(ctx, run.ID); err != nil {
			return err
		}
	case RunRunning:
		// 过期回收后的重试会遇到已是 RUNNING 的 run，直接续做
	default:
		return errors.Newf(errors.KindPermanent, "compile run %s already terminal (%s)", run.ID, run.Status)
	}

	var params jobParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			logger.Warn("job params 解析 failed，按非 force 处理", "error", err)
		}
	}

	sources, err := r.brands.ListEnabledSources(ctx, job.BrandID)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, nil)
	}

	es := NewEvidenceStatus()
	for _, sc := range sources {
		r.processSource(ctx, sc, params.ForceRefresh, es, logger)
	}
	esJSON, err := json.Marshal(es)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, nil)
	}

	platforms := enabledPlatforms(sources)
	out, err := r.bundler.Build(ctx, job.BrandID, platforms)
	if err != nil {
		return r.fail(ctx, run.ID, start, errors.Wrap(err, "build evidence bundle"), esJSON)
	}
	criteria, err := json.Marshal(r.bundleCfg)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}
	summaryJSON, err := json.Marshal(out.Summary)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}
	bdl := &bundle.Bundle{
		BrandID:  job.BrandID,
		Criteria: criteria,
		ItemIDs:  out.ItemIDs,
		Summary:  summaryJSON,
	}
	if err := r.bundles.Create(ctx, bdl); err != nil {
		return r.fail(ctx, run.ID, start, errors.Wrap(err, "persist evidence bundle"), esJSON)
	}

	var answers map[string]string
	if len(run.OnboardingSnapshot) > 0 {
		if err := json.Unmarshal(run.OnboardingSnapshot, &answers); err != nil {
			return r.fail(ctx, run.ID, start, errors.Wrap(err, "decode onboarding snapshot"), esJSON)
		}
	}
	overrides, err := r.brands.GetOverrides(ctx, job.BrandID)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}
	draft, qaReport, err := BuildDraft(answers, overrides, out.Summary)
	if err != nil {
		return r.fail(ctx, run.ID, start, errors.Wrap(err, "build draft"), esJSON)
	}

	snapshotDoc, err := json.Marshal(map[string]any{
		"brand_id":   job.BrandID,
		"draft":      json.RawMessage(draft),
		"bundle":     map[string]any{"id": bdl.ID, "summary": json.RawMessage(summaryJSON)},
		"prompt":     map[string]string{"prompt_version": run.PromptVersion, "model": run.Model},
		"input_hash": run.InputHash,
	})
	if err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}
	prev, err := r.store.LatestSnapshot(ctx, job.BrandID)
	if err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}
	var prevDoc json.RawMessage
	if prev != nil {
		prevDoc = prev.Snapshot
	}
	diff, err := ShallowDiff(prevDoc, snapshotDoc)
	if err != nil {
		return r.fail(ctx, run.ID, start, errors.Wrap(err, "diff snapshot"), esJSON)
	}
	snap := &Snapshot{
		BrandID:      job.BrandID,
		CompileRunID: run.ID,
		Snapshot:     snapshotDoc,
		Diff:         diff,
	}
	if err := r.store.CreateSnapshot(ctx, snap); err != nil {
		return r.fail(ctx, run.ID, start, errors.Wrap(err, "persist snapshot"), esJSON)
	}
	if err := r.store.MarkSucceeded(ctx, run.ID, bdl.ID, esJSON, draft, qaReport); err != nil {
		return r.fail(ctx, run.ID, start, err, esJSON)
	}

	metrics.CompileDuration.WithLabelValues("succeeded").Observe(time.Since(start).Seconds())
	logger.Info("compile 完成",
		"snapshot_id", snap.ID,
		"bundle_id", bdl.ID,
		"reused", len(es.Reused),
		"refreshed", len(es.Refreshed),
		"skipped", len(es.Skipped),
		"failed", len(es.Failed),
		"duration", time.Since(start))
	return nil
}

// processSource 单 source 的 skip / reuse / refresh，记账进 es
func (r *Runner) processSource(ctx context.Context, sc *brand.SourceConnection, force bool, es *EvidenceStatus, logger *log.Logger) {
	source := sc.Key()

	if !apify.IsCapabilityEnabled(sc.Platform, sc.Capability, r.flags) {
		es.Skipped = append(es.Skipped, SourceSkipped{Source: source, Reason: freshness.ReasonDisabled})
		metrics.IngestTotal.WithLabelValues(sc.Platform, "skipped").Inc()
		return
	}

	decision, err := r.checker.Check(ctx, sc, force)
	if err != nil {
		es.Failed = append(es.Failed, SourceFailed{Source: source, Reason: "freshness_check", Error: err.Error()})
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return
	}

	if decision.ShouldRefresh {
		res := r.ingester.IngestSource(ctx, sc)
		if res.Skipped {
			es.Skipped = append(es.Skipped, SourceSkipped{Source: source, Reason: freshness.ReasonDisabled})
			return
		}
		if !res.Success {
			es.Failed = append(es.Failed, SourceFailed{
				Source:         source,
				Reason:         decision.Reason,
				Error:          res.Error,
				ApifyRunID:     res.ApifyRunID,
				ApifyRunStatus: res.ApifyRunStatus,
			})
			return
		}
		es.Refreshed = append(es.Refreshed, SourceRefreshed{
			Source:            source,
			Reason:            decision.Reason,
			ApifyRunID:        res.ApifyRunID,
			ApifyRunStatus:    res.ApifyRunStatus,
			RawItemsCount:     res.RawItemsCount,
			NormalizedCreated: res.NormalizedCreated,
			NormalizedUpdated: res.NormalizedUpdated,
		})
		return
	}

	// reuse：缓存 run 仍然新鲜；归一化是幂等的，补跑一遍保证 NEI 存在
	spec := apify.Resolve(sc.Platform, sc.Capability)
	if spec == nil {
		es.Failed = append(es.Failed, SourceFailed{Source: source, Reason: decision.Reason, Error: "no actor registered for " + source})
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return
	}
	norm, err := r.normalizer.NormalizeActorRun(ctx, decision.CachedRun.ID, spec.Cap)
	if err != nil {
		logger.Error("复用 run 归一化 failed", "source", source, "actor_run_id", decision.CachedRun.ID, "error", err)
		es.Failed = append(es.Failed, SourceFailed{
			Source:         source,
			Reason:         decision.Reason,
			Error:          err.Error(),
			ApifyRunID:     decision.CachedRun.ApifyRunID,
			ApifyRunStatus: string(decision.CachedRun.Status),
		})
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return
	}
	es.Reused = append(es.Reused, SourceReused{
		Source:            source,
		Reason:            decision.Reason,
		RunAgeHours:       decision.AgeHours,
		ApifyRunID:        decision.CachedRun.ApifyRunID,
		NormalizedCreated: norm.ItemsCreated,
		NormalizedUpdated: norm.ItemsUpdated,
	})
	metrics.IngestTotal.WithLabelValues(sc.Platform, "reused").Inc()
}

// fail 把 CompileRun 打成 FAILED 并保留已有的 evidence_status 账目
func (r *Runner) fail(ctx context.Context, runID string, start time.Time, cause error, esJSON json.RawMessage) error {
	if err := r.store.MarkFailed(ctx, runID, cause.Error(), esJSON); err != nil {
		r.logger.Error("标记 compile run FAILED failed", "compile_run_id", runID, "error", err)
	}
	metrics.CompileDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
	return cause
}

// enabledPlatforms 按首次出现顺序去重
func enabledPlatforms(sources []*brand.SourceConnection) []string {
	seen := make(map[string]bool, len(sources))
	var out []string
	for _, sc := range sources {
		if !seen[sc.Platform] {
			seen[sc.Platform] = true
			out = append(out, sc.Platform)
		}
	}
	return out
}
