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

// Package ingest 单 source 抓取：起 actor、轮询、按 cap 拉 dataset、原子落 raw、触发归一化
package ingest

import (
	"context"
	stderrors "errors"
	"time"

	"brandbrain/internal/apify"
	"brandbrain/internal/brand"
	"brandbrain/internal/evidence"
	"brandbrain/internal/normalize"
	"brandbrain/pkg/log"
	"brandbrain/pkg/metrics"
)

// Result ingest-source 的结果；失败时 Error 带人读摘要
type Result struct {
	Success           bool
	Skipped           bool
	ActorRunID        string
	ApifyRunID        string
	ApifyRunStatus    string
	RawItemsCount     int
	NormalizedCreated int
	NormalizedUpdated int
	Error             string
}

// Ingester 把一个 SourceConnection 抓成 RawItem + NEI
type Ingester struct {
	client       apify.Client
	runs         evidence.RunStore
	normalizer   *normalize.Normalizer
	flags        apify.Flags
	pollTimeout  time.Duration
	pollInterval time.Duration
	logger       *log.Logger
}

// NewIngester 创建 Ingester
func NewIngester(client apify.Client, runs evidence.RunStore, normalizer *normalize.Normalizer, flags apify.Flags, pollTimeout, pollInterval time.Duration, logger *log.Logger) *Ingester {
	return &Ingester{
		client:       client,
		runs:         runs,
		normalizer:   normalizer,
		flags:        flags,
		pollTimeout:  pollTimeout,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// IngestSource 对一个 source 执行抓取全流程。
// cap 在三处生效：actor 输入、dataset fetch limit、normalize fetch_limit。
// 启动 actor 之前失败不留任何持久状态；之后失败只留一条终态 ActorRun，
// 重试总是新建 run，不污染下游
func (g *Ingester) IngestSource(ctx context.Context, sc *brand.SourceConnection) *Result {
	logger := g.logger.With("brand_id", sc.BrandID, "source", sc.Key(), "identifier", sc.Identifier)

	if !apify.IsCapabilityEnabled(sc.Platform, sc.Capability, g.flags) {
		logger.Info("能力未开放，跳过抓取")
		metrics.IngestTotal.WithLabelValues(sc.Platform, "skipped").Inc()
		return &Result{Success: true, Skipped: true}
	}
	spec := apify.Resolve(sc.Platform, sc.Capability)
	if spec == nil {
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return &Result{Error: "no actor registered for " + sc.Key()}
	}
	cap := spec.Cap

	input, err := spec.BuildInput(sc, cap)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return &Result{Error: "build actor input: " + err.Error()}
	}

	info, err := g.client.StartRun(ctx, spec.ActorID, input)
	if err != nil {
		logger.Error("启动 actor failed", "actor_id", spec.ActorID, "error", err)
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return &Result{Error: "start actor run: " + err.Error()}
	}

	run := &evidence.ActorRun{
		BrandID:            sc.BrandID,
		SourceConnectionID: sc.ID,
		ActorID:            spec.ActorID,
		Input:              input,
		ApifyRunID:         info.RunID,
		ApifyDatasetID:     info.DatasetID,
		Status:             evidence.RunRunning,
	}
	if err := g.runs.CreateRun(ctx, run); err != nil {
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		return &Result{ApifyRunID: info.RunID, Error: "persist actor run: " + err.Error()}
	}
	res := &Result{ActorRunID: run.ID, ApifyRunID: info.RunID}

	pollStart := time.Now()
	terminal, err := g.client.PollRun(ctx, info.RunID, g.pollTimeout, g.pollInterval)
	if err != nil {
		metrics.ActorPollDuration.WithLabelValues("error").Observe(time.Since(pollStart).Seconds())
		var timeoutErr *apify.PollTimeoutError
		if stderrors.As(err, &timeoutErr) {
			_ = g.runs.MarkTerminal(ctx, run.ID, evidence.RunTimedOut, err.Error())
			res.ApifyRunStatus = string(evidence.RunTimedOut)
		} else {
			_ = g.runs.MarkTerminal(ctx, run.ID, evidence.RunFailed, err.Error())
			res.ApifyRunStatus = string(evidence.RunFailed)
		}
		logger.Error("actor 轮询failed", "apify_run_id", info.RunID, "error", err)
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = err.Error()
		return res
	}
	metrics.ActorPollDuration.WithLabelValues(terminal.Status).Observe(time.Since(pollStart).Seconds())
	res.ApifyRunStatus = terminal.Status
	if terminal.Status != string(evidence.RunSucceeded) {
		_ = g.runs.MarkTerminal(ctx, run.ID, evidence.RunStatus(normalizeStatus(terminal.Status)), "actor terminal status "+terminal.Status)
		logger.Error("actor 非成功终态", "apify_run_id", info.RunID, "status", terminal.Status)
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = "actor terminal status " + terminal.Status
		return res
	}

	datasetID := terminal.DatasetID
	if datasetID == "" {
		datasetID = info.DatasetID
	}
	items, err := g.client.FetchItems(ctx, datasetID, cap, 0)
	if err != nil {
		_ = g.runs.MarkTerminal(ctx, run.ID, evidence.RunFailed, "fetch items: "+err.Error())
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = "fetch items: " + err.Error()
		return res
	}
	payloads := make([][]byte, len(items))
	for i, it := range items {
		payloads[i] = it
	}
	if err := g.runs.ReplaceRawItems(ctx, run.ID, payloads); err != nil {
		_ = g.runs.MarkTerminal(ctx, run.ID, evidence.RunFailed, "store raw items: "+err.Error())
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = "store raw items: " + err.Error()
		return res
	}
	res.RawItemsCount = len(payloads)
	metrics.RawItemsFetched.WithLabelValues(sc.Platform).Add(float64(len(payloads)))
	if err := g.runs.MarkTerminal(ctx, run.ID, evidence.RunSucceeded, ""); err != nil {
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = "mark run succeeded: " + err.Error()
		return res
	}

	norm, err := g.normalizer.NormalizeActorRun(ctx, run.ID, cap)
	if err != nil {
		logger.Error("归一化failed", "actor_run_id", run.ID, "error", err)
		metrics.IngestTotal.WithLabelValues(sc.Platform, "failed").Inc()
		res.Error = "normalize: " + err.Error()
		return res
	}
	res.NormalizedCreated = norm.ItemsCreated
	res.NormalizedUpdated = norm.ItemsUpdated
	res.Success = true
	logger.Info("source 抓取完成",
		"apify_run_id", info.RunID,
		"raw_items", res.RawItemsCount,
		"created", res.NormalizedCreated,
		"updated", res.NormalizedUpdated)
	metrics.IngestTotal.WithLabelValues(sc.Platform, "success").Inc()
	return res
}

// normalizeStatus 上游用 TIMED-OUT，库内统一 TIMED_OUT
func normalizeStatus(s string) string {
	if s == "TIMED-OUT" {
		return "TIMED_OUT"
	}
	return s
}
