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

package normalize

import (
	"context"

	"brandbrain/internal/evidence"
	"brandbrain/pkg/errors"
	"brandbrain/pkg/log"
)

// Result normalize-actor-run 的结果
type Result struct {
	ItemsCreated int
	ItemsUpdated int
}

// Normalizer 把一次 ActorRun 的 RawItem 归一化为 NEI
type Normalizer struct {
	runs     evidence.RunStore
	items    evidence.ItemStore
	registry *Registry
	logger   *log.Logger
}

// NewNormalizer 创建 Normalizer
func NewNormalizer(runs evidence.RunStore, items evidence.ItemStore, registry *Registry, logger *log.Logger) *Normalizer {
	return &Normalizer{runs: runs, items: items, registry: registry, logger: logger}
}

// NormalizeActorRun 按 item_index 升序处理至多 fetchLimit 条 RawItem。
// actor 无 adapter（含被 flag 关闭的）返回 AdapterMissing；
// 非 web 缺 external_id 的条目使整次调用失败；
// adapter 判定无法归一化的条目（nil, nil）跳过
func (n *Normalizer) NormalizeActorRun(ctx context.Context, runID string, fetchLimit int) (*Result, error) {
	run, err := n.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.Newf(errors.KindNotFound, "actor run %s not found", runID)
	}
	adapter := n.registry.Lookup(run.ActorID)
	if adapter == nil {
		return nil, errors.Newf(errors.KindAdapterMissing, "no adapter for actor %s", run.ActorID)
	}
	raws, err := n.runs.ListRawItems(ctx, runID, fetchLimit)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	skipped := 0
	for _, raw := range raws {
		payload, err := adapter(raw.Payload)
		if err != nil {
			return nil, errors.WithKind(errors.KindPermanent, errors.Wrapf(err, "normalize item %d of run %s", raw.ItemIndex, runID))
		}
		if payload == nil {
			skipped++
			continue
		}
		item := &evidence.NormalizedItem{
			BrandID:      run.BrandID,
			Platform:     payload.Platform,
			ContentType:  payload.ContentType,
			ExternalID:   payload.ExternalID,
			CanonicalURL: payload.CanonicalURL,
			PublishedAt:  payload.PublishedAt,
			Metrics:      payload.Metrics,
			Text:         payload.Text,
			Flags:        payload.Flags,
			RawRefs:      []evidence.RawRef{{ActorRunID: runID, ItemIndex: raw.ItemIndex}},
		}
		created, err := n.items.Upsert(ctx, item)
		if err != nil {
			return nil, err
		}
		if created {
			res.ItemsCreated++
		} else {
			res.ItemsUpdated++
		}
	}
	if skipped > 0 {
		n.logger.Warn("部分条目无法归一化，已跳过", "actor_run_id", runID, "skipped", skipped)
	}
	return res, nil
}
