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
	"time"

	"brandbrain/internal/brand"
	"brandbrain/internal/bundle"
	"brandbrain/pkg/errors"
)

// 分页边界
const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// SnapshotView status/latest 响应中的快照部分
type SnapshotView struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	SnapshotJSON json.RawMessage `json:"snapshot_json"`
}

// StatusView get-status 响应；字段按 run 状态选择性出现
type StatusView struct {
	CompileRunID   string          `json:"compile_run_id"`
	Status         RunStatus       `json:"status"`
	EvidenceStatus json.RawMessage `json:"evidence_status,omitempty"`
	Snapshot       *SnapshotView   `json:"snapshot,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// LatestView latest 响应；include 控制可选块
type LatestView struct {
	SnapshotID     string          `json:"snapshot_id"`
	CompileRunID   string          `json:"compile_run_id"`
	CreatedAt      time.Time       `json:"created_at"`
	SnapshotJSON   json.RawMessage `json:"snapshot_json"`
	Diff           json.RawMessage `json:"diff,omitempty"`
	EvidenceStatus json.RawMessage `json:"evidence_status,omitempty"`
	QAReport       json.RawMessage `json:"qa_report,omitempty"`
	BundleSummary  json.RawMessage `json:"bundle_summary,omitempty"`
}

// HistoryEntry history 响应中的一条
type HistoryEntry struct {
	SnapshotID   string    `json:"snapshot_id"`
	CompileRunID string    `json:"compile_run_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryView 分页的快照历史
type HistoryView struct {
	Items    []HistoryEntry `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// OverridesView overrides 文档；不存在时返回空文档
type OverridesView struct {
	Overrides   map[string]any `json:"overrides"`
	PinnedPaths []string       `json:"pinned_paths"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// Reader 快照/状态/overrides 的读路径；每个操作 ≤ 3 次查询。
// 所有查询按 brand 限定，异租户的 run/snapshot 一律 not found
type Reader struct {
	brands  brand.Store
	store   Store
	bundles bundle.Store
}

// NewReader 创建 Reader
func NewReader(brands brand.Store, store Store, bundles bundle.Store) *Reader {
	return &Reader{brands: brands, store: store, bundles: bundles}
}

// Status 单个 CompileRun 的状态；形状随状态变化
func (r *Reader) Status(ctx context.Context, brandID, runID string) (*StatusView, error) {
	run, err := r.store.GetRun(ctx, brandID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.Newf(errors.KindNotFound, "compile run %s not found", runID)
	}
	view := &StatusView{CompileRunID: run.ID, Status: run.Status}
	switch run.Status {
	case RunSucceeded:
		view.EvidenceStatus = run.EvidenceStatus
		snap, err := r.store.SnapshotByRun(ctx, brandID, runID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			view.Snapshot = &SnapshotView{ID: snap.ID, CreatedAt: snap.CreatedAt, SnapshotJSON: snap.Snapshot}
		}
	case RunFailed:
		view.EvidenceStatus = run.EvidenceStatus
		view.Error = run.Error
	}
	return view, nil
}

// ParseInclude 解析 ?include=；full 展开为全部块，未知块报 Validation
func ParseInclude(raw string) (map[string]bool, error) {
	include := map[string]bool{}
	if raw == "" {
		return include, nil
	}
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(part) {
		case "full":
			include["evidence"] = true
			include["qa"] = true
			include["bundle"] = true
		case "evidence", "qa", "bundle":
			include[strings.TrimSpace(part)] = true
		case "":
		default:
			return nil, errors.Newf(errors.KindValidation, "unknown include %q", strings.TrimSpace(part))
		}
	}
	return include, nil
}

// Latest 最新快照；include 块来自关联的 CompileRun 与 bundle
func (r *Reader) Latest(ctx context.Context, brandID string, include map[string]bool) (*LatestView, error) {
	snap, err := r.store.LatestSnapshot(ctx, brandID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.Newf(errors.KindNotFound, "no snapshot for brand %s", brandID)
	}
	view := &LatestView{
		SnapshotID:   snap.ID,
		CompileRunID: snap.CompileRunID,
		CreatedAt:    snap.CreatedAt,
		SnapshotJSON: snap.Snapshot,
		Diff:         snap.Diff,
	}
	if len(include) == 0 {
		return view, nil
	}
	run, err := r.store.GetRun(ctx, brandID, snap.CompileRunID)
	if err != nil {
		return nil, err
	}
	if run != nil {
		if include["evidence"] {
			view.EvidenceStatus = run.EvidenceStatus
		}
		if include["qa"] {
			view.QAReport = run.QAReport
		}
		if include["bundle"] && run.BundleID != "" {
			b, err := r.bundles.Get(ctx, brandID, run.BundleID)
			if err != nil {
				return nil, err
			}
			if b != nil {
				view.BundleSummary = b.Summary
			}
		}
	}
	return view, nil
}

// History 分页快照历史；page 从 1 起，page_size 上限 MaxPageSize
func (r *Reader) History(ctx context.Context, brandID string, page, pageSize int) (*HistoryView, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return nil, errors.Newf(errors.KindValidation, "page_size must be at most %d", MaxPageSize)
	}
	snaps, total, err := r.store.History(ctx, brandID, page, pageSize)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryEntry, 0, len(snaps))
	for _, s := range snaps {
		items = append(items, HistoryEntry{SnapshotID: s.ID, CompileRunID: s.CompileRunID, CreatedAt: s.CreatedAt})
	}
	return &HistoryView{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Overrides 租户 overrides；未写入过时返回空文档而非 404
func (r *Reader) Overrides(ctx context.Context, brandID string) (*OverridesView, error) {
	ov, err := r.brands.GetOverrides(ctx, brandID)
	if err != nil {
		return nil, err
	}
	return overridesView(ov), nil
}

// PatchOverrides 按 key 合并（null 删除）；pinned_paths 非 nil 时整体替换
func (r *Reader) PatchOverrides(ctx context.Context, brandID string, patch map[string]any, pinned []string) (*OverridesView, error) {
	ov, err := r.brands.PatchOverrides(ctx, brandID, patch, pinned)
	if err != nil {
		return nil, err
	}
	return overridesView(ov), nil
}

func overridesView(ov *brand.Overrides) *OverridesView {
	view := &OverridesView{Overrides: map[string]any{}, PinnedPaths: []string{}}
	if ov == nil {
		return view
	}
	if ov.Overrides != nil {
		view.Overrides = ov.Overrides
	}
	if ov.PinnedPaths != nil {
		view.PinnedPaths = ov.PinnedPaths
	}
	if !ov.UpdatedAt.IsZero() {
		t := ov.UpdatedAt
		view.UpdatedAt = &t
	}
	return view
}
