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
	"testing"

	"brandbrain/pkg/errors"
)

func TestStatus_ShapeByRunState(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	seedInstagramSource(f)
	ctx := context.Background()

	res, err := f.orch.Kickoff(ctx, testBrandID, false)
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	view, err := f.reader.Status(ctx, testBrandID, res.CompileRunID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != RunPending || view.Snapshot != nil || view.EvidenceStatus != nil {
		t.Errorf("pending view = %+v, want bare shape", view)
	}

	job, _ := f.queue.ClaimNext(ctx, "w1")
	if err := f.runner.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	view, err = f.reader.Status(ctx, testBrandID, res.CompileRunID)
	if err != nil {
		t.Fatalf("status after execute: %v", err)
	}
	if view.Status != RunSucceeded || view.EvidenceStatus == nil {
		t.Errorf("succeeded view = %+v", view)
	}
	if view.Snapshot == nil || view.Snapshot.ID == "" || view.Snapshot.SnapshotJSON == nil {
		t.Errorf("snapshot block = %+v", view.Snapshot)
	}
}

func TestStatus_FailedShapeCarriesError(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	ctx := context.Background()
	run := &CompileRun{BrandID: testBrandID, PromptVersion: "v1", Model: "stub-compiler-1", InputHash: "h"}
	if err := f.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := f.store.MarkRunning(ctx, run.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := f.store.MarkFailed(ctx, run.ID, "bundler exploded", json.RawMessage(`{"reused":[],"refreshed":[],"skipped":[],"failed":[]}`)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	view, err := f.reader.Status(ctx, testBrandID, run.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != RunFailed || view.Error != "bundler exploded" || view.EvidenceStatus == nil {
		t.Errorf("failed view = %+v", view)
	}
	if view.Snapshot != nil {
		t.Error("failed run must not expose a snapshot")
	}
}

func TestStatus_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	seedInstagramSource(f)
	runID := kickoffAndExecute(t, f)

	otherBrand := "22222222-2222-2222-2222-222222222222"
	_, err := f.reader.Status(context.Background(), otherBrand, runID)
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("kind = %v, want not_found for foreign tenant", errors.KindOf(err))
	}
}

func TestLatest_IncludeBlocks(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	seedInstagramSource(f)
	kickoffAndExecute(t, f)
	ctx := context.Background()

	bare, err := f.reader.Latest(ctx, testBrandID, nil)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if bare.SnapshotJSON == nil || bare.EvidenceStatus != nil || bare.QAReport != nil || bare.BundleSummary != nil {
		t.Errorf("bare view = %+v, want no include blocks", bare)
	}

	include, err := ParseInclude("full")
	if err != nil {
		t.Fatalf("parse include: %v", err)
	}
	full, err := f.reader.Latest(ctx, testBrandID, include)
	if err != nil {
		t.Fatalf("latest full: %v", err)
	}
	if full.EvidenceStatus == nil || full.QAReport == nil || full.BundleSummary == nil {
		t.Errorf("full view = %+v, want all blocks", full)
	}
}

func TestLatest_NoSnapshotNotFound(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	_, err := f.reader.Latest(context.Background(), testBrandID, nil)
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("kind = %v, want not_found", errors.KindOf(err))
	}
}

func TestParseInclude(t *testing.T) {
	got, err := ParseInclude("evidence,qa")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got["evidence"] || !got["qa"] || got["bundle"] {
		t.Errorf("include = %v", got)
	}
	if _, err := ParseInclude("evidence,bogus"); errors.KindOf(err) != errors.KindValidation {
		t.Errorf("kind = %v, want validation for unknown include", errors.KindOf(err))
	}
}

func TestHistory_PaginationAndCap(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run := &CompileRun{BrandID: testBrandID, PromptVersion: "v1", Model: "m", InputHash: "h"}
		if err := f.store.CreateRun(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
		if err := f.store.CreateSnapshot(ctx, &Snapshot{
			BrandID:      testBrandID,
			CompileRunID: run.ID,
			Snapshot:     json.RawMessage(`{}`),
		}); err != nil {
			t.Fatalf("create snapshot: %v", err)
		}
	}

	view, err := f.reader.History(ctx, testBrandID, 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if view.Total != 3 || len(view.Items) != 2 || view.Page != 1 || view.PageSize != 2 {
		t.Errorf("view = %+v", view)
	}
	view, err = f.reader.History(ctx, testBrandID, 2, 2)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(view.Items) != 1 {
		t.Errorf("page 2 items = %d, want 1", len(view.Items))
	}

	if _, err := f.reader.History(ctx, testBrandID, 1, MaxPageSize+1); errors.KindOf(err) != errors.KindValidation {
		t.Errorf("kind = %v, want validation for oversized page_size", errors.KindOf(err))
	}

	// 缺省值
	view, err = f.reader.History(ctx, testBrandID, 0, 0)
	if err != nil {
		t.Fatalf("history defaults: %v", err)
	}
	if view.Page != 1 || view.PageSize != DefaultPageSize {
		t.Errorf("defaults = %+v", view)
	}
}

func TestOverrides_EmptyDocThenPatch(t *testing.T) {
	f := newFixture(t)
	seedBrand(f)
	ctx := context.Background()

	view, err := f.reader.Overrides(ctx, testBrandID)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if len(view.Overrides) != 0 || len(view.PinnedPaths) != 0 || view.UpdatedAt != nil {
		t.Errorf("empty doc = %+v", view)
	}

	view, err = f.reader.PatchOverrides(ctx, testBrandID, map[string]any{"tone": "bold", "drop": "me"}, []string{"tone"})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if view.Overrides["tone"] != "bold" || len(view.PinnedPaths) != 1 {
		t.Errorf("after patch = %+v", view)
	}

	// null 删除 + pinned 整体替换
	view, err = f.reader.PatchOverrides(ctx, testBrandID, map[string]any{"drop": nil}, []string{})
	if err != nil {
		t.Fatalf("patch delete: %v", err)
	}
	if _, ok := view.Overrides["drop"]; ok {
		t.Error("null patch should delete the key")
	}
	if view.Overrides["tone"] != "bold" {
		t.Error("untouched key must survive merge")
	}
	if len(view.PinnedPaths) != 0 {
		t.Errorf("pinned = %v, want wholesale replace with empty", view.PinnedPaths)
	}
}
