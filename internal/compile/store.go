package compile

import (
	"context"
	"encoding/json"
)

// Store CompileRun 与 Snapshot 存储。所有读取按 brand 限定，
// 这是唯一的数据隔离机制
type Store interface {
	// CreateRun 插入一条 PENDING 的 CompileRun
	CreateRun(ctx context.Context, run *CompileRun) error
	// GetRun 按 (brand, id) 取；无则 nil, nil
	GetRun(ctx context.Context, brandID, runID string) (*CompileRun, error)
	// MarkRunning PENDING → RUNNING，记 started_at
	MarkRunning(ctx context.Context, runID string) error
	// MarkSucceeded RUNNING → SUCCEEDED，写产物字段
	MarkSucceeded(ctx context.Context, runID, bundleID string, evidenceStatus, draft, qaReport json.RawMessage) error
	// MarkFailed RUNNING → FAILED，写 error 与已有账目
	MarkFailed(ctx context.Context, runID, errMsg string, evidenceStatus json.RawMessage) error
	// CreateSnapshot 写一个不可变快照
	CreateSnapshot(ctx context.Context, snap *Snapshot) error
	// LatestSnapshot 按 (created_at DESC, id DESC) 取该 brand 最新快照；无则 nil, nil
	LatestSnapshot(ctx context.Context, brandID string) (*Snapshot, error)
	// SnapshotByRun 按 compile_run_id 取快照；无则 nil, nil
	SnapshotByRun(ctx context.Context, brandID, runID string) (*Snapshot, error)
	// History 按 (created_at DESC, id DESC) 分页列出快照及总数
	History(ctx context.Context, brandID string, page, pageSize int) ([]*Snapshot, int, error)
}
