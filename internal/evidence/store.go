package evidence

import "context"

// RunStore ActorRun 与 RawItem 存储
type RunStore interface {
	// CreateRun 插入一条 RUNNING 的 ActorRun（含外部 run/dataset id）
	CreateRun(ctx context.Context, run *ActorRun) error
	// MarkTerminal 迁移到终态并记录 finished_at / error_summary
	MarkTerminal(ctx context.Context, runID string, status RunStatus, errSummary string) error
	// LatestSucceeded 返回该 source 最近一次 SUCCEEDED 的 run；无则 nil, nil
	LatestSucceeded(ctx context.Context, sourceConnectionID string) (*ActorRun, error)
	// GetRun 按 id 取 run；无则 nil, nil
	GetRun(ctx context.Context, runID string) (*ActorRun, error)
	// ReplaceRawItems 原子替换该 run 的全部 RawItem（delete + 顺序 item_index 批量插入 + 更新计数）
	ReplaceRawItems(ctx context.Context, runID string, payloads [][]byte) error
	// ListRawItems 按 item_index 升序返回至多 limit 条
	ListRawItems(ctx context.Context, runID string, limit int) ([]*RawItem, error)
}

// Pair (platform, content_type) 组合及可选条目数
type Pair struct {
	Platform    string
	ContentType string
	Eligible    int
}

// ItemStore NEI 存储；Upsert 以去重键为准，其余为 bundler 的有界读路径。
// Pairs/RecentSlice/EngagementSlice/HasNonWeb 必须使用同一个候选集谓词
// （brand + platform ∈ enabled），新增过滤条件时四者同步。
type ItemStore interface {
	// Upsert 插入或按去重键合并；返回是否新建。非 web 且 external_id 为空时报 Validation 错误
	Upsert(ctx context.Context, item *NormalizedItem) (created bool, err error)
	// Pairs 候选集中出现的 (platform, content_type) 组合，按 (platform, content_type) 排序，含数量
	Pairs(ctx context.Context, brandID string, platforms []string) ([]Pair, error)
	// RecentSlice 按 (published_at DESC NULLS LAST, canonical_url ASC) 取前 limit 条
	RecentSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error)
	// EngagementSlice 按 SQL engagement 代理序取前 limit 条（内存中再精确打分）
	EngagementSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error)
	// HasNonWeb 候选集中是否存在非 web 条目
	HasNonWeb(ctx context.Context, brandID string, platforms []string) (bool, error)
	// Get 按 id 取条目；无则 nil, nil
	Get(ctx context.Context, id string) (*NormalizedItem, error)
}
