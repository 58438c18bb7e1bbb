package brand

import "context"

// Store 租户域读写；PATCH overrides 之外全部只读
type Store interface {
	// GetBrand 按 id 查租户；不存在或已软删返回 nil, nil
	GetBrand(ctx context.Context, brandID string) (*Brand, error)
	// GetOnboarding 取租户 onboarding；无则返回 nil, nil（hash 按空文档计算）
	GetOnboarding(ctx context.Context, brandID string) (*Onboarding, error)
	// ListEnabledSources 返回启用的 source，按 (platform, capability, identifier) 稳定排序
	ListEnabledSources(ctx context.Context, brandID string) ([]*SourceConnection, error)
	// GetOverrides 取租户 overrides；无则返回 nil, nil
	GetOverrides(ctx context.Context, brandID string) (*Overrides, error)
	// PatchOverrides 按 key 合并 overrides（null 删除）；pinned 非 nil 时整体替换。返回合并后的文档
	PatchOverrides(ctx context.Context, brandID string, patch map[string]any, pinned []string) (*Overrides, error)
}
