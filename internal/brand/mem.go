package brand

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StoreMem 内存实现：测试与本地开发用，语义与 StorePg 一致
type StoreMem struct {
	mu         sync.Mutex
	brands     map[string]*Brand
	onboarding map[string]*Onboarding
	sources    map[string][]*SourceConnection
	overrides  map[string]*Overrides
}

// NewStoreMem 创建内存 Store
func NewStoreMem() *StoreMem {
	return &StoreMem{
		brands:     make(map[string]*Brand),
		onboarding: make(map[string]*Onboarding),
		sources:    make(map[string][]*SourceConnection),
		overrides:  make(map[string]*Overrides),
	}
}

// PutBrand 测试用 seed
func (s *StoreMem) PutBrand(b *Brand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.brands[b.ID] = &cp
}

// PutOnboarding 测试用 seed
func (s *StoreMem) PutOnboarding(o *Onboarding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.onboarding[o.BrandID] = &cp
}

// PutSource 测试用 seed
func (s *StoreMem) PutSource(sc *SourceConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.sources[sc.BrandID] = append(s.sources[sc.BrandID], &cp)
}

func (s *StoreMem) GetBrand(ctx context.Context, brandID string) (*Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brands[brandID]
	if !ok || !b.DeletedAt.IsZero() {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *StoreMem) GetOnboarding(ctx context.Context, brandID string) (*Onboarding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.onboarding[brandID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *StoreMem) ListEnabledSources(ctx context.Context, brandID string) ([]*SourceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*SourceConnection
	for _, sc := range s.sources[brandID] {
		if sc.IsEnabled {
			cp := *sc
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.Capability != b.Capability {
			return a.Capability < b.Capability
		}
		return a.Identifier < b.Identifier
	})
	return list, nil
}

func (s *StoreMem) GetOverrides(ctx context.Context, brandID string) (*Overrides, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[brandID]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Overrides = MergeOverrides(o.Overrides, nil)
	cp.PinnedPaths = append([]string(nil), o.PinnedPaths...)
	return &cp, nil
}

func (s *StoreMem) PatchOverrides(ctx context.Context, brandID string, patch map[string]any, pinned []string) (*Overrides, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.overrides[brandID]
	var base map[string]any
	var curPinned []string
	if cur != nil {
		base = cur.Overrides
		curPinned = cur.PinnedPaths
	}
	merged := MergeOverrides(base, patch)
	newPinned := curPinned
	if pinned != nil {
		newPinned = append([]string(nil), pinned...)
	}
	if newPinned == nil {
		newPinned = []string{}
	}
	o := &Overrides{BrandID: brandID, Overrides: merged, PinnedPaths: newPinned, UpdatedAt: time.Now()}
	s.overrides[brandID] = o
	cp := *o
	return &cp, nil
}
