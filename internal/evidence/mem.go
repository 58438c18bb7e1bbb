package evidence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandbrain/pkg/errors"
)

// RunStoreMem 内存实现：测试与本地开发用，语义与 RunStorePg 一致
type RunStoreMem struct {
	mu   sync.Mutex
	runs map[string]*ActorRun
	raw  map[string][]*RawItem
}

// NewRunStoreMem 创建内存 RunStore
func NewRunStoreMem() *RunStoreMem {
	return &RunStoreMem{
		runs: make(map[string]*ActorRun),
		raw:  make(map[string][]*RawItem),
	}
}

func (s *RunStoreMem) CreateRun(ctx context.Context, run *ActorRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *RunStoreMem) MarkTerminal(ctx context.Context, runID string, status RunStatus, errSummary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return errors.Newf(errors.KindNotFound, "actor run %s not found", runID)
	}
	r.Status = status
	r.ErrorSummary = errSummary
	r.FinishedAt = time.Now()
	return nil
}

func (s *RunStoreMem) LatestSucceeded(ctx context.Context, sourceConnectionID string) (*ActorRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *ActorRun
	for _, r := range s.runs {
		if r.SourceConnectionID != sourceConnectionID || r.Status != RunSucceeded {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *RunStoreMem) GetRun(ctx context.Context, runID string) (*ActorRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *RunStoreMem) ReplaceRawItems(ctx context.Context, runID string, payloads [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return errors.Newf(errors.KindNotFound, "actor run %s not found", runID)
	}
	items := make([]*RawItem, 0, len(payloads))
	for i, p := range payloads {
		items = append(items, &RawItem{ActorRunID: runID, ItemIndex: i, Payload: append([]byte(nil), p...)})
	}
	s.raw[runID] = items
	r.RawItemCount = len(payloads)
	return nil
}

func (s *RunStoreMem) ListRawItems(ctx context.Context, runID string, limit int) ([]*RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.raw[runID]
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*RawItem, 0, len(items))
	for _, it := range items {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

// ItemStoreMem 内存实现：语义与 ItemStorePg 一致（含排序与去重键）
type ItemStoreMem struct {
	mu    sync.Mutex
	items map[string]*NormalizedItem
}

// NewItemStoreMem 创建内存 ItemStore
func NewItemStoreMem() *ItemStoreMem {
	return &ItemStoreMem{items: make(map[string]*NormalizedItem)}
}

func (s *ItemStoreMem) Upsert(ctx context.Context, item *NormalizedItem) (bool, error) {
	if item.Platform != "web" && item.ExternalID == "" {
		return false, errors.Newf(errors.KindValidation, "non-web item missing external_id (platform=%s content_type=%s)", item.Platform, item.ContentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, ex := range s.items {
		if ex.BrandID != item.BrandID || ex.Platform != item.Platform || ex.ContentType != item.ContentType {
			continue
		}
		var match bool
		if item.Platform == "web" {
			match = ex.CanonicalURL == item.CanonicalURL
		} else {
			match = ex.ExternalID == item.ExternalID
		}
		if !match {
			continue
		}
		ex.CanonicalURL = item.CanonicalURL
		ex.PublishedAt = item.PublishedAt
		ex.Metrics = copyMetrics(item.Metrics)
		ex.Text = item.Text
		ex.Flags = copyFlags(item.Flags)
		for _, ref := range item.RawRefs {
			if !ex.HasRawRef(ref) {
				ex.RawRefs = append(ex.RawRefs, ref)
			}
		}
		ex.UpdatedAt = now
		item.ID = ex.ID
		return false, nil
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	cp := *item
	cp.Metrics = copyMetrics(item.Metrics)
	cp.Flags = copyFlags(item.Flags)
	cp.RawRefs = append([]RawRef(nil), item.RawRefs...)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.items[cp.ID] = &cp
	return true, nil
}

func (s *ItemStoreMem) Pairs(ctx context.Context, brandID string, platforms []string) ([]Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Pair]int)
	for _, it := range s.items {
		if it.BrandID != brandID || !contains(platforms, it.Platform) {
			continue
		}
		counts[Pair{Platform: it.Platform, ContentType: it.ContentType}]++
	}
	var pairs []Pair
	for k, n := range counts {
		k.Eligible = n
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Platform != pairs[j].Platform {
			return pairs[i].Platform < pairs[j].Platform
		}
		return pairs[i].ContentType < pairs[j].ContentType
	})
	return pairs, nil
}

func (s *ItemStoreMem) RecentSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error) {
	list := s.slice(brandID, platform, contentType)
	sort.Slice(list, func(i, j int) bool { return recencyLess(list[i], list[j]) })
	return truncate(list, limit), nil
}

func (s *ItemStoreMem) EngagementSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error) {
	list := s.slice(brandID, platform, contentType)
	sort.Slice(list, func(i, j int) bool {
		a, b := engagementProxyOf(list[i]), engagementProxyOf(list[j])
		if a != b {
			return a > b
		}
		return recencyLess(list[i], list[j])
	})
	return truncate(list, limit), nil
}

func (s *ItemStoreMem) HasNonWeb(ctx context.Context, brandID string, platforms []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.BrandID == brandID && contains(platforms, it.Platform) && it.Platform != "web" {
			return true, nil
		}
	}
	return false, nil
}

func (s *ItemStoreMem) Get(ctx context.Context, id string) (*NormalizedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *ItemStoreMem) slice(brandID, platform, contentType string) []*NormalizedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*NormalizedItem
	for _, it := range s.items {
		if it.BrandID == brandID && it.Platform == platform && it.ContentType == contentType {
			cp := *it
			list = append(list, &cp)
		}
	}
	return list
}

// recencyLess published_at DESC NULLS LAST, canonical_url ASC
func recencyLess(a, b *NormalizedItem) bool {
	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		return a.CanonicalURL < b.CanonicalURL
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	case !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	}
	return a.CanonicalURL < b.CanonicalURL
}

// engagementProxyOf 与 ItemStorePg 的 SQL 代理同式
func engagementProxyOf(it *NormalizedItem) float64 {
	m := it.Metrics
	return m["likes"] + m["reactions"] + 2*m["comments"] + 0.01*m["views"]
}

func truncate(list []*NormalizedItem, limit int) []*NormalizedItem {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFlags(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
