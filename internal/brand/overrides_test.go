package brand

import (
	"context"
	"testing"
)

func TestMergeOverrides_NullDelete(t *testing.T) {
	base := map[string]any{"voice.tone": "bold", "palette.primary": "#fff"}
	patch := map[string]any{"voice.tone": nil, "tagline": "ship it"}
	out := MergeOverrides(base, patch)
	if _, ok := out["voice.tone"]; ok {
		t.Error("null value should delete the key")
	}
	if out["tagline"] != "ship it" || out["palette.primary"] != "#fff" {
		t.Errorf("merge result: %+v", out)
	}
	// null 对不存在的 key 是恒等操作
	out2 := MergeOverrides(nil, map[string]any{"missing": nil})
	if len(out2) != 0 {
		t.Errorf("null on missing key: %+v", out2)
	}
	// 入参不被修改
	if _, ok := base["voice.tone"]; !ok {
		t.Error("base mutated")
	}
}

func TestPatchOverrides_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStoreMem()
	patch := map[string]any{"voice.tone": "warm"}
	first, err := s.PatchOverrides(ctx, "b1", patch, []string{"voice.tone"})
	if err != nil {
		t.Fatalf("PatchOverrides: %v", err)
	}
	second, err := s.PatchOverrides(ctx, "b1", patch, []string{"voice.tone"})
	if err != nil {
		t.Fatalf("PatchOverrides again: %v", err)
	}
	if first.Overrides["voice.tone"] != second.Overrides["voice.tone"] {
		t.Error("patch should be idempotent")
	}
}

func TestPatchOverrides_PinnedReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewStoreMem()
	_, _ = s.PatchOverrides(ctx, "b1", map[string]any{"a": 1}, []string{"a", "b"})
	out, err := s.PatchOverrides(ctx, "b1", nil, []string{"c"})
	if err != nil {
		t.Fatalf("PatchOverrides: %v", err)
	}
	if len(out.PinnedPaths) != 1 || out.PinnedPaths[0] != "c" {
		t.Errorf("pinned should be replaced, got %v", out.PinnedPaths)
	}
	// pinned 省略时保持不变
	out, _ = s.PatchOverrides(ctx, "b1", map[string]any{"d": 2}, nil)
	if len(out.PinnedPaths) != 1 || out.PinnedPaths[0] != "c" {
		t.Errorf("pinned should be kept when omitted, got %v", out.PinnedPaths)
	}
}

func TestListEnabledSources_StableOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStoreMem()
	s.PutSource(&SourceConnection{ID: "s3", BrandID: "b1", Platform: PlatformWeb, Capability: CapabilityCrawlPages, Identifier: "https://example.com", IsEnabled: true})
	s.PutSource(&SourceConnection{ID: "s1", BrandID: "b1", Platform: PlatformInstagram, Capability: CapabilityReels, Identifier: "acme", IsEnabled: true})
	s.PutSource(&SourceConnection{ID: "s2", BrandID: "b1", Platform: PlatformInstagram, Capability: CapabilityPosts, Identifier: "acme", IsEnabled: true})
	s.PutSource(&SourceConnection{ID: "s4", BrandID: "b1", Platform: PlatformTiktok, Capability: CapabilityProfileVideos, Identifier: "acme", IsEnabled: false})
	list, err := s.ListEnabledSources(ctx, "b1")
	if err != nil {
		t.Fatalf("ListEnabledSources: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 enabled sources, got %d", len(list))
	}
	want := []string{"instagram.posts", "instagram.reels", "web.crawl_pages"}
	for i, sc := range list {
		if sc.Key() != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, sc.Key(), want[i])
		}
	}
}
