package freshness

import (
	"context"
	"testing"
	"time"

	"brandbrain/internal/brand"
	"brandbrain/internal/evidence"
)

func seedRun(t *testing.T, s *evidence.RunStoreMem, sourceID string, status evidence.RunStatus, age time.Duration) {
	t.Helper()
	err := s.CreateRun(context.Background(), &evidence.ActorRun{
		SourceConnectionID: sourceID,
		Status:             status,
		StartedAt:          time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func TestCheck_ForceWins(t *testing.T) {
	s := evidence.NewRunStoreMem()
	seedRun(t, s, "s1", evidence.RunSucceeded, time.Hour)
	c := NewChecker(s, 24*time.Hour)
	d, err := c.Check(context.Background(), &brand.SourceConnection{ID: "s1"}, true)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.ShouldRefresh || d.Reason != ReasonForced {
		t.Errorf("force should refresh, got %+v", d)
	}
}

func TestCheck_NoRunStaleFresh(t *testing.T) {
	s := evidence.NewRunStoreMem()
	seedRun(t, s, "stale", evidence.RunSucceeded, 30*time.Hour)
	seedRun(t, s, "fresh", evidence.RunSucceeded, 2*time.Hour)
	seedRun(t, s, "failed-only", evidence.RunFailed, time.Hour)
	c := NewChecker(s, 24*time.Hour)
	ctx := context.Background()

	d, _ := c.Check(ctx, &brand.SourceConnection{ID: "none"}, false)
	if !d.ShouldRefresh || d.Reason != ReasonNoRun {
		t.Errorf("no run: %+v", d)
	}
	d, _ = c.Check(ctx, &brand.SourceConnection{ID: "failed-only"}, false)
	if !d.ShouldRefresh || d.Reason != ReasonNoRun {
		t.Errorf("failed run must not count as cached: %+v", d)
	}
	d, _ = c.Check(ctx, &brand.SourceConnection{ID: "stale"}, false)
	if !d.ShouldRefresh || d.Reason != ReasonStale || d.CachedRun == nil {
		t.Errorf("stale: %+v", d)
	}
	if d.AgeHours < 29 || d.AgeHours > 31 {
		t.Errorf("age_hours = %v", d.AgeHours)
	}
	d, _ = c.Check(ctx, &brand.SourceConnection{ID: "fresh"}, false)
	if d.ShouldRefresh || d.Reason != ReasonFresh || d.CachedRun == nil {
		t.Errorf("fresh: %+v", d)
	}
}

func TestAnyStale(t *testing.T) {
	s := evidence.NewRunStoreMem()
	seedRun(t, s, "s1", evidence.RunSucceeded, time.Hour)
	seedRun(t, s, "s2", evidence.RunSucceeded, 48*time.Hour)
	c := NewChecker(s, 24*time.Hour)
	ctx := context.Background()

	stale, err := c.AnyStale(ctx, []*brand.SourceConnection{{ID: "s1"}, {ID: "s2"}})
	if err != nil {
		t.Fatalf("AnyStale: %v", err)
	}
	if !stale {
		t.Error("s2 is stale")
	}
	stale, _ = c.AnyStale(ctx, []*brand.SourceConnection{{ID: "s1"}})
	if stale {
		t.Error("s1 is fresh")
	}
}

func TestComputeInputHash_Stable(t *testing.T) {
	mk := func() HashInputs {
		return HashInputs{
			Answers:     map[string]string{"brand_name": "Acme", "industry": "saas"},
			Overrides:   map[string]any{"voice.tone": "bold", "limits": map[string]any{"max": 3}},
			PinnedPaths: []string{"b", "a"},
			Sources: []*brand.SourceConnection{
				{Platform: "web", Capability: "crawl_pages", Identifier: "https://acme.com", Settings: map[string]any{"extra_start_urls": []string{"https://acme.com/blog"}, "label": "main"}},
				{Platform: "instagram", Capability: "posts", Identifier: "acme"},
			},
			PromptVersion: "v3",
			Model:         "gpt-4o",
		}
	}
	h1, err := ComputeInputHash(mk())
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d", len(h1))
	}
	h2, _ := ComputeInputHash(mk())
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}

	// source 顺序不影响 hash
	in := mk()
	in.Sources[0], in.Sources[1] = in.Sources[1], in.Sources[0]
	h3, _ := ComputeInputHash(in)
	if h3 != h1 {
		t.Error("source ordering leaked into hash")
	}

	// pinned 顺序不影响 hash
	in = mk()
	in.PinnedPaths = []string{"a", "b"}
	h4, _ := ComputeInputHash(in)
	if h4 != h1 {
		t.Error("pinned ordering leaked into hash")
	}
}

func TestComputeInputHash_Sensitivity(t *testing.T) {
	base := HashInputs{
		Answers: map[string]string{"brand_name": "Acme"},
		Sources: []*brand.SourceConnection{
			{Platform: "web", Capability: "crawl_pages", Identifier: "https://acme.com", Settings: map[string]any{"extra_start_urls": []string{"https://acme.com/blog"}}},
		},
		PromptVersion: "v3",
		Model:         "gpt-4o",
	}
	h0, _ := ComputeInputHash(base)

	in := base
	in.Model = "gpt-5"
	if h, _ := ComputeInputHash(in); h == h0 {
		t.Error("model change must change hash")
	}

	in = base
	in.Sources = []*brand.SourceConnection{
		{Platform: "web", Capability: "crawl_pages", Identifier: "https://acme.com", Settings: map[string]any{"extra_start_urls": []string{"https://acme.com/docs"}}},
	}
	if h, _ := ComputeInputHash(in); h == h0 {
		t.Error("extra_start_urls change must change hash")
	}

	// 非行为 settings key 不进 hash
	in = base
	in.Sources = []*brand.SourceConnection{
		{Platform: "web", Capability: "crawl_pages", Identifier: "https://acme.com", Settings: map[string]any{"extra_start_urls": []string{"https://acme.com/blog"}, "display_name": "Site"}},
	}
	if h, _ := ComputeInputHash(in); h != h0 {
		t.Error("cosmetic settings must not change hash")
	}
}

func TestComputeInputHash_EmptyDocs(t *testing.T) {
	h, err := ComputeInputHash(HashInputs{PromptVersion: "v1", Model: "m"})
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	h2, _ := ComputeInputHash(HashInputs{Answers: map[string]string{}, Overrides: map[string]any{}, PinnedPaths: []string{}, PromptVersion: "v1", Model: "m"})
	if h != h2 {
		t.Error("missing docs must hash like empty docs")
	}
}
