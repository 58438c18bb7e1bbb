package evidence

import (
	"context"
	"testing"
	"time"

	"brandbrain/pkg/errors"
)

func ts(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func TestUpsert_DedupeByExternalID(t *testing.T) {
	ctx := context.Background()
	s := NewItemStoreMem()
	a := &NormalizedItem{
		BrandID: "b1", Platform: "instagram", ContentType: ContentPost,
		ExternalID: "ig-1", CanonicalURL: "https://instagram.com/p/1",
		Metrics: map[string]float64{"likes": 10},
		RawRefs: []RawRef{{ActorRunID: "r1", ItemIndex: 0}},
	}
	created, err := s.Upsert(ctx, a)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Error("first upsert should create")
	}
	got, _ := s.Get(ctx, a.ID)
	firstCreatedAt := got.CreatedAt

	// 同去重键再次 upsert：合并而非新建
	b := &NormalizedItem{
		BrandID: "b1", Platform: "instagram", ContentType: ContentPost,
		ExternalID: "ig-1", CanonicalURL: "https://instagram.com/p/1",
		Metrics: map[string]float64{"likes": 25},
		RawRefs: []RawRef{{ActorRunID: "r2", ItemIndex: 3}, {ActorRunID: "r1", ItemIndex: 0}},
	}
	created, err = s.Upsert(ctx, b)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created {
		t.Error("second upsert should merge")
	}
	if b.ID != a.ID {
		t.Errorf("merged id = %s, want %s", b.ID, a.ID)
	}
	got, _ = s.Get(ctx, a.ID)
	if got.Metrics["likes"] != 25 {
		t.Errorf("metrics not refreshed: %v", got.Metrics)
	}
	if len(got.RawRefs) != 2 {
		t.Errorf("raw_refs should merge without duplicates: %v", got.RawRefs)
	}
	if !got.CreatedAt.Equal(firstCreatedAt) {
		t.Error("created_at must be preserved on merge")
	}
}

func TestUpsert_WebKeyedByCanonicalURL(t *testing.T) {
	ctx := context.Background()
	s := NewItemStoreMem()
	a := &NormalizedItem{BrandID: "b1", Platform: "web", ContentType: ContentWebPage, CanonicalURL: "https://example.com/about"}
	if created, _ := s.Upsert(ctx, a); !created {
		t.Fatal("first web upsert should create")
	}
	b := &NormalizedItem{BrandID: "b1", Platform: "web", ContentType: ContentWebPage, CanonicalURL: "https://example.com/about", Text: "updated"}
	if created, _ := s.Upsert(ctx, b); created {
		t.Error("same canonical_url should merge")
	}
	c := &NormalizedItem{BrandID: "b1", Platform: "web", ContentType: ContentWebPage, CanonicalURL: "https://example.com/pricing"}
	if created, _ := s.Upsert(ctx, c); !created {
		t.Error("different canonical_url should create")
	}
}

func TestUpsert_NonWebRequiresExternalID(t *testing.T) {
	ctx := context.Background()
	s := NewItemStoreMem()
	_, err := s.Upsert(ctx, &NormalizedItem{BrandID: "b1", Platform: "tiktok", ContentType: ContentShortVideo, CanonicalURL: "https://tiktok.com/v/1"})
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("expected Validation error, got %v", err)
	}
}

func TestReplaceRawItems_Replayable(t *testing.T) {
	ctx := context.Background()
	s := NewRunStoreMem()
	run := &ActorRun{BrandID: "b1", SourceConnectionID: "s1", ActorID: "apify/instagram-scraper", Status: RunRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	payloads := [][]byte{[]byte(`{"id":"1"}`), []byte(`{"id":"2"}`), []byte(`{"id":"3"}`)}
	for i := 0; i < 2; i++ {
		if err := s.ReplaceRawItems(ctx, run.ID, payloads); err != nil {
			t.Fatalf("ReplaceRawItems: %v", err)
		}
	}
	items, err := s.ListRawItems(ctx, run.ID, 10)
	if err != nil {
		t.Fatalf("ListRawItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items after replay, got %d", len(items))
	}
	for i, it := range items {
		if it.ItemIndex != i {
			t.Errorf("item_index[%d] = %d", i, it.ItemIndex)
		}
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.RawItemCount != 3 {
		t.Errorf("raw_item_count = %d", got.RawItemCount)
	}
}

func TestLatestSucceeded_IgnoresNonTerminalAndFailed(t *testing.T) {
	ctx := context.Background()
	s := NewRunStoreMem()
	mk := func(id string, status RunStatus, started time.Time) {
		_ = s.CreateRun(ctx, &ActorRun{ID: id, SourceConnectionID: "s1", Status: status, StartedAt: started})
	}
	base := time.Now()
	mk("r1", RunSucceeded, base.Add(-3*time.Hour))
	mk("r2", RunFailed, base.Add(-2*time.Hour))
	mk("r3", RunSucceeded, base.Add(-1*time.Hour))
	mk("r4", RunRunning, base)
	got, err := s.LatestSucceeded(ctx, "s1")
	if err != nil {
		t.Fatalf("LatestSucceeded: %v", err)
	}
	if got == nil || got.ID != "r3" {
		t.Errorf("latest succeeded = %+v, want r3", got)
	}
	none, _ := s.LatestSucceeded(ctx, "s2")
	if none != nil {
		t.Errorf("expected nil for unknown source, got %+v", none)
	}
}

func TestSlices_Ordering(t *testing.T) {
	ctx := context.Background()
	s := NewItemStoreMem()
	seed := []*NormalizedItem{
		{BrandID: "b1", Platform: "instagram", ContentType: ContentPost, ExternalID: "a", CanonicalURL: "https://ig/a", PublishedAt: ts("2026-08-01T00:00:00Z"), Metrics: map[string]float64{"likes": 5}},
		{BrandID: "b1", Platform: "instagram", ContentType: ContentPost, ExternalID: "b", CanonicalURL: "https://ig/b", PublishedAt: ts("2026-08-10T00:00:00Z"), Metrics: map[string]float64{"likes": 1}},
		{BrandID: "b1", Platform: "instagram", ContentType: ContentPost, ExternalID: "c", CanonicalURL: "https://ig/c", Metrics: map[string]float64{"likes": 100}},
	}
	for _, it := range seed {
		if _, err := s.Upsert(ctx, it); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	recent, err := s.RecentSlice(ctx, "b1", "instagram", ContentPost, 10)
	if err != nil {
		t.Fatalf("RecentSlice: %v", err)
	}
	// published_at DESC，null 最后
	wantRecent := []string{"b", "a", "c"}
	for i, it := range recent {
		if it.ExternalID != wantRecent[i] {
			t.Errorf("recent[%d] = %s, want %s", i, it.ExternalID, wantRecent[i])
		}
	}
	eng, err := s.EngagementSlice(ctx, "b1", "instagram", ContentPost, 2)
	if err != nil {
		t.Fatalf("EngagementSlice: %v", err)
	}
	if len(eng) != 2 || eng[0].ExternalID != "c" || eng[1].ExternalID != "a" {
		t.Errorf("engagement slice wrong: %v", ids(eng))
	}
}

func TestPairsAndHasNonWeb(t *testing.T) {
	ctx := context.Background()
	s := NewItemStoreMem()
	_, _ = s.Upsert(ctx, &NormalizedItem{BrandID: "b1", Platform: "web", ContentType: ContentWebPage, CanonicalURL: "https://x/1"})
	_, _ = s.Upsert(ctx, &NormalizedItem{BrandID: "b1", Platform: "web", ContentType: ContentWebPage, CanonicalURL: "https://x/2"})
	_, _ = s.Upsert(ctx, &NormalizedItem{BrandID: "b1", Platform: "instagram", ContentType: ContentReel, ExternalID: "r1", CanonicalURL: "https://ig/r1"})
	// 候选集谓词限定 platform ∈ enabled
	pairs, err := s.Pairs(ctx, "b1", []string{"web"})
	if err != nil {
		t.Fatalf("Pairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Platform != "web" || pairs[0].Eligible != 2 {
		t.Errorf("pairs = %+v", pairs)
	}
	ok, _ := s.HasNonWeb(ctx, "b1", []string{"web"})
	if ok {
		t.Error("web-only candidate set should report no non-web items")
	}
	ok, _ = s.HasNonWeb(ctx, "b1", []string{"web", "instagram"})
	if !ok {
		t.Error("instagram item should count as non-web")
	}
}

func ids(list []*NormalizedItem) []string {
	out := make([]string, 0, len(list))
	for _, it := range list {
		out = append(out, it.ExternalID)
	}
	return out
}
