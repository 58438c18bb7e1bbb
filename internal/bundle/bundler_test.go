package bundle

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"brandbrain/internal/evidence"
	"brandbrain/pkg/errors"
)

func ts(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func seed(t *testing.T, s *evidence.ItemStoreMem, it *evidence.NormalizedItem) {
	t.Helper()
	if _, err := s.Upsert(context.Background(), it); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func igPost(id string, published string, likes float64) *evidence.NormalizedItem {
	return &evidence.NormalizedItem{
		BrandID: "b1", Platform: "instagram", ContentType: evidence.ContentPost,
		ExternalID: id, CanonicalURL: "https://instagram.com/p/" + id,
		PublishedAt: ts(published),
		Metrics:     map[string]float64{"likes": likes},
	}
}

func webPage(url string, collection bool) *evidence.NormalizedItem {
	return &evidence.NormalizedItem{
		BrandID: "b1", Platform: "web", ContentType: evidence.ContentWebPage,
		CanonicalURL: url,
		Metrics:      map[string]float64{},
		Flags:        map[string]bool{"is_collection_page": collection},
	}
}

func TestBuild_RecentPlusTopEngagement(t *testing.T) {
	s := evidence.NewItemStoreMem()
	// 10 条：p0 最旧…p9 最新；likes 与时间反相关
	for i := 0; i < 10; i++ {
		seed(t, s, igPost(fmt.Sprintf("p%d", i), fmt.Sprintf("2026-08-%02dT00:00:00Z", i+1), float64(100-10*i)))
	}
	b := NewBundler(s, DefaultConfig())
	out, err := b.Build(context.Background(), "b1", []string{"instagram"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// R = 最近 3（p9 p8 p7），S = 余下按 likes 前 5（p0..p4）
	if len(out.Items) != 8 {
		t.Fatalf("selected = %d, want 8", len(out.Items))
	}
	got := map[string]bool{}
	for _, it := range out.Items {
		got[it.ExternalID] = true
	}
	for _, want := range []string{"p9", "p8", "p7", "p0", "p1", "p2", "p3", "p4"} {
		if !got[want] {
			t.Errorf("missing %s in selection %v", want, got)
		}
	}
	rep := out.Summary.Pairs[0]
	if rep.Eligible != 10 || rep.Selected != 8 || rep.Cap != 10 {
		t.Errorf("pair report = %+v", rep)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	s := evidence.NewItemStoreMem()
	for i := 0; i < 12; i++ {
		seed(t, s, igPost(fmt.Sprintf("p%d", i), fmt.Sprintf("2026-08-%02dT00:00:00Z", i+1), float64(i%4)*10))
	}
	seed(t, s, webPage("https://acme.com/about", false))
	seed(t, s, webPage("https://acme.com/team", false))
	b := NewBundler(s, DefaultConfig())
	first, err := b.Build(context.Background(), "b1", []string{"instagram", "web"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := b.Build(context.Background(), "b1", []string{"instagram", "web"})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !reflect.DeepEqual(first.ItemIDs, again.ItemIDs) {
			t.Fatalf("item_ids order not deterministic:\n%v\n%v", first.ItemIDs, again.ItemIDs)
		}
		if !reflect.DeepEqual(first.Summary, again.Summary) {
			t.Fatal("summary not deterministic")
		}
	}
}

func TestBuild_CollectionPagesExcludedWithNonWeb(t *testing.T) {
	s := evidence.NewItemStoreMem()
	seed(t, s, igPost("p1", "2026-08-01T00:00:00Z", 5))
	seed(t, s, webPage("https://acme.com/about", false))
	seed(t, s, webPage("https://acme.com/blog", true))
	b := NewBundler(s, DefaultConfig())
	out, err := b.Build(context.Background(), "b1", []string{"instagram", "web"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, it := range out.Items {
		if it.Flags["is_collection_page"] {
			t.Error("collection page leaked into bundle")
		}
	}
	if out.Summary.WebOnlyException {
		t.Error("web-only exception must not fire with non-web evidence")
	}
	var webReport *PairReport
	for i := range out.Summary.Pairs {
		if out.Summary.Pairs[i].Platform == "web" {
			webReport = &out.Summary.Pairs[i]
		}
	}
	if webReport == nil || webReport.ExcludedCollectionPages != 1 {
		t.Errorf("web report = %+v", webReport)
	}
}

func TestBuild_WebOnlyException(t *testing.T) {
	s := evidence.NewItemStoreMem()
	seed(t, s, webPage("https://acme.com/about", false))
	seed(t, s, webPage("https://acme.com/blog", true))
	// instagram 条目存在但不在 enabled platforms 里：谓词必须一致
	seed(t, s, igPost("p1", "2026-08-01T00:00:00Z", 5))
	b := NewBundler(s, DefaultConfig())
	out, err := b.Build(context.Background(), "b1", []string{"web"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !out.Summary.WebOnlyException {
		t.Error("web-only candidate set should trigger the exception")
	}
	if len(out.Items) != 2 {
		t.Errorf("collection page should be kept under the exception, got %d items", len(out.Items))
	}
}

func TestBuild_GlobalCapResort(t *testing.T) {
	s := evidence.NewItemStoreMem()
	for i := 0; i < 8; i++ {
		seed(t, s, igPost(fmt.Sprintf("ig%d", i), fmt.Sprintf("2026-08-%02dT00:00:00Z", i+1), float64(50+i)))
	}
	for i := 0; i < 8; i++ {
		seed(t, s, &evidence.NormalizedItem{
			BrandID: "b1", Platform: "tiktok", ContentType: evidence.ContentShortVideo,
			ExternalID: fmt.Sprintf("tt%d", i), CanonicalURL: fmt.Sprintf("https://tiktok.com/v/%d", i),
			PublishedAt: ts(fmt.Sprintf("2026-08-%02dT00:00:00Z", i+1)),
			Metrics:     map[string]float64{"likes": float64(i)},
		})
	}
	cfg := DefaultConfig()
	cfg.GlobalCap = 10
	b := NewBundler(s, cfg)
	out, err := b.Build(context.Background(), "b1", []string{"instagram", "tiktok"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Items) != 10 {
		t.Fatalf("global cap not applied: %d", len(out.Items))
	}
	if !out.Summary.GlobalCapApplied {
		t.Error("summary should record global cap")
	}
	// selected 合计与截断后一致
	total := 0
	for _, p := range out.Summary.Pairs {
		total += p.Selected
	}
	if total != 10 {
		t.Errorf("pair selected counts = %d, want 10", total)
	}
}

func TestBuild_UnknownPairFailsLoudly(t *testing.T) {
	s := evidence.NewItemStoreMem()
	seed(t, s, &evidence.NormalizedItem{
		BrandID: "b1", Platform: "instagram", ContentType: "story",
		ExternalID: "x1", CanonicalURL: "https://instagram.com/s/x1",
	})
	b := NewBundler(s, DefaultConfig())
	_, err := b.Build(context.Background(), "b1", []string{"instagram"})
	if errors.KindOf(err) != errors.KindPermanent {
		t.Fatalf("unknown pair must fail, got %v", err)
	}
}

func TestBuild_FinalOrderGroupedByPlatform(t *testing.T) {
	s := evidence.NewItemStoreMem()
	seed(t, s, igPost("p1", "2026-08-05T00:00:00Z", 10))
	seed(t, s, webPage("https://acme.com/a", false))
	seed(t, s, igPost("p2", "2026-08-06T00:00:00Z", 90))
	seed(t, s, webPage("https://acme.com/b", false))
	b := NewBundler(s, DefaultConfig())
	out, err := b.Build(context.Background(), "b1", []string{"instagram", "web"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var order []string
	for _, it := range out.Items {
		order = append(order, it.Platform+":"+it.CanonicalURL)
	}
	want := []string{
		"instagram:https://instagram.com/p/p2", // score 90
		"instagram:https://instagram.com/p/p1",
		"web:https://acme.com/a", // web score 0，URL ASC
		"web:https://acme.com/b",
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("final order:\n got %v\nwant %v", order, want)
	}
	if out.Summary.Transcript.Total != 4 || out.Summary.Transcript.CoverageRatio != 0 {
		t.Errorf("transcript coverage = %+v", out.Summary.Transcript)
	}
}
