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

package bundle

import (
	"context"
	"sort"

	"brandbrain/internal/evidence"
)

// Config bundler 参数
type Config struct {
	RecentM                int  `json:"recent_m"`
	TopEngagementN         int  `json:"top_engagement_n"`
	GlobalCap              int  `json:"global_cap"`
	ExcludeCollectionPages bool `json:"exclude_collection_pages"`
	// ExcludeUnvalidatedLinkedinProfilePosts 仅记录在 criteria 中；
	// NEI 不携带 capability，实际拦截在抓取侧的能力开关
	ExcludeUnvalidatedLinkedinProfilePosts bool `json:"exclude_unvalidated_linkedin_profile_posts"`
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		RecentM:                                3,
		TopEngagementN:                         5,
		GlobalCap:                              40,
		ExcludeCollectionPages:                 true,
		ExcludeUnvalidatedLinkedinProfilePosts: true,
	}
}

// PairReport feature report 中每 (platform, content_type) 一条
type PairReport struct {
	Platform                string `json:"platform"`
	ContentType             string `json:"content_type"`
	Eligible                int    `json:"eligible"`
	Selected                int    `json:"selected"`
	Cap                     int    `json:"cap"`
	ExcludedCollectionPages int    `json:"excluded_collection_pages"`
}

// TranscriptCoverage 选中条目的转写覆盖率
type TranscriptCoverage struct {
	ItemsWithTranscript int     `json:"items_with_transcript"`
	Total               int     `json:"total"`
	CoverageRatio       float64 `json:"coverage_ratio"`
}

// Summary feature report；与 item_ids 一起随 bundle 持久化
type Summary struct {
	Pairs            []PairReport       `json:"pairs"`
	TotalSelected    int                `json:"total_selected"`
	GlobalCapApplied bool               `json:"global_cap_applied"`
	WebOnlyException bool               `json:"web_only_exception"`
	Transcript       TranscriptCoverage `json:"transcript"`
	Criteria         Config             `json:"criteria"`
}

// Output 一次打包的结果；ItemIDs 的顺序本身是约定的一部分
type Output struct {
	ItemIDs []string
	Items   []*evidence.NormalizedItem
	Summary *Summary
}

// Bundler 确定性证据打包器
type Bundler struct {
	items evidence.ItemStore
	cfg   Config
}

// NewBundler 创建 Bundler
func NewBundler(items evidence.ItemStore, cfg Config) *Bundler {
	return &Bundler{items: items, cfg: cfg}
}

// fetchCap 每 (platform, content_type) 的候选拉取上限；
// 必须远大于 M+N 又不能随 source 体量增长
func (b *Bundler) fetchCap() int {
	n := 4 * (b.cfg.RecentM + b.cfg.TopEngagementN)
	if n < 100 {
		return 100
	}
	return n
}

// Build 按候选集（brand × enabled platforms）打包。
// 同一候选集、criteria 与 caps 下输出逐字节一致
func (b *Bundler) Build(ctx context.Context, brandID string, enabledPlatforms []string) (*Output, error) {
	pairs, err := b.items.Pairs(ctx, brandID, enabledPlatforms)
	if err != nil {
		return nil, err
	}
	hasNonWeb, err := b.items.HasNonWeb(ctx, brandID, enabledPlatforms)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Pairs: []PairReport{}, Criteria: b.cfg}
	var union []*evidence.NormalizedItem

	for _, pair := range pairs {
		capPC, err := CapFor(pair.Platform, pair.ContentType)
		if err != nil {
			return nil, err
		}
		report := PairReport{
			Platform:    pair.Platform,
			ContentType: pair.ContentType,
			Eligible:    pair.Eligible,
			Cap:         capPC,
		}

		recent, err := b.items.RecentSlice(ctx, brandID, pair.Platform, pair.ContentType, b.fetchCap())
		if err != nil {
			return nil, err
		}
		engaged, err := b.items.EngagementSlice(ctx, brandID, pair.Platform, pair.ContentType, b.fetchCap())
		if err != nil {
			return nil, err
		}

		// web 的列表页过滤：有非 web 证据时剔除；纯 web 时保留（web-only exception）
		if pair.Platform == "web" && b.cfg.ExcludeCollectionPages {
			if hasNonWeb {
				var excluded int
				recent, excluded = dropCollectionPages(recent)
				engaged, _ = dropCollectionPages(engaged)
				report.ExcludedCollectionPages = excluded
				report.Eligible -= excluded
			} else {
				summary.WebOnlyException = true
			}
		}

		// R：最近 M 条
		r := recent
		if len(r) > b.cfg.RecentM {
			r = r[:b.cfg.RecentM]
		}
		inR := make(map[string]bool, len(r))
		for _, it := range r {
			inR[it.ID] = true
		}

		// S：余下按精确分取前 N
		var s []*evidence.NormalizedItem
		for _, it := range engaged {
			if !inR[it.ID] {
				s = append(s, it)
			}
		}
		sort.SliceStable(s, func(i, j int) bool { return scoreLess(s[i], s[j]) })
		if len(s) > b.cfg.TopEngagementN {
			s = s[:b.cfg.TopEngagementN]
		}

		// R ∪ S，保持 R 在前，按 pair cap 截断
		selected := append(append([]*evidence.NormalizedItem{}, r...), s...)
		limit := capPC
		if m := b.cfg.RecentM + b.cfg.TopEngagementN; m < limit {
			limit = m
		}
		if len(selected) > limit {
			selected = selected[:limit]
		}
		report.Selected = len(selected)
		summary.Pairs = append(summary.Pairs, report)
		union = append(union, selected...)
	}

	// 全局上限：超了就全局重排再截断
	if len(union) > b.cfg.GlobalCap {
		sort.SliceStable(union, func(i, j int) bool { return scoreLess(union[i], union[j]) })
		union = union[:b.cfg.GlobalCap]
		summary.GlobalCapApplied = true
		recount(summary, union)
	}

	// 最终顺序：按 platform 分组，组内 (score DESC, published_at DESC NULLS LAST, canonical_url ASC)
	sort.SliceStable(union, func(i, j int) bool {
		if union[i].Platform != union[j].Platform {
			return union[i].Platform < union[j].Platform
		}
		return scoreLess(union[i], union[j])
	})

	summary.TotalSelected = len(union)
	withTranscript := 0
	ids := make([]string, 0, len(union))
	for _, it := range union {
		ids = append(ids, it.ID)
		if it.Flags["has_transcript"] {
			withTranscript++
		}
	}
	summary.Transcript = TranscriptCoverage{ItemsWithTranscript: withTranscript, Total: len(union)}
	if len(union) > 0 {
		summary.Transcript.CoverageRatio = float64(withTranscript) / float64(len(union))
	}

	return &Output{ItemIDs: ids, Items: union, Summary: summary}, nil
}

// scoreLess (score DESC, published_at DESC NULLS LAST, canonical_url ASC)
func scoreLess(a, b *evidence.NormalizedItem) bool {
	sa, sb := Score(a), Score(b)
	if sa != sb {
		return sa > sb
	}
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

func dropCollectionPages(list []*evidence.NormalizedItem) ([]*evidence.NormalizedItem, int) {
	var out []*evidence.NormalizedItem
	excluded := 0
	for _, it := range list {
		if it.Flags["is_collection_page"] {
			excluded++
			continue
		}
		out = append(out, it)
	}
	return out, excluded
}

// recount 全局截断后修正各 pair 的 selected
func recount(summary *Summary, union []*evidence.NormalizedItem) {
	counts := make(map[[2]string]int)
	for _, it := range union {
		counts[[2]string{it.Platform, it.ContentType}]++
	}
	for i := range summary.Pairs {
		p := &summary.Pairs[i]
		p.Selected = counts[[2]string{p.Platform, p.ContentType}]
	}
}
