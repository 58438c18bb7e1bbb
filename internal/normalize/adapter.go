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

// Package normalize 归一化：按 actor id 查 adapter，把 RawItem 映射成 NEI 并 upsert
package normalize

import (
	"encoding/json"
	"time"

	"brandbrain/internal/apify"
	"brandbrain/internal/evidence"
)

// Payload adapter 的输出：NEI 的内容字段（brand 与 raw-ref 由 normalizer 补）
type Payload struct {
	Platform     string
	ContentType  string
	ExternalID   string
	CanonicalURL string
	PublishedAt  *time.Time
	Metrics      map[string]float64
	Text         string
	Flags        map[string]bool
}

// Adapter 单条 RawItem → Payload；条目无法归一化（如缺 url）时返回 nil, nil 跳过
type Adapter func(raw json.RawMessage) (*Payload, error)

// Registry actor id → adapter 的闭合注册表；feature flag 决定 gated adapter 是否可见
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry 构建注册表；flags 控制 linkedin profile-posts adapter 是否注册
func NewRegistry(flags apify.Flags) *Registry {
	r := &Registry{adapters: map[string]Adapter{
		"apify~instagram-post-scraper":      instagramPost,
		"apify~instagram-reel-scraper":      instagramReel,
		"apimaestro~linkedin-company-posts": linkedinPost(evidence.ContentTextPost),
		"clockworks~tiktok-profile-scraper": tiktokVideo,
		"streamers~youtube-scraper":         youtubeVideo,
		"apify~website-content-crawler":     webPage,
	}}
	if flags.EnableLinkedinProfilePosts {
		r.adapters["apimaestro~linkedin-profile-posts"] = linkedinPost(evidence.ContentTextPost)
	}
	return r
}

// Lookup 按 actor id 查 adapter；未注册（含被 flag 关闭的）返回 nil
func (r *Registry) Lookup(actorID string) Adapter {
	return r.adapters[actorID]
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
