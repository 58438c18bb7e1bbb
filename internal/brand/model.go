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

// Package brand 租户（Brand）域：onboarding、source 连接、overrides；读写 API 归外部，这里只提供 compile 所需的读路径与 overrides merge
package brand

import "time"

// Platform 内容平台
const (
	PlatformInstagram = "instagram"
	PlatformLinkedin  = "linkedin"
	PlatformTiktok    = "tiktok"
	PlatformYoutube   = "youtube"
	PlatformWeb       = "web"
)

// Capability 平台内的内容流
const (
	CapabilityPosts         = "posts"
	CapabilityReels         = "reels"
	CapabilityCompanyPosts  = "company_posts"
	CapabilityProfilePosts  = "profile_posts"
	CapabilityProfileVideos = "profile_videos"
	CapabilityChannelVideos = "channel_videos"
	CapabilityCrawlPages    = "crawl_pages"
)

// Brand 租户实体
type Brand struct {
	ID        string
	OrgID     string
	Name      string
	Slug      string
	DeletedAt time.Time
	CreatedAt time.Time
}

// Onboarding 每租户一份；Tier-0 答案为 gating 必填项
type Onboarding struct {
	BrandID   string
	Tier      int
	Answers   map[string]string
	UpdatedAt time.Time
}

// Tier0RequiredAnswers gating 必填的问题 id
var Tier0RequiredAnswers = []string{"brand_name", "industry", "target_audience", "tone_of_voice"}

// SourceConnection 租户启用的外部内容源；(brand, platform, capability, identifier) 唯一
type SourceConnection struct {
	ID         string
	BrandID    string
	Platform   string
	Capability string
	Identifier string
	IsEnabled  bool
	Settings   map[string]any
	CreatedAt  time.Time
}

// Key 返回 "<platform>.<capability>"，evidence_status 的 source 字段用它
func (s *SourceConnection) Key() string {
	return s.Platform + "." + s.Capability
}

// Overrides 每租户一份：dotted-path → 值 的用户覆写 + 不随重算变化的 pinned 路径
type Overrides struct {
	BrandID     string
	Overrides   map[string]any
	PinnedPaths []string
	UpdatedAt   time.Time
}

// MergeOverrides 按 key 合并 patch：值为 null 时删除，否则覆盖；base 可为 nil。返回新 map，不修改入参
func MergeOverrides(base map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
