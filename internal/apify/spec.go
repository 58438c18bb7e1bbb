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

package apify

import (
	"encoding/json"

	"brandbrain/internal/brand"
)

// ActorSpec 每 (platform, capability) 一条：actor id、输入构造、抓取上限
type ActorSpec struct {
	ActorID string
	// Cap 三处共用：actor 输入、dataset fetch limit、normalize fetch_limit
	Cap int
	// BuildInput 按 source 与 cap 构造 actor 输入
	BuildInput func(sc *brand.SourceConnection, cap int) (json.RawMessage, error)
}

// Flags 能力开关；未验证的能力默认关闭
type Flags struct {
	EnableLinkedinProfilePosts bool
}

type pairKey struct {
	platform   string
	capability string
}

var registry = map[pairKey]*ActorSpec{
	{brand.PlatformInstagram, brand.CapabilityPosts}: {
		ActorID: "apify~instagram-post-scraper",
		Cap:     30,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"username":     []string{sc.Identifier},
				"resultsLimit": cap,
			})
		},
	},
	{brand.PlatformInstagram, brand.CapabilityReels}: {
		ActorID: "apify~instagram-reel-scraper",
		Cap:     20,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"username":     []string{sc.Identifier},
				"resultsLimit": cap,
			})
		},
	},
	{brand.PlatformLinkedin, brand.CapabilityCompanyPosts}: {
		ActorID: "apimaestro~linkedin-company-posts",
		Cap:     20,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"company_name": sc.Identifier,
				"limit":        cap,
			})
		},
	},
	{brand.PlatformLinkedin, brand.CapabilityProfilePosts}: {
		ActorID: "apimaestro~linkedin-profile-posts",
		Cap:     20,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"username": sc.Identifier,
				"limit":    cap,
			})
		},
	},
	{brand.PlatformTiktok, brand.CapabilityProfileVideos}: {
		ActorID: "clockworks~tiktok-profile-scraper",
		Cap:     20,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"profiles":              []string{sc.Identifier},
				"resultsPerPage":        cap,
				"shouldDownload":        false,
				"profileScrapeSections": []string{"videos"},
			})
		},
	},
	{brand.PlatformYoutube, brand.CapabilityChannelVideos}: {
		ActorID: "streamers~youtube-scraper",
		Cap:     20,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"startUrls":  []map[string]string{{"url": sc.Identifier}},
				"maxResults": cap,
			})
		},
	},
	{brand.PlatformWeb, brand.CapabilityCrawlPages}: {
		ActorID: "apify~website-content-crawler",
		Cap:     40,
		BuildInput: func(sc *brand.SourceConnection, cap int) (json.RawMessage, error) {
			starts := []map[string]string{{"url": sc.Identifier}}
			if extra, ok := sc.Settings["extra_start_urls"]; ok {
				switch urls := extra.(type) {
				case []string:
					for _, u := range urls {
						starts = append(starts, map[string]string{"url": u})
					}
				case []any:
					for _, u := range urls {
						if s, ok := u.(string); ok {
							starts = append(starts, map[string]string{"url": s})
						}
					}
				}
			}
			return json.Marshal(map[string]any{
				"startUrls":     starts,
				"maxCrawlPages": cap,
				"crawlerType":   "playwright:adaptive",
				"saveMarkdown":  false,
			})
		},
	},
}

// Resolve 查 (platform, capability) 对应的 ActorSpec；未注册返回 nil
func Resolve(platform, capability string) *ActorSpec {
	return registry[pairKey{platform, capability}]
}

// IsCapabilityEnabled 能力是否放行；linkedin.profile_posts 未验证，默认由 flag 关闭
func IsCapabilityEnabled(platform, capability string, flags Flags) bool {
	if platform == brand.PlatformLinkedin && capability == brand.CapabilityProfilePosts {
		return flags.EnableLinkedinProfilePosts
	}
	return Resolve(platform, capability) != nil
}
