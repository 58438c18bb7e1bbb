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

// Package bundle 证据打包：从候选 NEI 中确定性选出有界集合并产出 feature report
package bundle

import (
	"brandbrain/internal/evidence"
	"brandbrain/pkg/errors"
)

// Score 平台相关的线性 engagement 分；NEI 的纯函数，web 恒为 0
func Score(item *evidence.NormalizedItem) float64 {
	m := item.Metrics
	switch item.Platform {
	case "instagram":
		return m["likes"] + 2*m["comments"] + 0.01*m["views"]
	case "linkedin":
		return m["reactions"] + 2*m["comments"] + 3*m["shares"]
	case "tiktok":
		return m["likes"] + 2*m["comments"] + 3*m["shares"] + 0.005*m["views"]
	case "youtube":
		return m["likes"] + 2*m["comments"] + 0.002*m["views"]
	case "web":
		return 0
	}
	return 0
}

// pairCaps (platform, content_type) → 上限；未知组合必须响亮失败而不是静默放行
var pairCaps = map[[2]string]int{
	{"instagram", evidence.ContentPost}:    10,
	{"instagram", evidence.ContentReel}:    8,
	{"linkedin", evidence.ContentTextPost}: 8,
	{"tiktok", evidence.ContentShortVideo}: 8,
	{"youtube", evidence.ContentVideo}:     8,
	{"web", evidence.ContentWebPage}:       12,
}

// CapFor 查 (platform, content_type) 的上限；未知组合报 Permanent 错误
func CapFor(platform, contentType string) (int, error) {
	if cap, ok := pairCaps[[2]string{platform, contentType}]; ok {
		return cap, nil
	}
	return 0, errors.Newf(errors.KindPermanent, "no bundle cap for pair (%s, %s)", platform, contentType)
}
