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

// Package evidence 证据域：ActorRun（一次上游抓取）、RawItem（原始条目）、NormalizedItem（归一化证据）
package evidence

import (
	"encoding/json"
	"time"
)

// RunStatus ActorRun 状态（闭集）
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunTimedOut  RunStatus = "TIMED_OUT"
	RunAborted   RunStatus = "ABORTED"
)

// Terminal 是否终态
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunTimedOut, RunAborted:
		return true
	}
	return false
}

// ActorRun 一次 actor 调用；append-once，之后只迁移状态
type ActorRun struct {
	ID                 string
	BrandID            string
	SourceConnectionID string
	ActorID            string
	Input              json.RawMessage
	ApifyRunID         string
	ApifyDatasetID     string
	Status             RunStatus
	ErrorSummary       string
	RawItemCount       int
	StartedAt          time.Time
	FinishedAt         time.Time
}

// RawItem dataset 中的一条原始 JSON；由所属 ActorRun 级联删除
type RawItem struct {
	ActorRunID string
	ItemIndex  int
	Payload    json.RawMessage
}

// ContentType 归一化条目的内容类型
const (
	ContentPost       = "post"
	ContentReel       = "reel"
	ContentTextPost   = "text_post"
	ContentShortVideo = "short_video"
	ContentVideo      = "video"
	ContentWebPage    = "web_page"
)

// RawRef 归一化条目回指原始条目
type RawRef struct {
	ActorRunID string `json:"actor_run_id"`
	ItemIndex  int    `json:"item_index"`
}

// NormalizedItem 规范化证据条目（NEI）。去重键：
// 非 web：(brand, platform, content_type, external_id)，external_id 必填；
// web：(brand, platform, content_type, canonical_url)
type NormalizedItem struct {
	ID           string
	BrandID      string
	Platform     string
	ContentType  string
	ExternalID   string // 空串即 null；非 web 必填
	CanonicalURL string
	PublishedAt  *time.Time
	Metrics      map[string]float64
	Text         string
	Flags        map[string]bool
	RawRefs      []RawRef
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRawRef 是否已包含该回指
func (n *NormalizedItem) HasRawRef(ref RawRef) bool {
	for _, r := range n.RawRefs {
		if r == ref {
			return true
		}
	}
	return false
}
