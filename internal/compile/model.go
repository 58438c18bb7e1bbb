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

// Package compile 编译编排：kickoff（gating + 短路 + 入队）、worker 执行体、快照读路径
package compile

import (
	"encoding/json"
	"time"
)

// RunStatus CompileRun 状态；UNCHANGED 只出现在 kickoff 响应里，不落库
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// CompileRun 一次编译；append-once，之后只迁移状态与产物字段
type CompileRun struct {
	ID                 string
	BrandID            string
	Status             RunStatus
	PromptVersion      string
	Model              string
	InputHash          string
	OnboardingSnapshot json.RawMessage
	BundleID           string
	EvidenceStatus     json.RawMessage
	Draft              json.RawMessage
	QAReport           json.RawMessage
	Error              string
	StartedAt          *time.Time
	FinishedAt         *time.Time
	CreatedAt          time.Time
}

// Snapshot 派生状态的版本化快照；写入后不可变
type Snapshot struct {
	ID           string
	BrandID      string
	CompileRunID string
	Snapshot     json.RawMessage
	Diff         json.RawMessage
	CreatedAt    time.Time
}

// SourceReused evidence_status.reused 的条目
type SourceReused struct {
	Source            string  `json:"source"`
	Reason            string  `json:"reason"`
	RunAgeHours       float64 `json:"run_age_hours"`
	ApifyRunID        string  `json:"apify_run_id"`
	NormalizedCreated int     `json:"normalized_created"`
	NormalizedUpdated int     `json:"normalized_updated"`
}

// SourceRefreshed evidence_status.refreshed 的条目
type SourceRefreshed struct {
	Source            string `json:"source"`
	Reason            string `json:"reason"`
	ApifyRunID        string `json:"apify_run_id"`
	ApifyRunStatus    string `json:"apify_run_status"`
	RawItemsCount     int    `json:"raw_items_count"`
	NormalizedCreated int    `json:"normalized_created"`
	NormalizedUpdated int    `json:"normalized_updated"`
}

// SourceSkipped evidence_status.skipped 的条目
type SourceSkipped struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// SourceFailed evidence_status.failed 的条目
type SourceFailed struct {
	Source         string `json:"source"`
	Reason         string `json:"reason"`
	Error          string `json:"error"`
	ApifyRunID     string `json:"apify_run_id,omitempty"`
	ApifyRunStatus string `json:"apify_run_status,omitempty"`
}

// EvidenceStatus 每次编译对各 source 的处理账目；source 顺序稳定
type EvidenceStatus struct {
	Reused    []SourceReused    `json:"reused"`
	Refreshed []SourceRefreshed `json:"refreshed"`
	Skipped   []SourceSkipped   `json:"skipped"`
	Failed    []SourceFailed    `json:"failed"`
}

// NewEvidenceStatus 空账目（序列化为 [] 而非 null）
func NewEvidenceStatus() *EvidenceStatus {
	return &EvidenceStatus{
		Reused:    []SourceReused{},
		Refreshed: []SourceRefreshed{},
		Skipped:   []SourceSkipped{},
		Failed:    []SourceFailed{},
	}
}

// 稳定的 gating 错误码
const (
	CodeMissingOnboarding  = "MISSING_ONBOARDING"
	CodeMissingTier0Answer = "MISSING_TIER0_ANSWER"
	CodeNoEnabledSources   = "NO_ENABLED_SOURCES"
)
