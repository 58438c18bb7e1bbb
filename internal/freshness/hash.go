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

package freshness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"brandbrain/internal/brand"
)

// ingestionSettingKeys settings 中影响抓取行为的 key；其余 key 不进 hash
var ingestionSettingKeys = []string{"extra_start_urls"}

// HashInputs compute-input-hash 的四个成分
type HashInputs struct {
	Answers       map[string]string
	Overrides     map[string]any
	PinnedPaths   []string
	Sources       []*brand.SourceConnection
	PromptVersion string
	Model         string
}

type sourceProjection struct {
	Platform       string         `json:"platform"`
	Capability     string         `json:"capability"`
	Identifier     string         `json:"identifier"`
	SettingsSubset map[string]any `json:"settings_subset"`
}

// ComputeInputHash SHA-256（hex）over 稳定序列化的输入：
// onboarding answers、overrides + 排序后的 pinned paths、
// enabled sources 的行为投影、{prompt_version, model}。
// encoding/json 对 map key 排序，字典序不会泄漏进 hash；
// answers/overrides 缺失时按空文档计算
func ComputeInputHash(in HashInputs) (string, error) {
	answers := in.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	overrides := in.Overrides
	if overrides == nil {
		overrides = map[string]any{}
	}
	pinned := append([]string(nil), in.PinnedPaths...)
	sort.Strings(pinned)
	if pinned == nil {
		pinned = []string{}
	}

	projected := make([]sourceProjection, 0, len(in.Sources))
	for _, sc := range in.Sources {
		subset := map[string]any{}
		for _, k := range ingestionSettingKeys {
			if v, ok := sc.Settings[k]; ok {
				subset[k] = v
			}
		}
		projected = append(projected, sourceProjection{
			Platform:       sc.Platform,
			Capability:     sc.Capability,
			Identifier:     sc.Identifier,
			SettingsSubset: subset,
		})
	}
	sort.Slice(projected, func(i, j int) bool {
		a, b := projected[i], projected[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.Capability != b.Capability {
			return a.Capability < b.Capability
		}
		return a.Identifier < b.Identifier
	})

	doc := struct {
		Answers   map[string]string  `json:"answers"`
		Overrides map[string]any     `json:"overrides"`
		Pinned    []string           `json:"pinned_paths"`
		Sources   []sourceProjection `json:"sources"`
		Prompt    struct {
			PromptVersion string `json:"prompt_version"`
			Model         string `json:"model"`
		} `json:"prompt"`
	}{
		Answers:   answers,
		Overrides: canonicalize(overrides).(map[string]any),
		Pinned:    pinned,
		Sources:   projected,
	}
	doc.Prompt.PromptVersion = in.PromptVersion
	doc.Prompt.Model = in.Model

	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize 经 JSON 往返把任意值归一到 map[string]any/[]any/float64/string/bool/nil，
// 保证同一语义值（如 int 1 与 float64 1）序列化一致
func canonicalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}
