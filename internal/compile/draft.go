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

package compile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"brandbrain/internal/brand"
	"brandbrain/internal/bundle"
)

// qaCheck QA 报告中的一条检查
type qaCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// BuildDraft LLM 步骤的确定性占位实现：由 onboarding 答案、bundle 摘要
// 和 overrides 拼出 draft 文档与 QA 报告。同一输入逐字节一致。
// overrides 按 dotted-path 覆写到 draft 上，pinned 路径原样记录
func BuildDraft(answers map[string]string, ov *brand.Overrides, summary *bundle.Summary) (draft, qaReport json.RawMessage, err error) {
	if answers == nil {
		answers = map[string]string{}
	}

	doc := map[string]any{
		"brand_identity": map[string]any{
			"name":            answers["brand_name"],
			"industry":        answers["industry"],
			"target_audience": answers["target_audience"],
			"tone_of_voice":   answers["tone_of_voice"],
		},
		"answers": answers,
		"evidence": map[string]any{
			"total_selected":      summary.TotalSelected,
			"transcript_coverage": summary.Transcript.CoverageRatio,
			"web_only_exception":  summary.WebOnlyException,
		},
	}

	pinned := []string{}
	overrideCount := 0
	if ov != nil {
		overrideCount = len(ov.Overrides)
		for _, path := range sortedKeys(ov.Overrides) {
			applyOverride(doc, path, ov.Overrides[path])
		}
		if ov.PinnedPaths != nil {
			pinned = append(pinned, ov.PinnedPaths...)
		}
	}
	doc["pinned_paths"] = pinned

	checks := []qaCheck{
		{
			Name:   "tier0_answers_present",
			OK:     missingTier0(answers) == "",
			Detail: missingTier0(answers),
		},
		{
			Name:   "evidence_selected",
			OK:     summary.TotalSelected > 0,
			Detail: fmt.Sprintf("%d items selected", summary.TotalSelected),
		},
		{
			Name:   "overrides_applied",
			OK:     true,
			Detail: fmt.Sprintf("%d overrides, %d pinned paths", overrideCount, len(pinned)),
		},
	}

	draft, err = json.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	qaReport, err = json.Marshal(map[string]any{"checks": checks})
	if err != nil {
		return nil, nil, err
	}
	return draft, qaReport, nil
}

// applyOverride 沿 dotted-path 覆写；中间段不是对象时整段替换为对象
func applyOverride(doc map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func missingTier0(answers map[string]string) string {
	var missing []string
	for _, q := range brand.Tier0RequiredAnswers {
		if strings.TrimSpace(answers[q]) == "" {
			missing = append(missing, q)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing: " + strings.Join(missing, ", ")
}

// ShallowDiff 新旧快照文档的顶层 key 差异 {added, removed, changed}；
// prev 为 nil 时所有 key 视为 added
func ShallowDiff(prev, next json.RawMessage) (json.RawMessage, error) {
	var prevDoc, nextDoc map[string]json.RawMessage
	if prev != nil {
		if err := json.Unmarshal(prev, &prevDoc); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(next, &nextDoc); err != nil {
		return nil, err
	}
	added, removed, changed := []string{}, []string{}, []string{}
	for k, v := range nextDoc {
		old, ok := prevDoc[k]
		switch {
		case !ok:
			added = append(added, k)
		case !jsonEqual(old, v):
			changed = append(changed, k)
		}
	}
	for k := range prevDoc {
		if _, ok := nextDoc[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return json.Marshal(map[string][]string{"added": added, "removed": removed, "changed": changed})
}

// jsonEqual 经反序列化比较，键序与空白不影响结果
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
