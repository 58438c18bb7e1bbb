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

package evidence

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandbrain/pkg/errors"
)

// RunStorePg Postgres 实现：actor_runs + raw_items
type RunStorePg struct {
	pool *pgxpool.Pool
}

// NewRunStorePg 创建基于 PostgreSQL 的 RunStore
func NewRunStorePg(pool *pgxpool.Pool) *RunStorePg {
	return &RunStorePg{pool: pool}
}

func (s *RunStorePg) CreateRun(ctx context.Context, run *ActorRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	input := run.Input
	if input == nil {
		input = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actor_runs (id, brand_id, source_connection_id, actor_id, input, apify_run_id, apify_dataset_id, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.BrandID, run.SourceConnectionID, run.ActorID, []byte(input),
		nullStr(run.ApifyRunID), nullStr(run.ApifyDatasetID), string(run.Status), run.StartedAt)
	return err
}

func (s *RunStorePg) MarkTerminal(ctx context.Context, runID string, status RunStatus, errSummary string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE actor_runs SET status = $1, error_summary = $2, finished_at = now() WHERE id = $3`,
		string(status), nullStr(errSummary), runID)
	return err
}

func (s *RunStorePg) LatestSucceeded(ctx context.Context, sourceConnectionID string) (*ActorRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, source_connection_id, actor_id, input, apify_run_id, apify_dataset_id, status, error_summary, raw_item_count, started_at, finished_at
		 FROM actor_runs
		 WHERE source_connection_id = $1 AND status = $2
		 ORDER BY started_at DESC LIMIT 1`,
		sourceConnectionID, string(RunSucceeded))
	return scanRun(row)
}

func (s *RunStorePg) GetRun(ctx context.Context, runID string) (*ActorRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, source_connection_id, actor_id, input, apify_run_id, apify_dataset_id, status, error_summary, raw_item_count, started_at, finished_at
		 FROM actor_runs WHERE id = $1`,
		runID)
	return scanRun(row)
}

func scanRun(row pgx.Row) (*ActorRun, error) {
	var r ActorRun
	var input []byte
	var apifyRunID, apifyDatasetID, errSummary *string
	var status string
	var finishedAt *time.Time
	err := row.Scan(&r.ID, &r.BrandID, &r.SourceConnectionID, &r.ActorID, &input,
		&apifyRunID, &apifyDatasetID, &status, &errSummary, &r.RawItemCount, &r.StartedAt, &finishedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Input = input
	r.Status = RunStatus(status)
	if apifyRunID != nil {
		r.ApifyRunID = *apifyRunID
	}
	if apifyDatasetID != nil {
		r.ApifyDatasetID = *apifyDatasetID
	}
	if errSummary != nil {
		r.ErrorSummary = *errSummary
	}
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	return &r, nil
}

// ReplaceRawItems 单事务 delete + 批量 insert + 更新计数；重放同一批 payload 是不动点
func (s *RunStorePg) ReplaceRawItems(ctx context.Context, runID string, payloads [][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM raw_items WHERE actor_run_id = $1`, runID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, p := range payloads {
		batch.Queue(`INSERT INTO raw_items (actor_run_id, item_index, payload) VALUES ($1, $2, $3)`, runID, i, p)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE actor_runs SET raw_item_count = $1 WHERE id = $2`, len(payloads), runID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *RunStorePg) ListRawItems(ctx context.Context, runID string, limit int) ([]*RawItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT actor_run_id, item_index, payload FROM raw_items WHERE actor_run_id = $1 ORDER BY item_index LIMIT $2`,
		runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RawItem
	for rows.Next() {
		var it RawItem
		var payload []byte
		if err := rows.Scan(&it.ActorRunID, &it.ItemIndex, &payload); err != nil {
			return nil, err
		}
		it.Payload = payload
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ItemStorePg Postgres 实现：normalized_evidence_items
type ItemStorePg struct {
	pool *pgxpool.Pool
}

// NewItemStorePg 创建基于 PostgreSQL 的 ItemStore
func NewItemStorePg(pool *pgxpool.Pool) *ItemStorePg {
	return &ItemStorePg{pool: pool}
}

const neiColumns = `id, brand_id, platform, content_type, external_id, canonical_url, published_at, metrics, text_snippet, flags, raw_refs, created_at, updated_at`

// engagementProxy 排序用 SQL 代理；精确打分在内存做（bundle.Score）
const engagementProxy = `COALESCE((metrics->>'likes')::numeric, 0)
	+ COALESCE((metrics->>'reactions')::numeric, 0)
	+ 2 * COALESCE((metrics->>'comments')::numeric, 0)
	+ 0.01 * COALESCE((metrics->>'views')::numeric, 0)`

func (s *ItemStorePg) Upsert(ctx context.Context, item *NormalizedItem) (bool, error) {
	if item.Platform != "web" && item.ExternalID == "" {
		return false, errors.Newf(errors.KindValidation, "non-web item missing external_id (platform=%s content_type=%s)", item.Platform, item.ContentType)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var row pgx.Row
	if item.Platform == "web" {
		row = tx.QueryRow(ctx,
			`SELECT `+neiColumns+` FROM normalized_evidence_items
			 WHERE brand_id = $1 AND platform = $2 AND content_type = $3 AND canonical_url = $4 FOR UPDATE`,
			item.BrandID, item.Platform, item.ContentType, item.CanonicalURL)
	} else {
		row = tx.QueryRow(ctx,
			`SELECT `+neiColumns+` FROM normalized_evidence_items
			 WHERE brand_id = $1 AND platform = $2 AND content_type = $3 AND external_id = $4 FOR UPDATE`,
			item.BrandID, item.Platform, item.ContentType, item.ExternalID)
	}
	existing, err := scanItem(row)
	if err != nil {
		return false, err
	}

	now := time.Now()
	metricsJSON, _ := json.Marshal(orEmptyMetrics(item.Metrics))
	flagsJSON, _ := json.Marshal(orEmptyFlags(item.Flags))

	if existing == nil {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		rawRefsJSON, _ := json.Marshal(orEmptyRefs(item.RawRefs))
		_, err = tx.Exec(ctx,
			`INSERT INTO normalized_evidence_items (id, brand_id, platform, content_type, external_id, canonical_url, published_at, metrics, text_snippet, flags, raw_refs, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
			item.ID, item.BrandID, item.Platform, item.ContentType, nullStr(item.ExternalID), item.CanonicalURL,
			item.PublishedAt, metricsJSON, item.Text, flagsJSON, rawRefsJSON, now)
		if err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	// 已存在：覆盖可变字段，raw_refs 合并，created_at 保留
	refs := existing.RawRefs
	for _, ref := range item.RawRefs {
		if !existing.HasRawRef(ref) {
			refs = append(refs, ref)
			existing.RawRefs = refs
		}
	}
	rawRefsJSON, _ := json.Marshal(orEmptyRefs(refs))
	_, err = tx.Exec(ctx,
		`UPDATE normalized_evidence_items
		 SET canonical_url = $1, published_at = $2, metrics = $3, text_snippet = $4, flags = $5, raw_refs = $6, updated_at = $7
		 WHERE id = $8`,
		item.CanonicalURL, item.PublishedAt, metricsJSON, item.Text, flagsJSON, rawRefsJSON, now, existing.ID)
	if err != nil {
		return false, err
	}
	item.ID = existing.ID
	return false, tx.Commit(ctx)
}

func (s *ItemStorePg) Pairs(ctx context.Context, brandID string, platforms []string) ([]Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT platform, content_type, count(*) FROM normalized_evidence_items
		 WHERE brand_id = $1 AND platform = ANY($2)
		 GROUP BY platform, content_type
		 ORDER BY platform, content_type`,
		brandID, platforms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Platform, &p.ContentType, &p.Eligible); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *ItemStorePg) RecentSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+neiColumns+` FROM normalized_evidence_items
		 WHERE brand_id = $1 AND platform = $2 AND content_type = $3
		 ORDER BY published_at DESC NULLS LAST, canonical_url ASC
		 LIMIT $4`,
		brandID, platform, contentType, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *ItemStorePg) EngagementSlice(ctx context.Context, brandID, platform, contentType string, limit int) ([]*NormalizedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+neiColumns+` FROM normalized_evidence_items
		 WHERE brand_id = $1 AND platform = $2 AND content_type = $3
		 ORDER BY (`+engagementProxy+`) DESC, published_at DESC NULLS LAST, canonical_url ASC
		 LIMIT $4`,
		brandID, platform, contentType, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *ItemStorePg) HasNonWeb(ctx context.Context, brandID string, platforms []string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM normalized_evidence_items
		   WHERE brand_id = $1 AND platform = ANY($2) AND platform <> 'web'
		 )`,
		brandID, platforms).Scan(&exists)
	return exists, err
}

func (s *ItemStorePg) Get(ctx context.Context, id string) (*NormalizedItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+neiColumns+` FROM normalized_evidence_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func collectItems(rows pgx.Rows) ([]*NormalizedItem, error) {
	defer rows.Close()
	var items []*NormalizedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*NormalizedItem, error) {
	var it NormalizedItem
	var externalID *string
	var publishedAt *time.Time
	var metrics, flags, rawRefs []byte
	err := row.Scan(&it.ID, &it.BrandID, &it.Platform, &it.ContentType, &externalID, &it.CanonicalURL,
		&publishedAt, &metrics, &it.Text, &flags, &rawRefs, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if externalID != nil {
		it.ExternalID = *externalID
	}
	it.PublishedAt = publishedAt
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &it.Metrics); err != nil {
			return nil, err
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &it.Flags); err != nil {
			return nil, err
		}
	}
	if len(rawRefs) > 0 {
		if err := json.Unmarshal(rawRefs, &it.RawRefs); err != nil {
			return nil, err
		}
	}
	return &it, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func orEmptyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func orEmptyRefs(r []RawRef) []RawRef {
	if r == nil {
		return []RawRef{}
	}
	return r
}
