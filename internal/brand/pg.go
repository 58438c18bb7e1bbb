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

package brand

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StorePg Postgres 实现：brands / brand_onboarding / source_connections / brand_overrides
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 创建基于 PostgreSQL 的 Store；pool 与其他域共用
func NewStorePg(pool *pgxpool.Pool) *StorePg {
	return &StorePg{pool: pool}
}

func (s *StorePg) GetBrand(ctx context.Context, brandID string) (*Brand, error) {
	var b Brand
	var deletedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, slug, deleted_at, created_at FROM brands WHERE id = $1`,
		brandID).Scan(&b.ID, &b.OrgID, &b.Name, &b.Slug, &deletedAt, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if deletedAt != nil {
		return nil, nil // 软删视同不存在
	}
	return &b, nil
}

func (s *StorePg) GetOnboarding(ctx context.Context, brandID string) (*Onboarding, error) {
	var o Onboarding
	var answers []byte
	err := s.pool.QueryRow(ctx,
		`SELECT brand_id, tier, answers, updated_at FROM brand_onboarding WHERE brand_id = $1`,
		brandID).Scan(&o.BrandID, &o.Tier, &answers, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &o.Answers); err != nil {
			return nil, err
		}
	}
	if o.Answers == nil {
		o.Answers = make(map[string]string)
	}
	return &o, nil
}

func (s *StorePg) ListEnabledSources(ctx context.Context, brandID string) ([]*SourceConnection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, platform, capability, identifier, is_enabled, settings, created_at
		 FROM source_connections
		 WHERE brand_id = $1 AND is_enabled
		 ORDER BY platform, capability, identifier`,
		brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*SourceConnection
	for rows.Next() {
		var sc SourceConnection
		var settings []byte
		if err := rows.Scan(&sc.ID, &sc.BrandID, &sc.Platform, &sc.Capability, &sc.Identifier, &sc.IsEnabled, &settings, &sc.CreatedAt); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &sc.Settings); err != nil {
				return nil, err
			}
		}
		if sc.Settings == nil {
			sc.Settings = make(map[string]any)
		}
		list = append(list, &sc)
	}
	return list, rows.Err()
}

func (s *StorePg) GetOverrides(ctx context.Context, brandID string) (*Overrides, error) {
	var o Overrides
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT brand_id, overrides, pinned_paths, updated_at FROM brand_overrides WHERE brand_id = $1`,
		brandID).Scan(&o.BrandID, &doc, &o.PinnedPaths, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &o.Overrides); err != nil {
			return nil, err
		}
	}
	if o.Overrides == nil {
		o.Overrides = make(map[string]any)
	}
	return &o, nil
}

// PatchOverrides 在事务内读-合并-写，避免并发 PATCH 丢更新
func (s *StorePg) PatchOverrides(ctx context.Context, brandID string, patch map[string]any, pinned []string) (*Overrides, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doc []byte
	var curPinned []string
	err = tx.QueryRow(ctx,
		`SELECT overrides, pinned_paths FROM brand_overrides WHERE brand_id = $1 FOR UPDATE`,
		brandID).Scan(&doc, &curPinned)
	base := make(map[string]any)
	switch {
	case err == nil:
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &base); err != nil {
				return nil, err
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
		// 首次 PATCH 即创建
	default:
		return nil, err
	}

	merged := MergeOverrides(base, patch)
	newPinned := curPinned
	if pinned != nil {
		newPinned = pinned // 整体替换，不做 merge
	}
	if newPinned == nil {
		newPinned = []string{}
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	_, err = tx.Exec(ctx,
		`INSERT INTO brand_overrides (brand_id, overrides, pinned_paths, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (brand_id) DO UPDATE SET overrides = $2, pinned_paths = $3, updated_at = $4`,
		brandID, mergedJSON, newPinned, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Overrides{BrandID: brandID, Overrides: merged, PinnedPaths: newPinned, UpdatedAt: now}, nil
}
