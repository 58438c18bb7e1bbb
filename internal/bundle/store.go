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

package bundle

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Bundle 持久化的证据包；写入后不可变
type Bundle struct {
	ID        string
	BrandID   string
	Criteria  json.RawMessage
	ItemIDs   []string
	Summary   json.RawMessage
	CreatedAt time.Time
}

// Store bundle 存储
type Store interface {
	// Create 写入一个不可变 bundle
	Create(ctx context.Context, b *Bundle) error
	// Get 按 id 与 brand 取 bundle；无则 nil, nil
	Get(ctx context.Context, brandID, id string) (*Bundle, error)
}

// StorePg Postgres 实现
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 创建基于 PostgreSQL 的 Store
func NewStorePg(pool *pgxpool.Pool) *StorePg {
	return &StorePg{pool: pool}
}

func (s *StorePg) Create(ctx context.Context, b *Bundle) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_bundles (id, brand_id, criteria, item_ids, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.BrandID, []byte(b.Criteria), b.ItemIDs, []byte(b.Summary), b.CreatedAt)
	return err
}

func (s *StorePg) Get(ctx context.Context, brandID, id string) (*Bundle, error) {
	var b Bundle
	var criteria, summary []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, criteria, item_ids, summary, created_at
		 FROM evidence_bundles WHERE id = $1 AND brand_id = $2`,
		id, brandID).Scan(&b.ID, &b.BrandID, &criteria, &b.ItemIDs, &summary, &b.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	b.Criteria = criteria
	b.Summary = summary
	return &b, nil
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

// StoreMem 内存实现：测试用
type StoreMem struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
}

// NewStoreMem 创建内存 Store
func NewStoreMem() *StoreMem {
	return &StoreMem{bundles: make(map[string]*Bundle)}
}

func (s *StoreMem) Create(ctx context.Context, b *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	cp := *b
	cp.ItemIDs = append([]string(nil), b.ItemIDs...)
	s.bundles[b.ID] = &cp
	return nil
}

func (s *StoreMem) Get(ctx context.Context, brandID, id string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok || b.BrandID != brandID {
		return nil, nil
	}
	cp := *b
	cp.ItemIDs = append([]string(nil), b.ItemIDs...)
	return &cp, nil
}
