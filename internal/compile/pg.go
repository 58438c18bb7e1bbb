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
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandbrain/pkg/errors"
)

// StorePg Postgres 实现
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 创建基于 PostgreSQL 的 Store
func NewStorePg(pool *pgxpool.Pool) *StorePg {
	return &StorePg{pool: pool}
}

const runColumns = `id, brand_id, status, prompt_version, model, input_hash, onboarding_snapshot, bundle_id, evidence_status, draft, qa_report, error, started_at, finished_at, created_at`

func (s *StorePg) CreateRun(ctx context.Context, run *CompileRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = RunPending
	onboarding := run.OnboardingSnapshot
	if onboarding == nil {
		onboarding = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO compile_runs (id, brand_id, status, prompt_version, model, input_hash, onboarding_snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.BrandID, string(run.Status), run.PromptVersion, run.Model, run.InputHash, []byte(onboarding))
	return err
}

func (s *StorePg) GetRun(ctx context.Context, brandID, runID string) (*CompileRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM compile_runs WHERE id = $1 AND brand_id = $2`,
		runID, brandID)
	return scanCompileRun(row)
}

func (s *StorePg) MarkRunning(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compile_runs SET status = $1, started_at = now() WHERE id = $2 AND status = $3`,
		string(RunRunning), runID, string(RunPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.Newf(errors.KindConflict, "compile run %s not pending", runID)
	}
	return nil
}

func (s *StorePg) MarkSucceeded(ctx context.Context, runID, bundleID string, evidenceStatus, draft, qaReport json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compile_runs
		 SET status = $1, bundle_id = $2, evidence_status = $3, draft = $4, qa_report = $5, finished_at = now()
		 WHERE id = $6 AND status = $7`,
		string(RunSucceeded), nilIfEmpty(bundleID), []byte(evidenceStatus), []byte(draft), []byte(qaReport),
		runID, string(RunRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.Newf(errors.KindConflict, "compile run %s not running", runID)
	}
	return nil
}

func (s *StorePg) MarkFailed(ctx context.Context, runID, errMsg string, evidenceStatus json.RawMessage) error {
	var es interface{}
	if evidenceStatus != nil {
		es = []byte(evidenceStatus)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE compile_runs
		 SET status = $1, error = $2, evidence_status = COALESCE($3, evidence_status), finished_at = now()
		 WHERE id = $4 AND status = $5`,
		string(RunFailed), errMsg, es, runID, string(RunRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.Newf(errors.KindConflict, "compile run %s not running", runID)
	}
	return nil
}

func (s *StorePg) CreateSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	var diff interface{}
	if snap.Diff != nil {
		diff = []byte(snap.Diff)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, brand_id, compile_run_id, snapshot, diff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.BrandID, snap.CompileRunID, []byte(snap.Snapshot), diff, snap.CreatedAt)
	return err
}

func (s *StorePg) LatestSnapshot(ctx context.Context, brandID string) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, compile_run_id, snapshot, diff, created_at
		 FROM snapshots WHERE brand_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		brandID)
	return scanSnapshot(row)
}

func (s *StorePg) SnapshotByRun(ctx context.Context, brandID, runID string) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, compile_run_id, snapshot, diff, created_at
		 FROM snapshots WHERE brand_id = $1 AND compile_run_id = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		brandID, runID)
	return scanSnapshot(row)
}

func (s *StorePg) History(ctx context.Context, brandID string, page, pageSize int) ([]*Snapshot, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM snapshots WHERE brand_id = $1`, brandID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, compile_run_id, snapshot, diff, created_at
		 FROM snapshots WHERE brand_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		brandID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, total, rows.Err()
}

func scanCompileRun(row pgx.Row) (*CompileRun, error) {
	var r CompileRun
	var status string
	var onboarding, evidenceStatus, draft, qaReport []byte
	var bundleID, errMsg *string
	err := row.Scan(&r.ID, &r.BrandID, &status, &r.PromptVersion, &r.Model, &r.InputHash,
		&onboarding, &bundleID, &evidenceStatus, &draft, &qaReport, &errMsg,
		&r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Status = RunStatus(status)
	r.OnboardingSnapshot = onboarding
	r.EvidenceStatus = evidenceStatus
	r.Draft = draft
	r.QAReport = qaReport
	if bundleID != nil {
		r.BundleID = *bundleID
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	var snapshot, diff []byte
	err := row.Scan(&s.ID, &s.BrandID, &s.CompileRunID, &snapshot, &diff, &s.CreatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Snapshot = snapshot
	s.Diff = diff
	return &s, nil
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
