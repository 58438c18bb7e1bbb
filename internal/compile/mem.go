package compile

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandbrain/pkg/errors"
)

// StoreMem 内存实现：语义与 StorePg 一致，测试用
type StoreMem struct {
	mu    sync.Mutex
	runs  map[string]*CompileRun
	snaps []*Snapshot
	now   func() time.Time
}

// NewStoreMem 创建内存 Store
func NewStoreMem() *StoreMem {
	return &StoreMem{runs: make(map[string]*CompileRun), now: time.Now}
}

func (s *StoreMem) CreateRun(ctx context.Context, run *CompileRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = RunPending
	run.CreatedAt = s.now()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *StoreMem) GetRun(ctx context.Context, brandID, runID string) (*CompileRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.BrandID != brandID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *StoreMem) MarkRunning(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.Status != RunPending {
		return errors.Newf(errors.KindConflict, "compile run %s not pending", runID)
	}
	r.Status = RunRunning
	t := s.now()
	r.StartedAt = &t
	return nil
}

func (s *StoreMem) MarkSucceeded(ctx context.Context, runID, bundleID string, evidenceStatus, draft, qaReport json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.Status != RunRunning {
		return errors.Newf(errors.KindConflict, "compile run %s not running", runID)
	}
	r.Status = RunSucceeded
	r.BundleID = bundleID
	r.EvidenceStatus = evidenceStatus
	r.Draft = draft
	r.QAReport = qaReport
	t := s.now()
	r.FinishedAt = &t
	return nil
}

func (s *StoreMem) MarkFailed(ctx context.Context, runID, errMsg string, evidenceStatus json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.Status != RunRunning {
		return errors.Newf(errors.KindConflict, "compile run %s not running", runID)
	}
	r.Status = RunFailed
	r.Error = errMsg
	if evidenceStatus != nil {
		r.EvidenceStatus = evidenceStatus
	}
	t := s.now()
	r.FinishedAt = &t
	return nil
}

func (s *StoreMem) CreateSnapshot(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	cp := *snap
	s.snaps = append(s.snaps, &cp)
	return nil
}

// sortedSnaps (created_at DESC, id DESC)；调用方持锁
func (s *StoreMem) sortedSnaps(brandID string) []*Snapshot {
	var list []*Snapshot
	for _, snap := range s.snaps {
		if snap.BrandID == brandID {
			list = append(list, snap)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list
}

func (s *StoreMem) LatestSnapshot(ctx context.Context, brandID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sortedSnaps(brandID)
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[0]
	return &cp, nil
}

func (s *StoreMem) SnapshotByRun(ctx context.Context, brandID, runID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.sortedSnaps(brandID) {
		if snap.CompileRunID == runID {
			cp := *snap
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *StoreMem) History(ctx context.Context, brandID string, page, pageSize int) ([]*Snapshot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sortedSnaps(brandID)
	total := len(list)
	start := (page - 1) * pageSize
	if start >= len(list) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	out := make([]*Snapshot, 0, end-start)
	for _, snap := range list[start:end] {
		cp := *snap
		out = append(out, &cp)
	}
	return out, total, nil
}
