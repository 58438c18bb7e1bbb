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

// Package http BrandBrain 的 HTTP 层：kickoff 与快照/状态/overrides 读路径
package http

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"brandbrain/internal/brand"
	"brandbrain/internal/compile"
	"brandbrain/pkg/errors"
	"brandbrain/pkg/log"
	"brandbrain/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	brands  brand.Store
	orch    *compile.Orchestrator
	reader  *compile.Reader
	logger  *log.Logger
	started time.Time
}

// NewHandler 创建 HTTP 处理器
func NewHandler(brands brand.Store, orch *compile.Orchestrator, reader *compile.Reader, logger *log.Logger) *Handler {
	return &Handler{
		brands:  brands,
		orch:    orch,
		reader:  reader,
		logger:  logger,
		started: time.Now(),
	}
}

// Health 健康检查
func (h *Handler) Health(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]any{
		"status":  "ok",
		"service": "brandbrain-api",
		"uptime":  time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "gather metrics failed"})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// Kickoff 发起编译
// POST /api/brands/:id/brandbrain/compile
func (h *Handler) Kickoff(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.brandID(ctx)
	if !ok {
		return
	}
	var req struct {
		ForceRefresh bool `json:"force_refresh"`
	}
	if len(ctx.Request.Body()) > 0 {
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	res, err := h.orch.Kickoff(c, brandID, req.ForceRefresh)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	if res.Status == "UNCHANGED" {
		ctx.JSON(consts.StatusOK, map[string]any{
			"compile_run_id": res.CompileRunID,
			"status":         res.Status,
			"snapshot": map[string]any{
				"snapshot_id":   res.Snapshot.ID,
				"created_at":    res.Snapshot.CreatedAt,
				"snapshot_json": res.Snapshot.Snapshot,
			},
		})
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]any{
		"compile_run_id": res.CompileRunID,
		"status":         res.Status,
		"poll_url":       fmt.Sprintf("/api/brands/%s/brandbrain/compile/%s/status", brandID, res.CompileRunID),
	})
}

// GetStatus 单个 CompileRun 状态
// GET /api/brands/:id/brandbrain/compile/:run/status
func (h *Handler) GetStatus(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.brandID(ctx)
	if !ok {
		return
	}
	runID := ctx.Param("run")
	if _, err := uuid.Parse(runID); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid compile run id"})
		return
	}
	view, err := h.reader.Status(c, brandID, runID)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// GetLatest 最新快照
// GET /api/brands/:id/brandbrain/latest?include=evidence,qa,bundle|full
func (h *Handler) GetLatest(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.brandID(ctx)
	if !ok {
		return
	}
	include, err := compile.ParseInclude(string(ctx.Query("include")))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	view, err := h.reader.Latest(c, brandID, include)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// GetHistory 分页快照历史
// GET /api/brands/:id/brandbrain/history?page=&page_size=
func (h *Handler) GetHistory(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.requireBrand(c, ctx)
	if !ok {
		return
	}
	page, ok := h.intQuery(ctx, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := h.intQuery(ctx, "page_size", compile.DefaultPageSize)
	if !ok {
		return
	}
	view, err := h.reader.History(c, brandID, page, pageSize)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// GetOverrides 读 overrides；从未写入时返回空文档
// GET /api/brands/:id/brandbrain/overrides
func (h *Handler) GetOverrides(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.requireBrand(c, ctx)
	if !ok {
		return
	}
	view, err := h.reader.Overrides(c, brandID)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// PatchOverrides 合并 overrides，pinned_paths 整体替换
// PATCH /api/brands/:id/brandbrain/overrides
func (h *Handler) PatchOverrides(c context.Context, ctx *app.RequestContext) {
	brandID, ok := h.requireBrand(c, ctx)
	if !ok {
		return
	}
	var req struct {
		Overrides   map[string]any `json:"overrides"`
		PinnedPaths []string       `json:"pinned_paths"`
	}
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	view, err := h.reader.PatchOverrides(c, brandID, req.Overrides, req.PinnedPaths)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// brandID 校验路径里的 brand id；非 UUID 直接 400
func (h *Handler) brandID(ctx *app.RequestContext) (string, bool) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid brand id"})
		return "", false
	}
	return id, true
}

// requireBrand brandID 校验 + 存在性检查
func (h *Handler) requireBrand(c context.Context, ctx *app.RequestContext) (string, bool) {
	id, ok := h.brandID(ctx)
	if !ok {
		return "", false
	}
	b, err := h.brands.GetBrand(c, id)
	if err != nil {
		h.writeError(ctx, err)
		return "", false
	}
	if b == nil {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "brand not found"})
		return "", false
	}
	return id, true
}

func (h *Handler) intQuery(ctx *app.RequestContext, name string, def int) (int, bool) {
	raw := string(ctx.Query(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

// writeError 错误种类 → HTTP 状态码；响应消息压成单行
func (h *Handler) writeError(ctx *app.RequestContext, err error) {
	if g := errors.AsGatingFailure(err); g != nil {
		ctx.JSON(consts.StatusUnprocessableEntity, map[string]any{"errors": g.Errors})
		return
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	switch errors.KindOf(err) {
	case errors.KindValidation:
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": msg})
	case errors.KindNotFound:
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": msg})
	case errors.KindGatingFailed:
		ctx.JSON(consts.StatusUnprocessableEntity, map[string]any{
			"errors": []errors.GatingError{{Code: "GATING_FAILED", Message: msg}},
		})
	default:
		h.logger.Error("请求处理 failed", "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
