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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
)

// Router HTTP 路由器
type Router struct {
	handler *Handler
}

// NewRouter 创建路由器
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// Build 构建 Hertz server 并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	allOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(allOpts...)
	r.Register(h)
	return h
}

// Register 在已有 server 上挂路由；测试直接复用
func (r *Router) Register(h *server.Hertz) {
	h.GET("/api/health", r.handler.Health)
	h.GET("/metrics", r.handler.Metrics)

	bb := h.Group("/api/brands/:id/brandbrain")
	{
		bb.POST("/compile", r.handler.Kickoff)
		bb.GET("/compile/:run/status", r.handler.GetStatus)
		bb.GET("/latest", r.handler.GetLatest)
		bb.GET("/history", r.handler.GetHistory)
		bb.GET("/overrides", r.handler.GetOverrides)
		bb.PATCH("/overrides", r.handler.PatchOverrides)
	}
}
