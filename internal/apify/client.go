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

// Package apify Apify actor 客户端：启动 run、轮询终态、按 limit 拉取 dataset
package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// RunInfo 上游 run 的快照
type RunInfo struct {
	RunID     string
	DatasetID string
	Status    string
	StartedAt time.Time
}

// Terminal 上游终态集合与 ActorRun 一致
func (r *RunInfo) Terminal() bool {
	switch r.Status {
	case "SUCCEEDED", "FAILED", "TIMED-OUT", "TIMED_OUT", "ABORTED":
		return true
	}
	return false
}

// Client actor 客户端抽象；ingest 依赖它而非具体 HTTP 实现
type Client interface {
	// StartRun 启动 actor run；返回外部 run/dataset id
	StartRun(ctx context.Context, actorID string, input json.RawMessage) (*RunInfo, error)
	// PollRun 轮询到终态；超过 timeout 返回 *PollTimeoutError。
	// 单次请求各自有界超时，经过时间用单调时钟
	PollRun(ctx context.Context, runID string, timeout, interval time.Duration) (*RunInfo, error)
	// FetchItems 按 (limit, offset) 拉取 dataset 条目，保持上游顺序
	FetchItems(ctx context.Context, datasetID string, limit, offset int) ([]json.RawMessage, error)
}

// HTTPClient 基于 resty 的 Client 实现
type HTTPClient struct {
	token   string
	baseURL string
	client  *resty.Client
	limiter *rate.Limiter
}

// NewHTTPClient 创建客户端；baseURL 为空时用官方地址。
// 出站请求经 rate.Limiter 限流（默认 5 rps，burst 10）
func NewHTTPClient(token, baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.apify.com"
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	return &HTTPClient{
		token:   token,
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// SetRequestTimeout 覆盖单次 HTTP 请求超时
func (c *HTTPClient) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.client.SetTimeout(d)
	}
}

// SetRateLimit 覆盖出站限流速率
func (c *HTTPClient) SetRateLimit(rps float64) {
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)*2)
	}
}

type runEnvelope struct {
	Data struct {
		ID               string    `json:"id"`
		Status           string    `json:"status"`
		DefaultDatasetID string    `json:"defaultDatasetId"`
		StartedAt        time.Time `json:"startedAt"`
	} `json:"data"`
}

func (c *HTTPClient) StartRun(ctx context.Context, actorID string, input json.RawMessage) (*RunInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.token).
		SetBody([]byte(input)).
		Post(fmt.Sprintf("%s/v2/acts/%s/runs", c.baseURL, actorID))
	if err != nil {
		return nil, &TransportError{Op: "start run", Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	var env runEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("解析 apify run 响应failed: %w", err)
	}
	return &RunInfo{
		RunID:     env.Data.ID,
		DatasetID: env.Data.DefaultDatasetID,
		Status:    env.Data.Status,
		StartedAt: env.Data.StartedAt,
	}, nil
}

// getRun 单次状态查询
func (c *HTTPClient) getRun(ctx context.Context, runID string) (*RunInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.token).
		Get(fmt.Sprintf("%s/v2/actor-runs/%s", c.baseURL, runID))
	if err != nil {
		return nil, &TransportError{Op: "get run", Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	var env runEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("解析 apify run 响应failed: %w", err)
	}
	return &RunInfo{
		RunID:     env.Data.ID,
		DatasetID: env.Data.DefaultDatasetID,
		Status:    env.Data.Status,
		StartedAt: env.Data.StartedAt,
	}, nil
}

// PollRun 经过时间用 time.Since（单调时钟），系统时间跳变不影响判定；
// 每轮 sleep 不超过 interval
func (c *HTTPClient) PollRun(ctx context.Context, runID string, timeout, interval time.Duration) (*RunInfo, error) {
	start := time.Now()
	for {
		info, err := c.getRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if info.Terminal() {
			return info, nil
		}
		elapsed := time.Since(start)
		if elapsed >= timeout {
			return nil, &PollTimeoutError{RunID: runID, Elapsed: elapsed.Truncate(time.Second).String()}
		}
		sleep := interval
		if remain := timeout - elapsed; remain < sleep {
			sleep = remain
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (c *HTTPClient) FetchItems(ctx context.Context, datasetID string, limit, offset int) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.token).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParam("offset", fmt.Sprintf("%d", offset)).
		Get(fmt.Sprintf("%s/v2/datasets/%s/items", c.baseURL, datasetID))
	if err != nil {
		return nil, &TransportError{Op: "fetch items", Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, fmt.Errorf("解析 dataset 条目failed: %w", err)
	}
	return items, nil
}
