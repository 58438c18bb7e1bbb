package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	stderrors "errors"

	"brandbrain/internal/brand"
)

func TestStartRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/acts/apify~website-content-crawler/runs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"run-1","status":"RUNNING","defaultDatasetId":"ds-1","startedAt":"2026-08-20T10:00:00Z"}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", srv.URL)
	info, err := c.StartRun(context.Background(), "apify~website-content-crawler", json.RawMessage(`{"maxCrawlPages":5}`))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if info.RunID != "run-1" || info.DatasetID != "ds-1" || info.Status != "RUNNING" {
		t.Errorf("run info = %+v", info)
	}
}

func TestStartRun_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"insufficient-credit"}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", srv.URL)
	_, err := c.StartRun(context.Background(), "a~b", json.RawMessage(`{}`))
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) || apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected *APIError 402, got %v", err)
	}
}

func TestPollRun_ReachesTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "RUNNING"
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = "SUCCEEDED"
		}
		fmt.Fprintf(w, `{"data":{"id":"run-1","status":%q,"defaultDatasetId":"ds-1"}}`, status)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", srv.URL)
	info, err := c.PollRun(context.Background(), "run-1", 5*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("PollRun: %v", err)
	}
	if info.Status != "SUCCEEDED" {
		t.Errorf("status = %s", info.Status)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestPollRun_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"run-1","status":"RUNNING"}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", srv.URL)
	_, err := c.PollRun(context.Background(), "run-1", 50*time.Millisecond, 20*time.Millisecond)
	var timeoutErr *PollTimeoutError
	if !stderrors.As(err, &timeoutErr) {
		t.Fatalf("expected *PollTimeoutError, got %v", err)
	}
	if timeoutErr.RunID != "run-1" {
		t.Errorf("run id = %s", timeoutErr.RunID)
	}
}

func TestFetchItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/datasets/ds-1/items" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("offset") != "0" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[{"id":"a"},{"id":"b"}]`)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", srv.URL)
	items, err := c.FetchItems(context.Background(), "ds-1", 2, 0)
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
}

func TestFetchItems_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 连接被拒

	c := NewHTTPClient("tok", srv.URL)
	_, err := c.FetchItems(context.Background(), "ds-1", 1, 0)
	var transportErr *TransportError
	if !stderrors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
}

func TestResolve_Registry(t *testing.T) {
	spec := Resolve(brand.PlatformWeb, brand.CapabilityCrawlPages)
	if spec == nil {
		t.Fatal("web.crawl_pages must be registered")
	}
	sc := &brand.SourceConnection{
		Platform: brand.PlatformWeb, Capability: brand.CapabilityCrawlPages,
		Identifier: "https://acme.com",
		Settings:   map[string]any{"extra_start_urls": []any{"https://acme.com/blog"}},
	}
	input, err := spec.BuildInput(sc, 7)
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	var doc struct {
		StartUrls     []map[string]string `json:"startUrls"`
		MaxCrawlPages int                 `json:"maxCrawlPages"`
	}
	if err := json.Unmarshal(input, &doc); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if doc.MaxCrawlPages != 7 {
		t.Errorf("cap not wired into input: %d", doc.MaxCrawlPages)
	}
	if len(doc.StartUrls) != 2 || doc.StartUrls[1]["url"] != "https://acme.com/blog" {
		t.Errorf("start urls = %v", doc.StartUrls)
	}
	if Resolve("myspace", "posts") != nil {
		t.Error("unknown pair must not resolve")
	}
}

func TestIsCapabilityEnabled_FeatureGate(t *testing.T) {
	if IsCapabilityEnabled(brand.PlatformLinkedin, brand.CapabilityProfilePosts, Flags{}) {
		t.Error("linkedin.profile_posts must be disabled by default")
	}
	if !IsCapabilityEnabled(brand.PlatformLinkedin, brand.CapabilityProfilePosts, Flags{EnableLinkedinProfilePosts: true}) {
		t.Error("flag should enable linkedin.profile_posts")
	}
	if !IsCapabilityEnabled(brand.PlatformInstagram, brand.CapabilityPosts, Flags{}) {
		t.Error("instagram.posts should be enabled")
	}
}
