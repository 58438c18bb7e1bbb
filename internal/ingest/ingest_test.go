package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"brandbrain/internal/apify"
	"brandbrain/internal/brand"
	"brandbrain/internal/evidence"
	"brandbrain/internal/normalize"
	"brandbrain/pkg/log"
)

// fakeClient 可编排的 apify.Client
type fakeClient struct {
	startErr   error
	pollInfo   *apify.RunInfo
	pollErr    error
	items      []json.RawMessage
	fetchErr   error
	lastInput  json.RawMessage
	fetchLimit int
}

func (f *fakeClient) StartRun(ctx context.Context, actorID string, input json.RawMessage) (*apify.RunInfo, error) {
	f.lastInput = input
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &apify.RunInfo{RunID: "apify-run-1", DatasetID: "ds-1", Status: "RUNNING"}, nil
}

func (f *fakeClient) PollRun(ctx context.Context, runID string, timeout, interval time.Duration) (*apify.RunInfo, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if f.pollInfo != nil {
		return f.pollInfo, nil
	}
	return &apify.RunInfo{RunID: runID, DatasetID: "ds-1", Status: "SUCCEEDED"}, nil
}

func (f *fakeClient) FetchItems(ctx context.Context, datasetID string, limit, offset int) ([]json.RawMessage, error) {
	f.fetchLimit = limit
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func newIngester(t *testing.T, client apify.Client, flags apify.Flags) (*Ingester, *evidence.RunStoreMem, *evidence.ItemStoreMem) {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	runs := evidence.NewRunStoreMem()
	items := evidence.NewItemStoreMem()
	n := normalize.NewNormalizer(runs, items, normalize.NewRegistry(flags), logger)
	return NewIngester(client, runs, n, flags, time.Second, 10*time.Millisecond, logger), runs, items
}

func igSource() *brand.SourceConnection {
	return &brand.SourceConnection{
		ID: "s1", BrandID: "b1",
		Platform: brand.PlatformInstagram, Capability: brand.CapabilityPosts,
		Identifier: "acme", IsEnabled: true,
	}
}

func TestIngestSource_Success(t *testing.T) {
	client := &fakeClient{items: []json.RawMessage{
		json.RawMessage(`{"id":"p1","url":"https://instagram.com/p/p1","likesCount":3}`),
		json.RawMessage(`{"id":"p2","url":"https://instagram.com/p/p2"}`),
	}}
	g, runs, items := newIngester(t, client, apify.Flags{})
	res := g.IngestSource(context.Background(), igSource())
	if !res.Success || res.Skipped {
		t.Fatalf("result = %+v", res)
	}
	if res.RawItemsCount != 2 || res.NormalizedCreated != 2 {
		t.Errorf("counts = %+v", res)
	}
	if res.ApifyRunID != "apify-run-1" || res.ApifyRunStatus != "SUCCEEDED" {
		t.Errorf("run fields = %+v", res)
	}
	run, _ := runs.GetRun(context.Background(), res.ActorRunID)
	if run.Status != evidence.RunSucceeded || run.RawItemCount != 2 {
		t.Errorf("actor run = %+v", run)
	}
	got, _ := items.Pairs(context.Background(), "b1", []string{"instagram"})
	if len(got) != 1 || got[0].Eligible != 2 {
		t.Errorf("pairs = %+v", got)
	}
	// cap 进入 actor 输入与 dataset fetch
	var input map[string]any
	_ = json.Unmarshal(client.lastInput, &input)
	if input["resultsLimit"].(float64) != 30 || client.fetchLimit != 30 {
		t.Errorf("cap not enforced: input=%v fetch=%d", input["resultsLimit"], client.fetchLimit)
	}
}

func TestIngestSource_GatedCapabilitySkipped(t *testing.T) {
	client := &fakeClient{}
	g, _, _ := newIngester(t, client, apify.Flags{})
	sc := &brand.SourceConnection{
		ID: "s2", BrandID: "b1",
		Platform: brand.PlatformLinkedin, Capability: brand.CapabilityProfilePosts,
		Identifier: "jane",
	}
	res := g.IngestSource(context.Background(), sc)
	if !res.Success || !res.Skipped {
		t.Fatalf("gated capability should skip, got %+v", res)
	}
	if client.lastInput != nil {
		t.Error("skipped source must not start an actor")
	}
}

func TestIngestSource_PollTimeout(t *testing.T) {
	client := &fakeClient{pollErr: &apify.PollTimeoutError{RunID: "apify-run-1", Elapsed: "1s"}}
	g, runs, _ := newIngester(t, client, apify.Flags{})
	res := g.IngestSource(context.Background(), igSource())
	if res.Success {
		t.Fatal("timeout must fail the ingest")
	}
	if res.ApifyRunStatus != string(evidence.RunTimedOut) {
		t.Errorf("status = %s", res.ApifyRunStatus)
	}
	run, _ := runs.GetRun(context.Background(), res.ActorRunID)
	if run.Status != evidence.RunTimedOut || run.ErrorSummary == "" {
		t.Errorf("actor run = %+v", run)
	}
}

func TestIngestSource_TransportErrorMarksFailed(t *testing.T) {
	client := &fakeClient{pollErr: &apify.TransportError{Op: "get run", Err: context.DeadlineExceeded}}
	g, runs, _ := newIngester(t, client, apify.Flags{})
	res := g.IngestSource(context.Background(), igSource())
	if res.Success {
		t.Fatal("transport error must fail the ingest")
	}
	run, _ := runs.GetRun(context.Background(), res.ActorRunID)
	if run.Status != evidence.RunFailed {
		t.Errorf("status = %s", run.Status)
	}
}

func TestIngestSource_NonSucceededTerminal(t *testing.T) {
	client := &fakeClient{pollInfo: &apify.RunInfo{RunID: "apify-run-1", DatasetID: "ds-1", Status: "ABORTED"}}
	g, runs, _ := newIngester(t, client, apify.Flags{})
	res := g.IngestSource(context.Background(), igSource())
	if res.Success {
		t.Fatal("aborted run must fail the ingest")
	}
	if res.ApifyRunStatus != "ABORTED" {
		t.Errorf("status = %s", res.ApifyRunStatus)
	}
	run, _ := runs.GetRun(context.Background(), res.ActorRunID)
	if run.Status != evidence.RunAborted {
		t.Errorf("actor run status = %s", run.Status)
	}
}

func TestIngestSource_StartFailureLeavesNothing(t *testing.T) {
	client := &fakeClient{startErr: &apify.APIError{StatusCode: 402, Body: "no credit"}}
	g, runs, _ := newIngester(t, client, apify.Flags{})
	res := g.IngestSource(context.Background(), igSource())
	if res.Success || res.ActorRunID != "" {
		t.Fatalf("start failure must not persist a run: %+v", res)
	}
	latest, _ := runs.LatestSucceeded(context.Background(), "s1")
	if latest != nil {
		t.Error("no run should exist")
	}
}

func TestIngestSource_ReplayIsIdempotent(t *testing.T) {
	client := &fakeClient{items: []json.RawMessage{
		json.RawMessage(`{"id":"p1","url":"https://instagram.com/p/p1"}`),
	}}
	g, _, items := newIngester(t, client, apify.Flags{})
	sc := igSource()
	r1 := g.IngestSource(context.Background(), sc)
	r2 := g.IngestSource(context.Background(), sc)
	if !r1.Success || !r2.Success {
		t.Fatalf("results: %+v %+v", r1, r2)
	}
	if r2.NormalizedCreated != 0 || r2.NormalizedUpdated != 1 {
		t.Errorf("second ingest should update, not create: %+v", r2)
	}
	pairs, _ := items.Pairs(context.Background(), "b1", []string{"instagram"})
	if pairs[0].Eligible != 1 {
		t.Errorf("dedupe failed: %+v", pairs)
	}
}
