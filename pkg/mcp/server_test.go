package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/meshbridge/pkg/models"
	"github.com/pario-ai/meshbridge/pkg/session"
)

// fakeGenerator records what the tools asked for.
type fakeGenerator struct {
	once     []models.GenerationRequest
	batch    []models.BatchRequest
	appended []models.AppendRequest
	sessions map[string]*models.Session
	stats    models.CacheStats
	err      error
}

func (f *fakeGenerator) GenerateOnce(_ context.Context, req models.GenerationRequest) (models.GenResponse, error) {
	if f.err != nil {
		return models.GenResponse{}, f.err
	}
	f.once = append(f.once, req)
	return models.GenResponse{ID: "abc", URL: "/static/models/abc.glb"}, nil
}

func (f *fakeGenerator) GenerateBatch(_ context.Context, req models.BatchRequest) (models.BatchResponse, error) {
	f.batch = append(f.batch, req)
	var resp models.BatchResponse
	for _, seed := range req.Seeds {
		resp.Items = append(resp.Items, models.BatchItem{Seed: seed, URL: fmt.Sprintf("/static/models/s%d.glb", seed)})
	}
	return resp, nil
}

func (f *fakeGenerator) CreateSession(_ context.Context, req models.SessionCreate) (*models.Session, error) {
	s := &models.Session{ID: "0123456789abcdef0123456789abcdef", Title: req.Title, Defaults: req.Defaults()}
	if f.sessions == nil {
		f.sessions = map[string]*models.Session{}
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeGenerator) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeGenerator) ListSessions(_ context.Context) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for _, s := range f.sessions {
		out = append(out, models.SessionSummary{ID: s.ID, Title: s.Title, ItemCount: len(s.Items)})
	}
	return out, nil
}

func (f *fakeGenerator) AppendToSession(_ context.Context, req models.AppendRequest) (models.GenResponse, error) {
	f.appended = append(f.appended, req)
	return models.GenResponse{ID: "item1", URL: "/static/models/item1.glb"}, nil
}

func (f *fakeGenerator) CacheStats(_ context.Context) (models.CacheStats, error) {
	return f.stats, nil
}

type fakeLedger struct {
	since   time.Time
	summary []models.GenerationSummary
	recent  []models.GenerationRecord
}

func (f *fakeLedger) Summary(_ context.Context, since time.Time) ([]models.GenerationSummary, error) {
	f.since = since
	return f.summary, nil
}

func (f *fakeLedger) Recent(_ context.Context, limit int) ([]models.GenerationRecord, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "meshbridge" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
	}
}

func TestGenerateDefaults(t *testing.T) {
	gen := &fakeGenerator{}
	srv := New(gen, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_generate", `{"prompt":"a red chair"}`)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, "/static/models/abc.glb") {
		t.Errorf("expected asset url in output, got: %s", result.Content[0].Text)
	}

	want := models.GenerationRequest{Prompt: "a red chair", Seed: 0, GuidanceScale: 15, Steps: 64}
	if len(gen.once) != 1 || gen.once[0] != want {
		t.Errorf("requests = %+v, want [%+v]", gen.once, want)
	}
}

func TestGenerateBatch(t *testing.T) {
	gen := &fakeGenerator{}
	srv := New(gen, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_generate", `{"prompt":"a vase","seeds":[4,2],"num_inference_steps":32}`)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	if len(gen.once) != 0 || len(gen.batch) != 1 {
		t.Fatalf("once=%d batch=%d, want 0 and 1", len(gen.once), len(gen.batch))
	}
	if gen.batch[0].Steps != 32 || gen.batch[0].GuidanceScale != 15 {
		t.Errorf("batch params = %+v", gen.batch[0])
	}
	text := result.Content[0].Text
	if strings.Index(text, "s4.glb") > strings.Index(text, "s2.glb") {
		t.Errorf("batch output out of order: %s", text)
	}
}

func TestGenerateError(t *testing.T) {
	srv := New(&fakeGenerator{err: errors.New("upstream failure")}, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_generate", `{"prompt":"x"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "upstream failure") {
		t.Errorf("expected error result, got: %+v", result)
	}
}

func TestGenerateInvalidArguments(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_generate", `{"prompt":42}`)
	if !result.IsError {
		t.Error("expected isError=true for a non-string prompt")
	}
}

func TestSessionFlow(t *testing.T) {
	gen := &fakeGenerator{}
	srv := New(gen, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_session_new", `{"title":"Chairs","seed":9}`)
	if !strings.Contains(result.Content[0].Text, "Chairs") || !strings.Contains(result.Content[0].Text, "seed=9") {
		t.Errorf("unexpected session output: %s", result.Content[0].Text)
	}

	id := "0123456789abcdef0123456789abcdef"
	result = callTool(t, srv, "meshbridge_session_append", `{"session_id":"`+id+`","edit":"make it blue","guidance_scale":7.5}`)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	if len(gen.appended) != 1 {
		t.Fatalf("appended %d, want 1", len(gen.appended))
	}
	got := gen.appended[0]
	if got.Edit != "make it blue" || got.Seed != nil || got.GuidanceScale == nil || *got.GuidanceScale != 7.5 {
		t.Errorf("append request = %+v", got)
	}

	result = callTool(t, srv, "meshbridge_sessions", `{}`)
	if !strings.Contains(result.Content[0].Text, id) {
		t.Errorf("expected session in listing, got: %s", result.Content[0].Text)
	}
}

func TestSessionShowNotFound(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_session_show", `{"session_id":"ffffffffffffffffffffffffffffffff"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "not found") {
		t.Errorf("expected not found error, got: %+v", result)
	}
}

func TestSessionShowMissingID(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	for _, tool := range []string{"meshbridge_session_show", "meshbridge_session_append"} {
		result := callTool(t, srv, tool, `{}`)
		if !result.IsError {
			t.Errorf("%s: expected isError=true for missing session_id", tool)
		}
	}
}

func TestCacheStats(t *testing.T) {
	gen := &fakeGenerator{stats: models.CacheStats{Backend: "file", Entries: 42, Hits: 10, Misses: 5}}
	srv := New(gen, nil, "test", nil)

	text := callTool(t, srv, "meshbridge_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") || !strings.Contains(text, "file") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestLedgerNotEnabled(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	text := callTool(t, srv, "meshbridge_ledger", `{}`).Content[0].Text
	if !strings.Contains(text, "not enabled") {
		t.Errorf("expected 'not enabled', got: %s", text)
	}
}

func TestLedgerSummary(t *testing.T) {
	ledger := &fakeLedger{summary: []models.GenerationSummary{
		{Source: models.SourceRemote, Count: 4, TotalDuration: 2000, DistinctKeys: 3},
		{Source: models.SourceCache, Count: 6, TotalDuration: 60, DistinctKeys: 3},
	}}
	srv := New(&fakeGenerator{}, ledger, "test", nil)

	text := callTool(t, srv, "meshbridge_ledger", `{"since":"2026-01-02"}`).Content[0].Text
	if !strings.Contains(text, "remote") || !strings.Contains(text, "500") {
		t.Errorf("unexpected summary: %s", text)
	}
	if want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC); !ledger.since.Equal(want) {
		t.Errorf("since = %v, want %v", ledger.since, want)
	}

	result := callTool(t, srv, "meshbridge_ledger", `{"since":"yesterday"}`)
	if !result.IsError {
		t.Error("expected isError=true for a bad date")
	}
}

func TestLedgerRecent(t *testing.T) {
	ledger := &fakeLedger{recent: []models.GenerationRecord{
		{Source: models.SourcePlaceholder, Seed: 3, URL: "/static/models/p.glb", CreatedAt: time.Now()},
		{Source: models.SourceRemote, Seed: 4, URL: "/static/models/r.glb", CreatedAt: time.Now()},
	}}
	srv := New(&fakeGenerator{}, ledger, "test", nil)

	text := callTool(t, srv, "meshbridge_ledger", `{"recent":1}`).Content[0].Text
	if !strings.Contains(text, "p.glb") || strings.Contains(text, "r.glb") {
		t.Errorf("unexpected recent output: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	result := callTool(t, srv, "meshbridge_nope", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for an unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeGenerator{}, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
