package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/memkit/internal/config"
	"github.com/nextlevelbuilder/memkit/internal/memkit"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	engine, err := memkit.Open(cfg)
	if err != nil {
		t.Fatalf("memkit.Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewServer(engine, "test")
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestUpsertNodeTool(t *testing.T) {
	s := newServer(t)

	res, err := s.handleUpsertNode(context.Background(), call(map[string]any{
		"payload": `{"type":"task","title":"wire billing","tags":["billing"]}`,
	}))
	if err != nil {
		t.Fatalf("handleUpsertNode: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textOf(t, res))
	}

	var out struct {
		NodeID  string `json:"node_id"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Created || !strings.HasPrefix(out.NodeID, "task-") {
		t.Errorf("result = %+v", out)
	}
}

func TestUpsertNodeToolRejectsBadPayload(t *testing.T) {
	s := newServer(t)

	res, err := s.handleUpsertNode(context.Background(), call(map[string]any{"payload": "{not json"}))
	if err != nil {
		t.Fatalf("handleUpsertNode: %v", err)
	}
	if !res.IsError {
		t.Error("bad payload accepted")
	}
}

func TestContextToolsRoundTrip(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, err := s.handleCreateContext(ctx, call(map[string]any{"name": "fintech", "scope": "vertical"}))
	if err != nil || res.IsError {
		t.Fatalf("create vertical: %v %v", err, res)
	}

	res, err = s.handleCreateContext(ctx, call(map[string]any{"name": "ledger", "scope": "project", "parent": "fintech"}))
	if err != nil || res.IsError {
		t.Fatalf("create project: %v %v", err, res)
	}

	res, err = s.handleUseContext(ctx, call(map[string]any{"context": "ledger"}))
	if err != nil || res.IsError {
		t.Fatalf("use_context: %v %v", err, res)
	}

	res, err = s.handleListContexts(ctx, call(map[string]any{"scope": "project"}))
	if err != nil || res.IsError {
		t.Fatalf("list_contexts: %v %v", err, res)
	}
	if !strings.Contains(textOf(t, res), "ledger") {
		t.Errorf("list output missing project: %s", textOf(t, res))
	}
}

func TestRecallTool(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	if res, err := s.handleUpsertNode(ctx, call(map[string]any{
		"payload": `{"type":"task","title":"deploy payment service","tags":["deploy"]}`,
	})); err != nil || res.IsError {
		t.Fatalf("seed node: %v %v", err, res)
	}

	res, err := s.handleRecall(ctx, call(map[string]any{
		"query": "deploy payment",
		"limit": float64(3),
		"tags":  "deploy",
	}))
	if err != nil {
		t.Fatalf("handleRecall: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textOf(t, res))
	}

	var out struct {
		Source   string `json:"source"`
		TopNodes []struct {
			Title string `json:"title"`
			Score int    `json:"score"`
		} `json:"top_nodes"`
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Source != "keyword" || len(out.TopNodes) != 1 {
		t.Errorf("recall out = %+v", out)
	}
}

func TestRecallToolUnknownContext(t *testing.T) {
	s := newServer(t)

	res, err := s.handleRecall(context.Background(), call(map[string]any{
		"query": "x", "context": "missing",
	}))
	if err != nil {
		t.Fatalf("handleRecall: %v", err)
	}
	if !res.IsError {
		t.Error("unknown context accepted")
	}
}
