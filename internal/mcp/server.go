// Package mcp exposes the memkit engine as an MCP server over stdio, so
// agent runtimes can store and recall memory through tool calls.
package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/memkit"
	"github.com/nextlevelbuilder/memkit/internal/recall"
	"github.com/nextlevelbuilder/memkit/internal/records"
)

// Server wraps the engine behind MCP tool handlers.
type Server struct {
	engine *memkit.Engine
	mcp    *server.MCPServer
}

// NewServer builds the MCP server and registers the memkit toolset.
func NewServer(engine *memkit.Engine, version string) *Server {
	s := &Server{
		engine: engine,
		mcp: server.NewMCPServer("memkit", version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	s.register()
	return s
}

// ServeStdio blocks serving the stdio transport until the client closes it.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("upsert_node",
		mcp.WithDescription("Create or update a knowledge node (project, goal, task, decision, pattern, constraint, playbook, agent). The payload is a JSON object; omit id to create."),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Node JSON: type, title, status, tags, body, next_actions, ...")),
		mcp.WithString("context", mcp.Description("Context id or name; defaults to the active context")),
	), s.handleUpsertNode)

	s.mcp.AddTool(mcp.NewTool("record_checkpoint",
		mcp.WithDescription("Record a run checkpoint: what an agent did, the outcome, and links to nodes."),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Checkpoint JSON: agent, intent, result, plan, links, tags, ...")),
		mcp.WithString("context", mcp.Description("Context id or name; defaults to the active context")),
	), s.handleRecordCheckpoint)

	s.mcp.AddTool(mcp.NewTool("recall",
		mcp.WithDescription("Scored recall over runs and nodes, with applicable constraints and suggested next actions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text query")),
		mcp.WithNumber("limit", mcp.Description("Max results per category (default 5)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tag filter, each match boosts the score")),
		mcp.WithString("node_type", mcp.Description("Restrict nodes to one type")),
		mcp.WithString("mode", mcp.Description("keyword, semantic or hybrid (default from config)")),
		mcp.WithString("context", mcp.Description("Context id or name to scope the search")),
		mcp.WithString("contexts", mcp.Description("Comma-separated additional context refs")),
	), s.handleRecall)

	s.mcp.AddTool(mcp.NewTool("create_context",
		mcp.WithDescription("Create a vertical or project context."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Unique context name")),
		mcp.WithString("scope", mcp.Required(), mcp.Description("vertical or project")),
		mcp.WithString("parent", mcp.Description("Parent vertical id or name (required for projects)")),
	), s.handleCreateContext)

	s.mcp.AddTool(mcp.NewTool("list_contexts",
		mcp.WithDescription("List contexts, optionally filtered by scope or parent."),
		mcp.WithString("scope", mcp.Description("global, vertical or project")),
		mcp.WithString("parent", mcp.Description("Parent context id")),
	), s.handleListContexts)

	s.mcp.AddTool(mcp.NewTool("use_context",
		mcp.WithDescription("Set (or clear) the persisted active context used as the default write target."),
		mcp.WithString("context", mcp.Description("Context id or name; empty clears the pointer")),
	), s.handleUseContext)
}

func (s *Server) handleUpsertNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var node records.Node
	if err := json.Unmarshal([]byte(req.GetString("payload", "")), &node); err != nil {
		return mcp.NewToolResultError("invalid node payload: " + err.Error()), nil
	}
	res, err := s.engine.Records.UpsertNode(&node, req.GetString("context", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleRecordCheckpoint(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var cp records.Checkpoint
	if err := json.Unmarshal([]byte(req.GetString("payload", "")), &cp); err != nil {
		return mcp.NewToolResultError("invalid checkpoint payload: " + err.Error()), nil
	}
	res, err := s.engine.Records.RecordCheckpoint(&cp, req.GetString("context", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := recall.Request{
		Query:    req.GetString("query", ""),
		Tags:     splitCSV(req.GetString("tags", "")),
		NodeType: req.GetString("node_type", ""),
		Mode:     recall.Mode(req.GetString("mode", "")),
		Context:  req.GetString("context", ""),
		Contexts: splitCSV(req.GetString("contexts", "")),
	}
	if v, ok := req.GetArguments()["limit"].(float64); ok {
		r.Limit = int(v)
	}

	res, err := s.engine.Recall.Recall(ctx, r)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCreateContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.engine.Contexts.Create(
		req.GetString("name", ""),
		req.GetString("scope", ""),
		req.GetString("parent", ""),
		nil,
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) handleListContexts(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.engine.Contexts.List(req.GetString("scope", ""), req.GetString("parent", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

func (s *Server) handleUseContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := req.GetString("context", "")
	if ref == "" {
		if err := s.engine.Contexts.ClearActive(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]string{"active": contexts.GlobalID})
	}
	c, err := s.engine.Contexts.SetActive(ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"active": c.ID, "name": c.Name})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
