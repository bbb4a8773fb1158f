// Package recall implements the scored retrieval engine over runs and
// nodes: keyword scoring, semantic scoring via the vector bridge, hybrid
// merging, and the always-computed metadata block (constraints in scope,
// suggested next actions). Every lookup is restricted to the resolved
// scope filter.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/index"
	"github.com/nextlevelbuilder/memkit/internal/vector"
)

// Recall modes.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Source describes what actually executed, which may differ from the
// requested mode after a silent fallback.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceVector  Source = "vector"
	SourceHybrid  Source = "hybrid"
)

// DefaultLimit is the per-category result count when none is requested.
const DefaultLimit = 5

// runWindow bounds how many recent runs are scanned before scoring.
const runWindow = 200

// Request is the recall input contract.
type Request struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	NodeType string   `json:"node_type,omitempty"`
	Mode     Mode     `json:"mode,omitempty"`
	Context  string   `json:"context,omitempty"`
	Contexts []string `json:"contexts,omitempty"`
}

// RunHit is a scored run checkpoint.
type RunHit struct {
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	AgentID    string    `json:"agent_id,omitempty"`
	Goal       string    `json:"goal,omitempty"`
	Status     string    `json:"status,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	ContextID  string    `json:"context_id"`
	Score      int       `json:"score"`
	Similarity float64   `json:"similarity,omitempty"`
}

// NodeHit is a scored knowledge node.
type NodeHit struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Status     string   `json:"status,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ContextID  string   `json:"context_id"`
	Score      int      `json:"score"`
	Similarity float64  `json:"similarity,omitempty"`
}

// Result is the recall output contract.
type Result struct {
	Query                 string    `json:"query"`
	Mode                  Mode      `json:"mode"`
	Source                Source    `json:"source"`
	TopRuns               []RunHit  `json:"top_runs"`
	TopNodes              []NodeHit `json:"top_nodes"`
	ApplicableConstraints []string  `json:"applicable_constraints"`
	SuggestedNextActions  []string  `json:"suggested_next_actions"`
}

// Semantic is the slice of the vector bridge recall depends on.
type Semantic interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	VectorIndex() vector.Index
}

// Options tune the engine; they can change at runtime via SetOptions
// (config hot-reload).
type Options struct {
	DefaultMode Mode
	TopK        int // vector neighbors per search before ×2 oversampling
	MinScore    int // floor applied to final scores; zero disables
}

// Engine is the recall engine. semantic may be nil, which pins every call
// to keyword scoring.
type Engine struct {
	idx      *index.DB
	ctxs     *contexts.Store
	semantic Semantic

	mu   sync.RWMutex
	opts Options
}

// NewEngine creates a recall engine.
func NewEngine(idx *index.DB, ctxs *contexts.Store, semantic Semantic, opts Options) *Engine {
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeKeyword
	}
	return &Engine{idx: idx, ctxs: ctxs, semantic: semantic, opts: opts}
}

// SetOptions replaces the runtime options.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeKeyword
	}
	e.opts = opts
}

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Recall runs a scored retrieval. Semantic and hybrid failures silently
// degrade to keyword; the result's Source reflects what actually ran.
func (e *Engine) Recall(ctx context.Context, req Request) (*Result, error) {
	opts := e.options()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	mode := req.Mode
	if mode == "" {
		mode = opts.DefaultMode
	}
	switch mode {
	case ModeKeyword, ModeSemantic, ModeHybrid:
	default:
		return nil, fmt.Errorf("unknown recall mode %q", mode)
	}

	scope, err := e.ctxs.ResolveScopeFilter(req.Context, req.Contexts)
	if err != nil {
		return nil, err
	}

	res := &Result{Query: req.Query, Mode: mode}
	res.ApplicableConstraints, res.SuggestedNextActions = e.gatherMetadata(scope)

	switch mode {
	case ModeKeyword:
		res.Source = SourceKeyword
		res.TopRuns = e.keywordRuns(req, scope, limit)
		res.TopNodes = e.keywordNodes(req, scope, limit)

	case ModeSemantic:
		runs, nodes, err := e.semanticScore(ctx, req, scope, limit)
		if err != nil {
			slog.Warn("semantic recall degraded, using keyword", "error", err)
			res.Source = SourceKeyword
			res.TopRuns = e.keywordRuns(req, scope, limit)
			res.TopNodes = e.keywordNodes(req, scope, limit)
			break
		}
		res.Source = SourceVector
		res.TopRuns, res.TopNodes = runs, nodes

	case ModeHybrid:
		runs, nodes, err := e.hybridScore(ctx, req, scope, limit)
		if err != nil {
			slog.Warn("hybrid recall degraded, using keyword", "error", err)
			res.Source = SourceKeyword
			res.TopRuns = e.keywordRuns(req, scope, limit)
			res.TopNodes = e.keywordNodes(req, scope, limit)
			break
		}
		res.Source = SourceHybrid
		res.TopRuns, res.TopNodes = runs, nodes
	}

	if opts.MinScore > 0 {
		res.TopRuns = filterRunsByScore(res.TopRuns, opts.MinScore)
		res.TopNodes = filterNodesByScore(res.TopNodes, opts.MinScore)
	}
	return res, nil
}

func filterRunsByScore(hits []RunHit, min int) []RunHit {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= min {
			out = append(out, h)
		}
	}
	return out
}

func filterNodesByScore(hits []NodeHit, min int) []NodeHit {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= min {
			out = append(out, h)
		}
	}
	return out
}

// tokenize splits the query on whitespace, lowercases and discards tokens
// of length ≤ 1.
func tokenize(query string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// keywordRuns scores the run population: +2 per token in the text blob,
// +3 per token in the run id, +3 per matching caller tag, plus a recency
// bonus. Runs are scanned most-recent-first up to a bounded window.
func (e *Engine) keywordRuns(req Request, scope []string, limit int) []RunHit {
	rows, err := e.idx.ListRecentRuns(runWindow, scope)
	if err != nil {
		slog.Warn("keyword run scan failed", "error", err)
		return nil
	}

	tokens := tokenize(req.Query)
	now := time.Now()

	var hits []RunHit
	for _, row := range rows {
		blob := strings.ToLower(row.Goal + " " + row.Summary + " " + row.AgentID)
		idLower := strings.ToLower(row.RunID)

		score := 0
		for _, tok := range tokens {
			if strings.Contains(blob, tok) {
				score += 2
			}
			if strings.Contains(idLower, tok) {
				score += 3
			}
		}
		for _, tag := range req.Tags {
			if slices.Contains(row.Tags, tag) {
				score += 3
			}
		}
		if age := now.Sub(row.Timestamp); age < 24*time.Hour {
			score += 2
		} else if age < 7*24*time.Hour {
			score += 1
		}

		if score <= 0 {
			continue
		}
		hits = append(hits, RunHit{
			RunID:     row.RunID,
			Timestamp: row.Timestamp,
			AgentID:   row.AgentID,
			Goal:      row.Goal,
			Status:    row.Status,
			Summary:   row.Summary,
			Tags:      row.Tags,
			ContextID: row.ContextID,
			Score:     score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// keywordNodes scores the node population: +2 per token in the text blob,
// +3 per token in the id, +3 per matching caller tag, +1 for active
// status. Nodes are filtered by type and scope before scoring.
func (e *Engine) keywordNodes(req Request, scope []string, limit int) []NodeHit {
	rows, err := e.idx.ListNodes(req.NodeType, "", scope)
	if err != nil {
		slog.Warn("keyword node scan failed", "error", err)
		return nil
	}

	tokens := tokenize(req.Query)

	var hits []NodeHit
	for _, row := range rows {
		blob := strings.ToLower(row.Title + " " + strings.Join(row.Tags, " ") + " " + row.Type)
		idLower := strings.ToLower(row.ID)

		score := 0
		for _, tok := range tokens {
			if strings.Contains(blob, tok) {
				score += 2
			}
			if strings.Contains(idLower, tok) {
				score += 3
			}
		}
		for _, tag := range req.Tags {
			if slices.Contains(row.Tags, tag) {
				score += 3
			}
		}
		if row.Status == "active" {
			score += 1
		}

		if score <= 0 {
			continue
		}
		hits = append(hits, NodeHit{
			ID:        row.ID,
			Type:      row.Type,
			Title:     row.Title,
			Status:    row.Status,
			Tags:      row.Tags,
			ContextID: row.ContextID,
			Score:     score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// gatherMetadata is computed on every recall, scope-filtered and
// independent of mode: active constraints, and up to 20 suggested actions
// drawn from the next_actions of the first 10 active tasks by id order.
func (e *Engine) gatherMetadata(scope []string) (constraints, nextActions []string) {
	constraints = []string{}
	nextActions = []string{}

	crows, err := e.idx.ListNodes("constraint", "active", scope)
	if err != nil {
		slog.Warn("constraint gather failed", "error", err)
	}
	for _, row := range crows {
		constraints = append(constraints, "["+row.ID+"] "+row.Title)
	}

	trows, err := e.idx.ListNodes("task", "active", scope)
	if err != nil {
		slog.Warn("task gather failed", "error", err)
	}
	if len(trows) > 10 {
		trows = trows[:10]
	}
	for _, row := range trows {
		for _, action := range nodeNextActions(row.Payload) {
			nextActions = append(nextActions, "["+row.ID+"] "+action)
			if len(nextActions) == 20 {
				return constraints, nextActions
			}
		}
	}
	return constraints, nextActions
}
