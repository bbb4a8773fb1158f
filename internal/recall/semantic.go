package recall

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/nextlevelbuilder/memkit/internal/vector"
)

// semanticScore embeds the query and scores nearest neighbors. The vector
// search oversamples ×2 so that kind and type filtering still leaves
// enough candidates. similarity = clamp(1 - d²/2, 0, 1); the integer
// score is round(similarity × 10).
func (e *Engine) semanticScore(ctx context.Context, req Request, scope []string, limit int) ([]RunHit, []NodeHit, error) {
	if e.semantic == nil {
		return nil, nil, errors.New("no embedding provider configured")
	}

	vec, err := e.semantic.Embed(ctx, req.Query)
	if err != nil {
		return nil, nil, err
	}

	k := e.options().TopK
	if k <= 0 {
		k = limit
	}
	hits, err := e.semantic.VectorIndex().Search(ctx, vec, k*2, scope)
	if err != nil {
		return nil, nil, err
	}

	var runs []RunHit
	var nodes []NodeHit
	for _, h := range hits {
		sim := similarity(h.Distance)
		score := int(math.Round(sim * 10))

		switch h.Meta[vector.MetaKind] {
		case "run":
			runs = append(runs, runHitFromMeta(h, sim, score))
		case "node":
			if req.NodeType != "" && h.Meta[vector.MetaType] != req.NodeType {
				continue
			}
			nodes = append(nodes, nodeHitFromMeta(h, sim, score))
		}
	}

	sortRuns(runs)
	sortNodes(nodes)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return runs, nodes, nil
}

// hybridScore runs both channels at 2×limit, merges by record identity
// (merged score = keyword score + round(similarity × 10)), and keeps
// vector-only results synthesized from index metadata.
func (e *Engine) hybridScore(ctx context.Context, req Request, scope []string, limit int) ([]RunHit, []NodeHit, error) {
	semRuns, semNodes, err := e.semanticScore(ctx, req, scope, 2*limit)
	if err != nil {
		return nil, nil, err
	}
	kwRuns := e.keywordRuns(req, scope, 2*limit)
	kwNodes := e.keywordNodes(req, scope, 2*limit)

	runs := mergeRuns(kwRuns, semRuns)
	nodes := mergeNodes(kwNodes, semNodes)

	sortRuns(runs)
	sortNodes(nodes)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return runs, nodes, nil
}

func mergeRuns(kw, sem []RunHit) []RunHit {
	out := make([]RunHit, len(kw))
	copy(out, kw)
	byID := make(map[string]int, len(out))
	for i, h := range out {
		byID[h.RunID] = i
	}
	for _, h := range sem {
		if i, ok := byID[h.RunID]; ok {
			out[i].Score += h.Score
			out[i].Similarity = h.Similarity
			continue
		}
		out = append(out, h)
	}
	return out
}

func mergeNodes(kw, sem []NodeHit) []NodeHit {
	out := make([]NodeHit, len(kw))
	copy(out, kw)
	byID := make(map[string]int, len(out))
	for i, h := range out {
		byID[h.ID] = i
	}
	for _, h := range sem {
		if i, ok := byID[h.ID]; ok {
			out[i].Score += h.Score
			out[i].Similarity = h.Similarity
			continue
		}
		out = append(out, h)
	}
	return out
}

func runHitFromMeta(h vector.Hit, sim float64, score int) RunHit {
	hit := RunHit{
		RunID:      h.RefID,
		AgentID:    h.Meta[vector.MetaAgentID],
		Goal:       h.Meta[vector.MetaGoal],
		Status:     h.Meta[vector.MetaStatus],
		Summary:    h.Meta[vector.MetaSummary],
		Tags:       vector.SplitTags(h.Meta[vector.MetaTags]),
		ContextID:  h.Meta[vector.MetaContextID],
		Score:      score,
		Similarity: sim,
	}
	if ts, err := time.Parse(time.RFC3339Nano, h.Meta[vector.MetaTimestamp]); err == nil {
		hit.Timestamp = ts
	}
	return hit
}

func nodeHitFromMeta(h vector.Hit, sim float64, score int) NodeHit {
	return NodeHit{
		ID:         h.RefID,
		Type:       h.Meta[vector.MetaType],
		Title:      h.Meta[vector.MetaTitle],
		Status:     h.Meta[vector.MetaStatus],
		Tags:       vector.SplitTags(h.Meta[vector.MetaTags]),
		ContextID:  h.Meta[vector.MetaContextID],
		Score:      score,
		Similarity: sim,
	}
}

func similarity(distance float64) float64 {
	sim := 1 - distance*distance/2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func sortRuns(hits []RunHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
}

func sortNodes(hits []NodeHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// nodeNextActions extracts the next_actions list from a stored node
// payload without decoding the full record.
func nodeNextActions(payload string) []string {
	var n struct {
		NextActions []string `json:"next_actions"`
	}
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil
	}
	return n.NextActions
}
