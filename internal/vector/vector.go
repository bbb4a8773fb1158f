// Package vector bridges stored records to the embedding provider and the
// vector index. Everything in here is best-effort from the writer's point
// of view: the record store fires indexing after the durable write commits
// and drops any error, and recall falls back to keyword scoring when this
// path is unavailable.
package vector

import (
	"context"
	"strings"
)

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is one nearest-neighbor result. Distance is the Euclidean distance
// between normalized vectors, so similarity recovers as 1 - d²/2.
type Hit struct {
	RefID    string
	Distance float64
	Meta     map[string]string
}

// Index stores and searches embeddings. scope restricts results to the
// given context ids; nil means unrestricted.
type Index interface {
	Upsert(ctx context.Context, id string, vec []float32, meta map[string]string) error
	Search(ctx context.Context, vec []float32, k int, scope []string) ([]Hit, error)
}

// Metadata keys attached to every indexed record. The denormalized display
// fields let recall synthesize a result for records returned only by the
// vector path.
const (
	MetaKind      = "kind" // "node" or "run"
	MetaContextID = "context_id"
	MetaScopePath = "scope_path"
	MetaTitle     = "title"
	MetaType      = "type"
	MetaStatus    = "status"
	MetaTags      = "tags" // comma-joined
	MetaGoal      = "goal"
	MetaSummary   = "summary"
	MetaAgentID   = "agent_id"
	MetaTimestamp = "ts"
)

// JoinTags flattens a tag set for metadata storage.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags undoes JoinTags.
func SplitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
