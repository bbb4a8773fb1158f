package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/memkit/internal/records"
)

// BridgeConfig tunes the embedding path.
type BridgeConfig struct {
	Timeout   time.Duration // per embedding call (default 10s)
	RPS       float64       // embedding calls per second (default 5)
	CacheSize int           // embedding LRU entries (default 512)
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 5
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	return c
}

// Bridge converts stored records into vector-index entries and embeds
// recall queries. Embedding calls are rate-limited, timeout-guarded, and
// cached by content hash.
type Bridge struct {
	provider EmbeddingProvider
	index    Index
	cache    *lru.Cache[string, []float32]
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewBridge wires an embedding provider to a vector index.
func NewBridge(provider EmbeddingProvider, index Index, cfg BridgeConfig) (*Bridge, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Bridge{
		provider: provider,
		index:    index,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		timeout:  cfg.Timeout,
	}, nil
}

// VectorIndex returns the underlying vector index for search.
func (b *Bridge) VectorIndex() Index { return b.index }

// Embed returns the embedding for text, consulting the cache first. The
// call never outlives the configured timeout.
func (b *Bridge) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if vec, ok := b.cache.Get(key); ok {
		return vec, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	vecs, err := b.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed: provider %s returned no vectors", b.provider.Name())
	}

	b.cache.Add(key, vecs[0])
	return vecs[0], nil
}

// IndexNode embeds a node and upserts it into the vector index, tagged
// with its effective context and scope path.
func (b *Bridge) IndexNode(n *records.Node, contextID, scopePath string) error {
	ctx := context.Background()
	vec, err := b.Embed(ctx, NodeText(n))
	if err != nil {
		return err
	}
	return b.index.Upsert(ctx, n.ID, vec, map[string]string{
		MetaKind:      "node",
		MetaContextID: contextID,
		MetaScopePath: scopePath,
		MetaType:      n.Type,
		MetaTitle:     n.Title,
		MetaStatus:    n.Status,
		MetaTags:      JoinTags(n.Tags),
	})
}

// IndexRun embeds a run checkpoint and upserts it into the vector index.
func (b *Bridge) IndexRun(cp *records.Checkpoint, contextID, scopePath string) error {
	ctx := context.Background()
	vec, err := b.Embed(ctx, RunText(cp))
	if err != nil {
		return err
	}
	return b.index.Upsert(ctx, cp.RunID, vec, map[string]string{
		MetaKind:      "run",
		MetaContextID: contextID,
		MetaScopePath: scopePath,
		MetaGoal:      cp.Intent.Goal,
		MetaSummary:   cp.Result.Summary,
		MetaStatus:    cp.Result.Status,
		MetaAgentID:   cp.Agent.ID,
		MetaTimestamp: cp.Timestamp.UTC().Format(time.RFC3339Nano),
		MetaTags:      JoinTags(cp.Tags),
	})
}

// NodeText builds the embedding text for a node from its title, tags,
// next actions and body.
func NodeText(n *records.Node) string {
	parts := []string{n.Title}
	if len(n.Tags) > 0 {
		parts = append(parts, strings.Join(n.Tags, " "))
	}
	if len(n.NextActions) > 0 {
		parts = append(parts, strings.Join(n.NextActions, " "))
	}
	if n.Body != "" {
		parts = append(parts, n.Body)
	}
	return strings.Join(parts, "\n")
}

// RunText builds the embedding text for a run checkpoint.
func RunText(cp *records.Checkpoint) string {
	parts := []string{cp.Intent.Goal}
	if cp.Result.Summary != "" {
		parts = append(parts, cp.Result.Summary)
	}
	if cp.Agent.ID != "" {
		parts = append(parts, cp.Agent.ID)
	}
	if len(cp.Tags) > 0 {
		parts = append(parts, strings.Join(cp.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}
