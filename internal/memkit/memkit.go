// Package memkit is the composition root: it opens the data directory and
// wires the index, lock manager, context store, record store, vector
// bridge and recall engine into one handle shared by the CLI and the MCP
// server.
package memkit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/memkit/internal/config"
	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/index"
	"github.com/nextlevelbuilder/memkit/internal/lockfile"
	"github.com/nextlevelbuilder/memkit/internal/recall"
	"github.com/nextlevelbuilder/memkit/internal/records"
	"github.com/nextlevelbuilder/memkit/internal/vector"
)

// Engine is an opened memkit instance.
type Engine struct {
	cfg *config.Config
	idx *index.DB

	Contexts *contexts.Store
	Records  *records.Store
	Recall   *recall.Engine

	bridge *vector.Bridge
}

type options struct {
	provider vector.EmbeddingProvider
}

// Option customizes Open.
type Option func(*options)

// WithProvider injects an embedding provider, overriding the one the
// config names.
func WithProvider(p vector.EmbeddingProvider) Option {
	return func(o *options) { o.provider = p }
}

// Open initializes the engine under cfg.Home, creating the directory
// layout on first use. A nil cfg means defaults.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	home := cfg.Home
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	idx, err := index.Open(filepath.Join(home, "index.db"))
	if err != nil {
		return nil, err
	}

	locks, err := lockfile.NewManager(filepath.Join(home, "locks"),
		lockfile.WithStaleAfter(time.Duration(cfg.Lock.StaleAfterMS)*time.Millisecond),
		lockfile.WithRetry(cfg.Lock.MaxRetries, time.Duration(cfg.Lock.RetryDelayMS)*time.Millisecond),
	)
	if err != nil {
		idx.Close()
		return nil, err
	}

	ctxs, err := contexts.NewStore(idx, home)
	if err != nil {
		idx.Close()
		return nil, err
	}

	bridge, err := buildBridge(cfg, home, o.provider)
	if err != nil {
		idx.Close()
		return nil, err
	}

	var indexer records.Indexer
	var semantic recall.Semantic
	if bridge != nil {
		indexer = bridge
		semantic = bridge
	}

	e := &Engine{
		cfg:      cfg,
		idx:      idx,
		Contexts: ctxs,
		Records:  records.NewStore(home, idx, ctxs, locks, indexer),
		Recall: recall.NewEngine(idx, ctxs, semantic, recall.Options{
			DefaultMode: recall.Mode(cfg.Recall.DefaultMode),
			TopK:        cfg.Recall.TopK,
			MinScore:    cfg.Recall.MinScore,
		}),
		bridge: bridge,
	}
	slog.Info("memkit opened", "home", home, "semantic", bridge != nil)
	return e, nil
}

func buildBridge(cfg *config.Config, home string, injected vector.EmbeddingProvider) (*vector.Bridge, error) {
	provider := injected
	if provider == nil {
		switch cfg.Embedding.Provider {
		case "", "none":
			return nil, nil
		case "mock":
			provider = vector.NewMockProvider()
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
		}
	}

	vidx, err := vector.NewChromemIndex(filepath.Join(home, "vectors"))
	if err != nil {
		return nil, err
	}
	return vector.NewBridge(provider, vidx, vector.BridgeConfig{
		Timeout:   time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
		RPS:       cfg.Embedding.RPS,
		CacheSize: cfg.Embedding.CacheSize,
	})
}

// ApplyConfig pushes a reloaded config into the running components.
// Only the recall options are hot-swappable; storage paths and the
// embedding provider need a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.Recall.SetOptions(recall.Options{
		DefaultMode: recall.Mode(cfg.Recall.DefaultMode),
		TopK:        cfg.Recall.TopK,
		MinScore:    cfg.Recall.MinScore,
	})
}

// Home returns the data directory.
func (e *Engine) Home() string { return e.cfg.Home }

// Semantic reports whether a vector bridge is wired.
func (e *Engine) Semantic() bool { return e.bridge != nil }

// Reindex rebuilds the vector index from the relational index.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	if e.bridge == nil {
		return 0, fmt.Errorf("no embedding provider configured")
	}
	return e.bridge.Reindex(ctx, e.idx, e.Contexts)
}

// Stats returns per-table record counts.
func (e *Engine) Stats() (map[string]int, error) {
	return e.idx.Counts()
}

// Close flushes in-flight indexing and releases the index.
func (e *Engine) Close() error {
	e.Records.Flush()
	return e.idx.Close()
}
