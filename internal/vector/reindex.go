package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/index"
	"github.com/nextlevelbuilder/memkit/internal/records"
)

// Reindex rebuilds the vector index from the relational index rows. Only
// the derived side is ever rebuilt; the file artifacts stay untouched.
// Returns the number of records indexed.
func (b *Bridge) Reindex(ctx context.Context, idx *index.DB, ctxs *contexts.Store) (int, error) {
	scopePaths, err := scopePathsByContext(ctxs)
	if err != nil {
		return 0, err
	}

	nodes, err := idx.ListNodes("", "", nil)
	if err != nil {
		return 0, err
	}
	runs, err := idx.ListRecentRuns(1<<30, nil)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := range nodes {
		row := nodes[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			var n records.Node
			if err := json.Unmarshal([]byte(row.Payload), &n); err != nil {
				slog.Warn("reindex: skipping undecodable node", "id", row.ID, "error", err)
				return nil
			}
			if err := b.IndexNode(&n, row.ContextID, scopePaths[row.ContextID]); err != nil {
				return fmt.Errorf("reindex node %s: %w", row.ID, err)
			}
			return nil
		})
	}
	for i := range runs {
		row := runs[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			var cp records.Checkpoint
			if err := json.Unmarshal([]byte(row.Payload), &cp); err != nil {
				slog.Warn("reindex: skipping undecodable run", "id", row.RunID, "error", err)
				return nil
			}
			if err := b.IndexRun(&cp, row.ContextID, scopePaths[row.ContextID]); err != nil {
				return fmt.Errorf("reindex run %s: %w", row.RunID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	slog.Info("vector reindex complete", "nodes", len(nodes), "runs", len(runs))
	return len(nodes) + len(runs), nil
}

func scopePathsByContext(ctxs *contexts.Store) (map[string]string, error) {
	all, err := ctxs.List("", "")
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(all))
	for _, c := range all {
		paths[c.ID] = c.ScopePath
	}
	return paths, nil
}
