package records

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/index"
	"github.com/nextlevelbuilder/memkit/internal/lockfile"
)

// WriteLockName serializes all index mutations.
const WriteLockName = "db-write"

// Indexer receives records for vector indexing after the durable write
// commits. Implementations must be safe for concurrent use; errors are
// observed and dropped by the store.
type Indexer interface {
	IndexNode(n *Node, contextID, scopePath string) error
	IndexRun(cp *Checkpoint, contextID, scopePath string) error
}

// Store is the record store: it validates payloads, writes file artifacts,
// maintains index rows under the write lock, and hands records to the
// vector indexer best-effort.
type Store struct {
	home    string
	idx     *index.DB
	ctxs    *contexts.Store
	locks   lockfile.Locker
	indexer Indexer

	indexing sync.WaitGroup
}

// NewStore creates a record store rooted at home. indexer may be nil to
// disable vector indexing.
func NewStore(home string, idx *index.DB, ctxs *contexts.Store, locks lockfile.Locker, indexer Indexer) *Store {
	return &Store{home: home, idx: idx, ctxs: ctxs, locks: locks, indexer: indexer}
}

// UpsertNode validates and persists a knowledge node, idempotent by id.
// Effective context precedence: explicit argument, then the payload's own
// context field, then the active context (default global).
func (s *Store) UpsertNode(payload *Node, explicitCtx string) (*UpsertResult, error) {
	if payload == nil {
		return nil, &ValidationError{Fields: []FieldViolation{{Field: "payload", Message: "required"}}}
	}
	if err := validateNode(payload); err != nil {
		return nil, err
	}

	created := payload.ID == ""
	if !created {
		exists, err := s.idx.NodeExists(payload.ID)
		if err != nil {
			return nil, err
		}
		created = !exists
	}

	ctxRow, err := s.effectiveContext(explicitCtx, payload.Context)
	if err != nil {
		return nil, err
	}
	payload.Context = ctxRow.ID

	now := time.Now().UTC()
	if created {
		if payload.CreatedAt.IsZero() {
			payload.CreatedAt = now
		}
		if !strings.HasPrefix(payload.ID, payload.Type+"-") {
			payload.ID = payload.Type + "-" + uuid.Must(uuid.NewV7()).String()
		}
	} else {
		existing, err := s.idx.GetNode(payload.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			payload.CreatedAt = existing.CreatedAt
		}
	}
	payload.UpdatedAt = now

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal node: %w", err)
	}

	// Durable artifact first; the index row is derived.
	path := filepath.Join(s.home, "nodes", payload.Type, payload.ID+".json")
	if err := writeArtifact(path, raw); err != nil {
		return nil, err
	}

	row := index.NodeRow{
		ID:        payload.ID,
		Type:      payload.Type,
		Title:     payload.Title,
		Status:    payload.Status,
		Tags:      payload.Tags,
		ContextID: ctxRow.ID,
		Payload:   string(raw),
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
	}
	if err := s.locks.WithLock(WriteLockName, func() error {
		return s.idx.UpsertNode(row)
	}); err != nil {
		return nil, err
	}

	s.spawnIndexing("node", payload.ID, func() error {
		return s.indexer.IndexNode(payload, ctxRow.ID, ctxRow.ScopePath)
	})

	return &UpsertResult{NodeID: payload.ID, Created: created}, nil
}

// RecordCheckpoint validates and persists a run checkpoint, assigning a
// run id and timestamp when absent. Re-recording the same run id replaces
// the index row; the file write is idempotent by path.
func (s *Store) RecordCheckpoint(payload *Checkpoint, explicitCtx string) (*CheckpointResult, error) {
	if payload == nil {
		return nil, &ValidationError{Fields: []FieldViolation{{Field: "payload", Message: "required"}}}
	}
	payload.Agent.ID = NormalizeAgentID(payload.Agent.ID)
	if err := validateCheckpoint(payload); err != nil {
		return nil, err
	}

	ctxRow, err := s.effectiveContext(explicitCtx, payload.Context)
	if err != nil {
		return nil, err
	}
	payload.Context = ctxRow.ID

	if payload.RunID == "" {
		payload.RunID = "run-" + uuid.Must(uuid.NewV7()).String()
	} else if payload.Timestamp.IsZero() {
		// Re-recording a known run must keep the stored timestamp, or the
		// year/month artifact path would drift and orphan the old file.
		existing, err := s.idx.GetRun(payload.RunID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			payload.Timestamp = existing.Timestamp
		}
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Year/month partitioned artifact, named by run id.
	path := filepath.Join(s.home, "runs",
		fmt.Sprintf("%04d", payload.Timestamp.Year()),
		fmt.Sprintf("%02d", payload.Timestamp.Month()),
		payload.RunID+".json")
	if err := writeArtifact(path, raw); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	linked := append([]string(nil), payload.Links.Nodes...)
	for _, nodeID := range linked {
		linkPath := filepath.Join(s.home, "links", payload.RunID+"__"+nodeID+".json")
		linkRaw, _ := json.MarshalIndent(map[string]string{
			"run_id":     payload.RunID,
			"node_id":    nodeID,
			"created_at": now.Format(time.RFC3339Nano),
		}, "", "  ")
		if err := writeArtifact(linkPath, linkRaw); err != nil {
			return nil, err
		}
	}

	row := index.RunRow{
		RunID:     payload.RunID,
		Timestamp: payload.Timestamp,
		AgentID:   payload.Agent.ID,
		Goal:      payload.Intent.Goal,
		Status:    payload.Result.Status,
		Summary:   payload.Result.Summary,
		Tags:      payload.Tags,
		ContextID: ctxRow.ID,
		Payload:   string(raw),
	}
	if err := s.locks.WithLock(WriteLockName, func() error {
		if err := s.idx.UpsertRun(row); err != nil {
			return err
		}
		for _, nodeID := range linked {
			if err := s.idx.InsertLink(index.LinkRow{RunID: payload.RunID, NodeID: nodeID, CreatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.spawnIndexing("run", payload.RunID, func() error {
		return s.indexer.IndexRun(payload, ctxRow.ID, ctxRow.ScopePath)
	})

	return &CheckpointResult{RunID: payload.RunID, FilePath: path, LinkedNodes: linked}, nil
}

// GetNode returns a node by id, or nil when absent.
func (s *Store) GetNode(id string) (*Node, error) {
	row, err := s.idx.GetNode(id)
	if err != nil || row == nil {
		return nil, err
	}
	return decodeNode(row)
}

// ListNodes returns nodes filtered by type, status and context set. A nil
// context set means unrestricted.
func (s *Store) ListNodes(nodeType, status string, contextIDs []string) ([]*Node, error) {
	rows, err := s.idx.ListNodes(nodeType, status, contextIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(rows))
	for i := range rows {
		n, err := decodeNode(&rows[i])
		if err != nil {
			slog.Warn("skipping undecodable node row", "id", rows[i].ID, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// GetCheckpoint returns a run checkpoint by id, or nil when absent.
func (s *Store) GetCheckpoint(runID string) (*Checkpoint, error) {
	row, err := s.idx.GetRun(runID)
	if err != nil || row == nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(row.Payload), &cp); err != nil {
		return nil, fmt.Errorf("decode run payload: %w", err)
	}
	return &cp, nil
}

// Flush waits for in-flight vector indexing to finish. Useful on shutdown
// and in tests; writers never wait on it.
func (s *Store) Flush() {
	s.indexing.Wait()
}

// effectiveContext resolves the documented precedence and returns the full
// context row (the scope path is needed for vector metadata).
func (s *Store) effectiveContext(explicit, fromPayload string) (*contexts.Context, error) {
	ref := explicit
	if ref == "" {
		ref = fromPayload
	}
	id, err := s.ctxs.Resolve(ref)
	if err != nil {
		return nil, err
	}
	row, err := s.ctxs.Get(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	return row, nil
}

// spawnIndexing fires the vector indexing task after the durable write has
// committed. Its error channel is deliberately observed-and-dropped: a
// vector failure must never fail the write.
func (s *Store) spawnIndexing(kind, id string, fn func() error) {
	if s.indexer == nil {
		return
	}
	s.indexing.Add(1)
	go func() {
		defer s.indexing.Done()
		if err := fn(); err != nil {
			slog.Warn("vector indexing failed", "kind", kind, "id", id, "error", err)
		}
	}()
}

func decodeNode(row *index.NodeRow) (*Node, error) {
	var n Node
	if err := json.Unmarshal([]byte(row.Payload), &n); err != nil {
		return nil, fmt.Errorf("decode node payload: %w", err)
	}
	return &n, nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
