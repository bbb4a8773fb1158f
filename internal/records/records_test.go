package records

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/index"
	"github.com/nextlevelbuilder/memkit/internal/lockfile"
)

type capturingIndexer struct {
	mu    sync.Mutex
	nodes []string
	runs  []string
}

func (c *capturingIndexer) IndexNode(n *Node, contextID, scopePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n.ID+"@"+contextID+"|"+scopePath)
	return nil
}

func (c *capturingIndexer) IndexRun(cp *Checkpoint, contextID, scopePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, cp.RunID+"@"+contextID)
	return nil
}

func newTestStore(t *testing.T, indexer Indexer) (*Store, *contexts.Store, string) {
	t.Helper()
	home := t.TempDir()
	idx, err := index.Open(filepath.Join(home, "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	ctxs, err := contexts.NewStore(idx, home)
	if err != nil {
		t.Fatalf("contexts.NewStore: %v", err)
	}
	locks, err := lockfile.NewManager(filepath.Join(home, "locks"))
	if err != nil {
		t.Fatalf("lockfile.NewManager: %v", err)
	}
	return NewStore(home, idx, ctxs, locks, indexer), ctxs, home
}

func TestUpsertNodeValidation(t *testing.T) {
	s, _, _ := newTestStore(t, nil)

	_, err := s.UpsertNode(&Node{Type: "bogus", Status: "nope"}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Every violated field is reported, not just the first.
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"type", "title", "status"} {
		if !fields[want] {
			t.Errorf("missing violation for %q in %v", want, verr.Fields)
		}
	}
}

func TestUpsertNodeCreateAndUpdate(t *testing.T) {
	s, _, home := newTestStore(t, nil)

	res, err := s.UpsertNode(&Node{Type: "task", Title: "Ship it", Tags: []string{"deploy"}}, "")
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if !res.Created {
		t.Error("first upsert: created = false")
	}
	if !strings.HasPrefix(res.NodeID, "task-") {
		t.Errorf("node id = %s, want task- prefix", res.NodeID)
	}

	// Artifact on disk at nodes/<type>/<id>.json.
	artifact := filepath.Join(home, "nodes", "task", res.NodeID+".json")
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	got, err := s.GetNode(res.NodeID)
	if err != nil || got == nil {
		t.Fatalf("GetNode: %v, %v", got, err)
	}
	if got.Status != "active" {
		t.Errorf("default status = %s", got.Status)
	}
	if got.Context != contexts.GlobalID {
		t.Errorf("effective context = %s", got.Context)
	}
	created := got.CreatedAt

	// Second upsert with the same id: created=false, same node id,
	// created_at preserved.
	time.Sleep(5 * time.Millisecond)
	res2, err := s.UpsertNode(&Node{ID: res.NodeID, Type: "task", Title: "Ship it"}, "")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res2.Created {
		t.Error("second upsert: created = true")
	}
	if res2.NodeID != res.NodeID {
		t.Errorf("node id changed: %s -> %s", res.NodeID, res2.NodeID)
	}
	got2, _ := s.GetNode(res.NodeID)
	if !got2.CreatedAt.Equal(created) {
		t.Error("created_at was restamped on update")
	}
	if !got2.UpdatedAt.After(got2.CreatedAt) {
		t.Error("updated_at not advanced")
	}
}

func TestUpsertNodeKeepsTypePrefixedID(t *testing.T) {
	s, _, _ := newTestStore(t, nil)

	res, err := s.UpsertNode(&Node{ID: "task-custom", Type: "task", Title: "t"}, "")
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if res.NodeID != "task-custom" {
		t.Errorf("id = %s, want task-custom", res.NodeID)
	}

	// Non-prefixed id on create gets replaced by a generated one.
	res2, err := s.UpsertNode(&Node{ID: "my-note", Type: "decision", Title: "t"}, "")
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if !strings.HasPrefix(res2.NodeID, "decision-") || res2.NodeID == "my-note" {
		t.Errorf("id = %s, want generated decision- id", res2.NodeID)
	}
}

func TestEffectiveContextPrecedence(t *testing.T) {
	s, ctxs, _ := newTestStore(t, nil)
	v, _ := ctxs.Create("saude", contexts.ScopeVertical, "", nil)
	p, _ := ctxs.Create("drclick", contexts.ScopeProject, v.ID, nil)

	// Payload context.
	res, _ := s.UpsertNode(&Node{Type: "task", Title: "a", Context: "saude"}, "")
	got, _ := s.GetNode(res.NodeID)
	if got.Context != v.ID {
		t.Errorf("payload context = %s, want %s", got.Context, v.ID)
	}

	// Explicit argument beats payload.
	res, _ = s.UpsertNode(&Node{Type: "task", Title: "b", Context: "saude"}, "drclick")
	got, _ = s.GetNode(res.NodeID)
	if got.Context != p.ID {
		t.Errorf("explicit context = %s, want %s", got.Context, p.ID)
	}

	// Active context is the default.
	ctxs.SetActive("drclick")
	res, _ = s.UpsertNode(&Node{Type: "task", Title: "c"}, "")
	got, _ = s.GetNode(res.NodeID)
	if got.Context != p.ID {
		t.Errorf("active context = %s, want %s", got.Context, p.ID)
	}

	// Unknown explicit context is an error.
	if _, err := s.UpsertNode(&Node{Type: "task", Title: "d"}, "ghost"); !errors.Is(err, contexts.ErrNotFound) {
		t.Errorf("unknown context: %v", err)
	}
}

func TestRecordCheckpoint(t *testing.T) {
	indexer := &capturingIndexer{}
	s, _, home := newTestStore(t, indexer)

	nodeRes, _ := s.UpsertNode(&Node{Type: "task", Title: "deploy"}, "")
	s.Flush()

	cp := &Checkpoint{
		Agent:  AgentRef{ID: "agent-1", Name: "builder"},
		Intent: Intent{Goal: "deploy the service"},
		Result: Result{Status: "success", Summary: "deployed"},
		Links:  Links{Nodes: []string{nodeRes.NodeID}},
		Tags:   []string{"deploy"},
	}
	res, err := s.RecordCheckpoint(cp, "")
	if err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}
	if !strings.HasPrefix(res.RunID, "run-") {
		t.Errorf("run id = %s", res.RunID)
	}
	if filepath.Base(res.FilePath) != res.RunID+".json" {
		t.Errorf("file name = %s, want %s.json", filepath.Base(res.FilePath), res.RunID)
	}
	if _, err := os.Stat(res.FilePath); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	// Year/month partitioning.
	now := time.Now().UTC()
	wantDir := filepath.Join(home, "runs",
		now.Format("2006"), now.Format("01"))
	if filepath.Dir(res.FilePath) != wantDir {
		t.Errorf("artifact dir = %s, want %s", filepath.Dir(res.FilePath), wantDir)
	}

	// Index row retrievable by the same id.
	got, err := s.GetCheckpoint(res.RunID)
	if err != nil || got == nil {
		t.Fatalf("GetCheckpoint: %v, %v", got, err)
	}
	if got.Intent.Goal != "deploy the service" {
		t.Errorf("goal = %s", got.Intent.Goal)
	}

	// Link artifact and result.
	if len(res.LinkedNodes) != 1 || res.LinkedNodes[0] != nodeRes.NodeID {
		t.Errorf("linked = %v", res.LinkedNodes)
	}
	linkPath := filepath.Join(home, "links", res.RunID+"__"+nodeRes.NodeID+".json")
	if _, err := os.Stat(linkPath); err != nil {
		t.Errorf("link artifact missing: %v", err)
	}

	s.Flush()
	if len(indexer.runs) != 1 || !strings.HasPrefix(indexer.runs[0], res.RunID+"@") {
		t.Errorf("vector indexer calls = %v", indexer.runs)
	}
}

func TestRecordCheckpointRerecordKeepsArtifactPath(t *testing.T) {
	s, _, home := newTestStore(t, nil)

	// Stamp the first recording in a different month than today so a
	// fresh time.Now() on re-record could not land on the same path by
	// accident.
	past := time.Now().UTC().AddDate(0, -2, 0)
	first, err := s.RecordCheckpoint(&Checkpoint{
		Timestamp: past,
		Agent:     AgentRef{ID: "agent-1"},
		Intent:    Intent{Goal: "deploy"},
		Result:    Result{Status: "failure", Summary: "rollback"},
	}, "")
	if err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}

	// Re-record the same run id without a timestamp.
	second, err := s.RecordCheckpoint(&Checkpoint{
		RunID:  first.RunID,
		Agent:  AgentRef{ID: "agent-1"},
		Intent: Intent{Goal: "deploy"},
		Result: Result{Status: "success", Summary: "fixed and deployed"},
	}, "")
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if second.FilePath != first.FilePath {
		t.Fatalf("artifact path moved: %s -> %s", first.FilePath, second.FilePath)
	}

	// One artifact only, holding the replacement payload.
	var paths []string
	filepath.Walk(filepath.Join(home, "runs"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if len(paths) != 1 || paths[0] != first.FilePath {
		t.Errorf("run artifacts = %v, want only %s", paths, first.FilePath)
	}

	got, err := s.GetCheckpoint(first.RunID)
	if err != nil || got == nil {
		t.Fatalf("GetCheckpoint: %v, %v", got, err)
	}
	if got.Result.Status != "success" || !got.Timestamp.Equal(past) {
		t.Errorf("re-recorded run = status %s ts %v, want success at %v", got.Result.Status, got.Timestamp, past)
	}
}

func TestCheckpointValidation(t *testing.T) {
	s, _, _ := newTestStore(t, nil)

	_, err := s.RecordCheckpoint(&Checkpoint{Result: Result{Status: "sideways"}}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	if !fields["agent.id"] || !fields["result.status"] {
		t.Errorf("violations = %v", verr.Fields)
	}
}

func TestIndexingIsBestEffort(t *testing.T) {
	s, _, _ := newTestStore(t, failingIndexer{})

	// The write must succeed even though vector indexing always fails.
	res, err := s.UpsertNode(&Node{Type: "task", Title: "t"}, "")
	if err != nil {
		t.Fatalf("UpsertNode with failing indexer: %v", err)
	}
	s.Flush()

	if got, _ := s.GetNode(res.NodeID); got == nil {
		t.Error("node not stored")
	}
}

type failingIndexer struct{}

func (failingIndexer) IndexNode(*Node, string, string) error      { return errors.New("embedder down") }
func (failingIndexer) IndexRun(*Checkpoint, string, string) error { return errors.New("embedder down") }
