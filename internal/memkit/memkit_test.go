package memkit

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/memkit/internal/config"
	"github.com/nextlevelbuilder/memkit/internal/contexts"
	"github.com/nextlevelbuilder/memkit/internal/recall"
	"github.com/nextlevelbuilder/memkit/internal/records"
)

func testConfig(t *testing.T, provider string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	cfg.Embedding.Provider = provider
	cfg.Embedding.RPS = 1000
	return cfg
}

func TestOpenKeywordOnly(t *testing.T) {
	e, err := Open(testConfig(t, ""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if e.Semantic() {
		t.Error("semantic reported without a provider")
	}
	if _, err := e.Reindex(context.Background()); err == nil {
		t.Error("Reindex without a provider should fail")
	}
}

func TestOpenRejectsUnknownProvider(t *testing.T) {
	if _, err := Open(testConfig(t, "quantum")); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestEndToEnd(t *testing.T) {
	e, err := Open(testConfig(t, "mock"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	vert, err := e.Contexts.Create("healthcare", contexts.ScopeVertical, "", nil)
	if err != nil {
		t.Fatalf("create vertical: %v", err)
	}
	proj, err := e.Contexts.Create("saude", contexts.ScopeProject, vert.ID, nil)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := e.Contexts.SetActive("saude"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	up, err := e.Records.UpsertNode(&records.Node{
		Type:  "task",
		Title: "deploy patient portal",
		Tags:  []string{"deploy"},
	}, "")
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	cp, err := e.Records.RecordCheckpoint(&records.Checkpoint{
		Agent:  records.AgentRef{ID: "planner"},
		Intent: records.Intent{Goal: "deploy patient portal"},
		Result: records.Result{Status: "success", Summary: "rolled out"},
		Links:  records.Links{Nodes: []string{up.NodeID}},
	}, "")
	if err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}
	e.Records.Flush()

	res, err := e.Recall.Recall(context.Background(), recall.Request{
		Query: "deploy patient portal", Mode: recall.ModeHybrid, Context: "saude",
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if res.Source != recall.SourceHybrid {
		t.Errorf("source = %s, want hybrid", res.Source)
	}
	foundRun := false
	for _, h := range res.TopRuns {
		if h.RunID == cp.RunID {
			foundRun = true
			if h.ContextID != proj.ID {
				t.Errorf("run context = %s, want %s", h.ContextID, proj.ID)
			}
		}
	}
	if !foundRun {
		t.Errorf("checkpoint %s not recalled: %+v", cp.RunID, res.TopRuns)
	}

	stats, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["nodes"] != 1 || stats["runs"] != 1 || stats["links"] != 1 {
		t.Errorf("stats = %v", stats)
	}

	count, err := e.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if count != 2 {
		t.Errorf("reindexed = %d, want 2", count)
	}
}

func TestApplyConfigSwapsRecallDefaults(t *testing.T) {
	e, err := Open(testConfig(t, ""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	next := config.Default()
	next.Recall.DefaultMode = "hybrid"
	e.ApplyConfig(next)

	// Hybrid without a provider silently degrades to keyword.
	res, err := e.Recall.Recall(context.Background(), recall.Request{Query: "anything"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if res.Mode != recall.ModeHybrid || res.Source != recall.SourceKeyword {
		t.Errorf("mode/source = %s/%s", res.Mode, res.Source)
	}
}
