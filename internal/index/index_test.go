package index

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestContextRows(t *testing.T) {
	d := openTestDB(t)
	now := time.Now()

	rows := []ContextRow{
		{ID: "__global__", Name: "global", Scope: "global", ScopePath: "__global__", CreatedAt: now, UpdatedAt: now},
		{ID: "vert-1", Name: "saude", Scope: "vertical", ParentID: "__global__", ScopePath: "__global__/vert-1", CreatedAt: now, UpdatedAt: now},
		{ID: "proj-1", Name: "drclick", Scope: "project", ParentID: "vert-1", ScopePath: "__global__/vert-1/proj-1", CreatedAt: now, UpdatedAt: now},
	}
	for _, c := range rows {
		if err := d.UpsertContext(c); err != nil {
			t.Fatalf("UpsertContext(%s): %v", c.ID, err)
		}
	}

	got, err := d.GetContextByID("proj-1")
	if err != nil || got == nil {
		t.Fatalf("GetContextByID: %v, %v", got, err)
	}
	if got.ParentID != "vert-1" || got.ScopePath != "__global__/vert-1/proj-1" {
		t.Errorf("row = %+v", got)
	}

	byName, err := d.GetContextByName("saude")
	if err != nil || byName == nil || byName.ID != "vert-1" {
		t.Fatalf("GetContextByName = %+v, %v", byName, err)
	}

	if missing, err := d.GetContextByID("nope"); err != nil || missing != nil {
		t.Fatalf("absent lookup = %+v, %v", missing, err)
	}

	// Ordered by (scope, name): global < project < vertical lexically.
	all, err := d.ListContexts("", "")
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if len(all) != 3 || all[0].Scope != "global" || all[1].Scope != "project" || all[2].Scope != "vertical" {
		t.Errorf("list order = %v", all)
	}

	children, err := d.CountChildren("vert-1")
	if err != nil || children != 1 {
		t.Errorf("CountChildren = %d, %v", children, err)
	}

	if err := d.DeleteContext("proj-1"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if got, _ := d.GetContextByID("proj-1"); got != nil {
		t.Error("context still present after delete")
	}
}

func TestNodeRows(t *testing.T) {
	d := openTestDB(t)
	now := time.Now()

	n := NodeRow{
		ID: "task-1", Type: "task", Title: "Ship deploy pipeline", Status: "active",
		Tags: []string{"deploy", "ci"}, ContextID: "proj-1", Payload: `{"id":"task-1"}`,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := d.UpsertNode(n); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	ok, err := d.NodeExists("task-1")
	if err != nil || !ok {
		t.Fatalf("NodeExists = %v, %v", ok, err)
	}
	if ok, _ := d.NodeExists("task-2"); ok {
		t.Error("NodeExists(true) for absent node")
	}

	got, err := d.GetNode("task-1")
	if err != nil || got == nil {
		t.Fatalf("GetNode: %v, %v", got, err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "deploy" {
		t.Errorf("tags = %v", got.Tags)
	}

	// Replace keeps the same primary key.
	n.Status = "done"
	if err := d.UpsertNode(n); err != nil {
		t.Fatalf("UpsertNode replace: %v", err)
	}
	got, _ = d.GetNode("task-1")
	if got.Status != "done" {
		t.Errorf("status after replace = %s", got.Status)
	}

	d.UpsertNode(NodeRow{ID: "decision-1", Type: "decision", Title: "Use sqlite", Status: "active", ContextID: "other", Payload: "{}", CreatedAt: now, UpdatedAt: now})

	byType, err := d.ListNodes("task", "", nil)
	if err != nil || len(byType) != 1 {
		t.Fatalf("ListNodes(type) = %v, %v", byType, err)
	}

	scoped, err := d.ListNodes("", "", []string{"proj-1"})
	if err != nil || len(scoped) != 1 || scoped[0].ID != "task-1" {
		t.Fatalf("ListNodes(scope) = %v, %v", scoped, err)
	}

	empty, err := d.ListNodes("", "", []string{})
	if err != nil || empty != nil {
		t.Fatalf("ListNodes(empty scope) = %v, %v", empty, err)
	}
}

func TestRunRowsRecentFirst(t *testing.T) {
	d := openTestDB(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		r := RunRow{
			RunID:     "run-" + string(rune('a'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			AgentID:   "agent-1",
			Goal:      "deploy service",
			Status:    "success",
			Summary:   "ok",
			Tags:      []string{"deploy"},
			ContextID: "proj-1",
			Payload:   "{}",
		}
		if err := d.UpsertRun(r); err != nil {
			t.Fatalf("UpsertRun: %v", err)
		}
	}

	runs, err := d.ListRecentRuns(3, nil)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].RunID != "run-e" || runs[2].RunID != "run-c" {
		t.Errorf("order = %s, %s, %s", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}

	scoped, err := d.ListRecentRuns(10, []string{"elsewhere"})
	if err != nil || len(scoped) != 0 {
		t.Errorf("scoped = %v, %v", scoped, err)
	}

	got, err := d.GetRun("run-a")
	if err != nil || got == nil || got.Goal != "deploy service" {
		t.Fatalf("GetRun = %+v, %v", got, err)
	}
}

func TestLinksAndCounts(t *testing.T) {
	d := openTestDB(t)
	now := time.Now()

	d.UpsertRun(RunRow{RunID: "run-1", Timestamp: now, ContextID: "c", Payload: "{}"})
	d.UpsertNode(NodeRow{ID: "task-1", Type: "task", Title: "t", Status: "active", ContextID: "c", Payload: "{}", CreatedAt: now, UpdatedAt: now})

	if err := d.InsertLink(LinkRow{RunID: "run-1", NodeID: "task-1", CreatedAt: now}); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}
	// Idempotent by pair.
	if err := d.InsertLink(LinkRow{RunID: "run-1", NodeID: "task-1", CreatedAt: now}); err != nil {
		t.Fatalf("InsertLink again: %v", err)
	}

	linked, err := d.LinksForRun("run-1")
	if err != nil || len(linked) != 1 || linked[0] != "task-1" {
		t.Fatalf("LinksForRun = %v, %v", linked, err)
	}

	counts, err := d.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts["runs"] != 1 || counts["nodes"] != 1 || counts["links"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	refs, err := d.CountReferences("c")
	if err != nil || refs != 2 {
		t.Errorf("CountReferences = %d, %v", refs, err)
	}
}
