// Package records implements the durable write path: validation,
// file artifacts, index rows, links, and the best-effort hand-off to the
// vector indexer. Files are written before index rows so a crash between
// the two can only ever leave a file without a row, never the reverse.
package records

import "time"

// Node types.
var NodeTypes = []string{"project", "goal", "task", "decision", "pattern", "constraint", "playbook", "agent"}

// Node statuses.
var NodeStatuses = []string{"active", "done", "archived", "blocked", "draft"}

// Run result statuses.
var RunStatuses = []string{"success", "failure", "partial", "aborted"}

// Node is a durable fact owned by a context. Nodes are never physically
// deleted; archival is a status change.
type Node struct {
	ID          string    `json:"id,omitempty"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Status      string    `json:"status,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Owners      []string  `json:"owners,omitempty"`
	Constraints []string  `json:"constraints,omitempty"`
	Body        string    `json:"body,omitempty"`
	Refs        NodeRefs  `json:"refs,omitempty"`
	NextActions []string  `json:"next_actions,omitempty"`
	Context     string    `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// NodeRefs holds a node's links to runs and files.
type NodeRefs struct {
	Runs  []string `json:"runs,omitempty"`
	Files []string `json:"files,omitempty"`
}

// Checkpoint is an immutable-once-written record of one agent episode.
type Checkpoint struct {
	RunID              string     `json:"run_id,omitempty"`
	Timestamp          time.Time  `json:"timestamp,omitempty"`
	Agent              AgentRef   `json:"agent"`
	Intent             Intent     `json:"intent"`
	Plan               []PlanStep `json:"plan,omitempty"`
	Actions            []string   `json:"actions,omitempty"`
	FilesTouched       []string   `json:"files_touched,omitempty"`
	Artifacts          []string   `json:"artifacts,omitempty"`
	Result             Result     `json:"result"`
	ConstraintsApplied []string   `json:"constraints_applied,omitempty"`
	RiskFlags          []string   `json:"risk_flags,omitempty"`
	Links              Links      `json:"links,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Context            string     `json:"context,omitempty"`
}

// AgentRef identifies the agent that produced a checkpoint.
type AgentRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Intent describes what the agent set out to do.
type Intent struct {
	Goal    string   `json:"goal"`
	Context []string `json:"context,omitempty"`
}

// PlanStep is one step of the agent's declared plan.
type PlanStep struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// Links declares node associations for a checkpoint.
type Links struct {
	Nodes []string `json:"nodes,omitempty"`
}

// UpsertResult is returned by UpsertNode.
type UpsertResult struct {
	NodeID  string `json:"node_id"`
	Created bool   `json:"created"`
}

// CheckpointResult is returned by RecordCheckpoint.
type CheckpointResult struct {
	RunID       string   `json:"run_id"`
	FilePath    string   `json:"file_path"`
	LinkedNodes []string `json:"linked_nodes,omitempty"`
}
