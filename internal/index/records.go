package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertNode inserts or replaces a node row.
func (d *DB) UpsertNode(n NodeRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`INSERT OR REPLACE INTO nodes (id, type, title, status, tags, context_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Title, n.Status, encodeJSON(n.Tags), n.ContextID, n.Payload,
		encodeTime(n.CreatedAt), encodeTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// NodeExists reports whether a node row exists for the id.
func (d *DB) NodeExists(id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("node exists: %w", err)
	}
	return true, nil
}

// GetNode returns a node row by id, or nil if absent.
func (d *DB) GetNode(id string) (*NodeRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRow(`SELECT id, type, title, status, tags, context_id, payload, created_at, updated_at
		FROM nodes WHERE id = ?`, id)
	var n NodeRow
	var tags, created, updated string
	err := row.Scan(&n.ID, &n.Type, &n.Title, &n.Status, &tags, &n.ContextID, &n.Payload, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	json.Unmarshal([]byte(tags), &n.Tags)
	n.CreatedAt = decodeTime(created)
	n.UpdatedAt = decodeTime(updated)
	return &n, nil
}

// ListNodes returns node rows filtered by type, status and context set,
// ordered by id. Empty filters are ignored; a nil context set means
// unrestricted.
func (d *DB) ListNodes(nodeType, status string, contextIDs []string) ([]NodeRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := `SELECT id, type, title, status, tags, context_id, payload, created_at, updated_at FROM nodes WHERE 1=1`
	var args []any
	if nodeType != "" {
		q += " AND type = ?"
		args = append(args, nodeType)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	if contextIDs != nil {
		if len(contextIDs) == 0 {
			return nil, nil
		}
		clause, cargs := inClause(contextIDs)
		q += " AND context_id IN " + clause
		args = append(args, cargs...)
	}
	q += " ORDER BY id"

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeRow
	for rows.Next() {
		var n NodeRow
		var tags, created, updated string
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Status, &tags, &n.ContextID, &n.Payload, &created, &updated); err != nil {
			continue
		}
		json.Unmarshal([]byte(tags), &n.Tags)
		n.CreatedAt = decodeTime(created)
		n.UpdatedAt = decodeTime(updated)
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertRun inserts or replaces a run row.
func (d *DB) UpsertRun(r RunRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`INSERT OR REPLACE INTO runs (run_id, ts, agent_id, goal, status, summary, tags, context_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, encodeTime(r.Timestamp), r.AgentID, r.Goal, r.Status, r.Summary,
		encodeJSON(r.Tags), r.ContextID, r.Payload)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun returns a run row by id, or nil if absent.
func (d *DB) GetRun(runID string) (*RunRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRow(`SELECT run_id, ts, agent_id, goal, status, summary, tags, context_id, payload
		FROM runs WHERE run_id = ?`, runID)
	var r RunRow
	var ts, tags string
	err := row.Scan(&r.RunID, &ts, &r.AgentID, &r.Goal, &r.Status, &r.Summary, &tags, &r.ContextID, &r.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Timestamp = decodeTime(ts)
	json.Unmarshal([]byte(tags), &r.Tags)
	return &r, nil
}

// ListRecentRuns returns up to limit run rows, most recent first,
// optionally restricted to a context set. A nil context set means
// unrestricted.
func (d *DB) ListRecentRuns(limit int, contextIDs []string) ([]RunRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := `SELECT run_id, ts, agent_id, goal, status, summary, tags, context_id, payload FROM runs WHERE 1=1`
	var args []any
	if contextIDs != nil {
		if len(contextIDs) == 0 {
			return nil, nil
		}
		clause, cargs := inClause(contextIDs)
		q += " AND context_id IN " + clause
		args = append(args, cargs...)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var ts, tags string
		if err := rows.Scan(&r.RunID, &ts, &r.AgentID, &r.Goal, &r.Status, &r.Summary, &tags, &r.ContextID, &r.Payload); err != nil {
			continue
		}
		r.Timestamp = decodeTime(ts)
		json.Unmarshal([]byte(tags), &r.Tags)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertLink records a run↔node association. Re-inserting the same pair
// replaces the row.
func (d *DB) InsertLink(l LinkRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`INSERT OR REPLACE INTO links (run_id, node_id, created_at) VALUES (?, ?, ?)`,
		l.RunID, l.NodeID, encodeTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// LinksForRun returns the node ids linked to a run, ordered by node id.
func (d *DB) LinksForRun(runID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT node_id FROM links WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("links for run: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// Counts returns row counts per table, for diagnostics.
func (d *DB) Counts() (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]int, 4)
	for _, table := range []string{"contexts", "nodes", "runs", "links"} {
		var n int
		if err := d.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
