package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertContext inserts or replaces a context row.
func (d *DB) UpsertContext(c ContextRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta := "{}"
	if c.Metadata != nil {
		meta = encodeJSON(c.Metadata)
	}
	_, err := d.db.Exec(`INSERT OR REPLACE INTO contexts (id, name, scope, parent_id, scope_path, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Scope, nullable(c.ParentID), c.ScopePath, meta, encodeTime(c.CreatedAt), encodeTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

// GetContextByID returns a context row by id, or nil if absent.
func (d *DB) GetContextByID(id string) (*ContextRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanContext(d.db.QueryRow(
		`SELECT id, name, scope, parent_id, scope_path, metadata, created_at, updated_at FROM contexts WHERE id = ?`, id))
}

// GetContextByName returns a context row by its unique name, or nil if absent.
func (d *DB) GetContextByName(name string) (*ContextRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanContext(d.db.QueryRow(
		`SELECT id, name, scope, parent_id, scope_path, metadata, created_at, updated_at FROM contexts WHERE name = ?`, name))
}

func (d *DB) scanContext(row *sql.Row) (*ContextRow, error) {
	var c ContextRow
	var parent sql.NullString
	var meta, created, updated string
	err := row.Scan(&c.ID, &c.Name, &c.Scope, &parent, &c.ScopePath, &meta, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan context: %w", err)
	}
	c.ParentID = parent.String
	json.Unmarshal([]byte(meta), &c.Metadata)
	c.CreatedAt = decodeTime(created)
	c.UpdatedAt = decodeTime(updated)
	return &c, nil
}

// ListContexts returns context rows ordered by (scope, name), optionally
// filtered by scope and/or parent id.
func (d *DB) ListContexts(scope, parentID string) ([]ContextRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := `SELECT id, name, scope, parent_id, scope_path, metadata, created_at, updated_at FROM contexts WHERE 1=1`
	var args []any
	if scope != "" {
		q += " AND scope = ?"
		args = append(args, scope)
	}
	if parentID != "" {
		q += " AND parent_id = ?"
		args = append(args, parentID)
	}
	q += " ORDER BY scope, name"

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextRow
	for rows.Next() {
		var c ContextRow
		var parent sql.NullString
		var meta, created, updated string
		if err := rows.Scan(&c.ID, &c.Name, &c.Scope, &parent, &c.ScopePath, &meta, &created, &updated); err != nil {
			continue
		}
		c.ParentID = parent.String
		json.Unmarshal([]byte(meta), &c.Metadata)
		c.CreatedAt = decodeTime(created)
		c.UpdatedAt = decodeTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContext removes a context row.
func (d *DB) DeleteContext(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.Exec(`DELETE FROM contexts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

// CountChildren returns how many contexts have the given context as parent.
func (d *DB) CountChildren(parentID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM contexts WHERE parent_id = ?`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}

// CountReferences returns how many nodes and runs reference the context.
func (d *DB) CountReferences(contextID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var nodes, runs int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE context_id = ?`, contextID).Scan(&nodes); err != nil {
		return 0, fmt.Errorf("count node refs: %w", err)
	}
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE context_id = ?`, contextID).Scan(&runs); err != nil {
		return 0, fmt.Errorf("count run refs: %w", err)
	}
	return nodes + runs, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
