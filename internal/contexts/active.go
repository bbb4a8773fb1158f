package contexts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// activePointer is the small persisted record holding the last-selected
// context. It is a plain value file, not a lock.
type activePointer struct {
	path string
}

type pointerRecord struct {
	ContextID string    `json:"context_id"`
	SetAt     time.Time `json:"set_at"`
}

func newActivePointer(home string) *activePointer {
	return &activePointer{path: filepath.Join(home, "active_context.json")}
}

func (p *activePointer) get() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read active context: %w", err)
	}
	var rec pointerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("parse active context: %w", err)
	}
	return rec.ContextID, nil
}

func (p *activePointer) set(contextID string) error {
	rec := pointerRecord{ContextID: contextID, SetAt: time.Now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("write active context: %w", err)
	}
	return nil
}

func (p *activePointer) clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear active context: %w", err)
	}
	return nil
}
