// Package contexts implements the scope hierarchy that partitions stored
// knowledge: a single global root, vertical contexts under it, and project
// contexts under verticals. Every read and write in memkit is restricted
// to a context set derived from this tree.
package contexts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/memkit/internal/index"
)

// Scope levels.
const (
	ScopeGlobal   = "global"
	ScopeVertical = "vertical"
	ScopeProject  = "project"
)

// GlobalID is the reserved id of the root context.
const GlobalID = "__global__"

// ErrNotFound is returned when a referenced context does not exist.
var ErrNotFound = errors.New("context not found")

// InvariantError reports a violated scope-tree rule. These are never
// retryable.
type InvariantError struct {
	Kind   string // "ParentNotFound", "InvalidParentScope", "ProtectedContext", "HasChildren", "HasReferences", "InvalidScope", "InvalidName", "DuplicateName"
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Context is a node in the scope tree.
type Context struct {
	ID        string            `json:"context_id"`
	Name      string            `json:"name"`
	Scope     string            `json:"scope"`
	ParentID  string            `json:"parent_id,omitempty"`
	ScopePath string            `json:"scope_path"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store provides CRUD and scope resolution over the context hierarchy.
type Store struct {
	idx    *index.DB
	active *activePointer
}

// NewStore creates a context store backed by the index, seeding the global
// context if it does not exist yet. home is the data directory holding the
// active-context pointer file.
func NewStore(idx *index.DB, home string) (*Store, error) {
	s := &Store{idx: idx, active: newActivePointer(home)}

	existing, err := idx.GetContextByID(GlobalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		now := time.Now().UTC()
		err := idx.UpsertContext(index.ContextRow{
			ID:        GlobalID,
			Name:      "global",
			Scope:     ScopeGlobal,
			ScopePath: GlobalID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("seed global context: %w", err)
		}
	}
	return s, nil
}

// Create adds a vertical or project context. Project parents are resolved
// by id first, then by name, and must be verticals.
func (s *Store) Create(name, scope, parentRef string, metadata map[string]string) (*Context, error) {
	if name == "" {
		return nil, &InvariantError{Kind: "InvalidName", Detail: "context name must not be empty"}
	}

	// Names are unique labels; the upsert must never replace a stranger's
	// row, so reject the collision here.
	existing, err := s.idx.GetContextByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &InvariantError{Kind: "DuplicateName", Detail: "context name " + name + " is already taken by " + existing.ID}
	}

	var parent *index.ContextRow
	switch scope {
	case ScopeVertical:
		var err error
		parent, err = s.idx.GetContextByID(GlobalID)
		if err != nil {
			return nil, err
		}
	case ScopeProject:
		if parentRef == "" {
			return nil, &InvariantError{Kind: "ParentNotFound", Detail: "project context requires a parent vertical"}
		}
		row, err := s.lookup(parentRef)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, &InvariantError{Kind: "ParentNotFound", Detail: "parent context " + parentRef + " does not exist"}
		}
		if row.Scope != ScopeVertical {
			return nil, &InvariantError{Kind: "InvalidParentScope", Detail: "parent of a project must be a vertical, got " + row.Scope}
		}
		parent = row
	default:
		return nil, &InvariantError{Kind: "InvalidScope", Detail: "scope must be vertical or project, got " + scope}
	}

	now := time.Now().UTC()
	c := &Context{
		ID:        scopePrefix(scope) + "-" + uuid.Must(uuid.NewV7()).String(),
		Name:      name,
		Scope:     scope,
		ParentID:  parent.ID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.ScopePath = parent.ScopePath + "/" + c.ID

	if err := s.idx.UpsertContext(toRow(c)); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a context by exact id, then exact name. Returns nil when
// absent.
func (s *Store) Get(idOrName string) (*Context, error) {
	row, err := s.lookup(idOrName)
	if err != nil || row == nil {
		return nil, err
	}
	return fromRow(row), nil
}

// List returns contexts ordered by (scope, name), optionally filtered.
func (s *Store) List(scopeFilter, parentFilter string) ([]*Context, error) {
	rows, err := s.idx.ListContexts(scopeFilter, parentFilter)
	if err != nil {
		return nil, err
	}
	out := make([]*Context, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// Delete removes a context. The global context, contexts with children,
// and contexts referenced by any node or run are protected.
func (s *Store) Delete(id string) error {
	if id == GlobalID {
		return &InvariantError{Kind: "ProtectedContext", Detail: "the global context cannot be deleted"}
	}
	row, err := s.idx.GetContextByID(id)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	children, err := s.idx.CountChildren(id)
	if err != nil {
		return err
	}
	if children > 0 {
		return &InvariantError{Kind: "HasChildren", Detail: fmt.Sprintf("context %s has %d child contexts", id, children)}
	}
	refs, err := s.idx.CountReferences(id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &InvariantError{Kind: "HasReferences", Detail: fmt.Sprintf("context %s is referenced by %d records", id, refs)}
	}
	return s.idx.DeleteContext(id)
}

// AncestorChain returns context ids ordered self→…→global, inclusive of
// both ends. The global id is always appended, even if the parent chain is
// broken.
func (s *Store) AncestorChain(id string) ([]string, error) {
	if id == GlobalID {
		return []string{GlobalID}, nil
	}

	var chain []string
	seen := map[string]bool{}
	cur := id
	for cur != "" && !seen[cur] {
		seen[cur] = true
		chain = append(chain, cur)
		if cur == GlobalID {
			break
		}
		row, err := s.idx.GetContextByID(cur)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		cur = row.ParentID
	}
	if len(chain) == 0 || chain[len(chain)-1] != GlobalID {
		chain = append(chain, GlobalID)
	}
	return chain, nil
}

// ResolveScopeUnion returns the deduplicated union of the ancestor chains
// of every input id, used when several contexts must be searched together.
func (s *Store) ResolveScopeUnion(ids []string) ([]string, error) {
	var union []string
	seen := map[string]bool{}
	for _, id := range ids {
		chain, err := s.AncestorChain(id)
		if err != nil {
			return nil, err
		}
		for _, cid := range chain {
			if !seen[cid] {
				seen[cid] = true
				union = append(union, cid)
			}
		}
	}
	return union, nil
}

// ResolveScopeFilter is the single canonical scope-filter constructor:
// given an optional single context and/or an optional list, it resolves
// each reference by id-or-name and returns the ancestor-chain union. A nil
// result means unrestricted (no context was given). Unknown references
// return ErrNotFound.
func (s *Store) ResolveScopeFilter(context string, contexts []string) ([]string, error) {
	refs := contexts
	if context != "" {
		refs = append([]string{context}, contexts...)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		row, err := s.lookup(ref)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		ids = append(ids, row.ID)
	}
	return s.ResolveScopeUnion(ids)
}

// Resolve returns the effective context id with the documented precedence:
// explicit reference if given, else the persisted active context, else
// global. An explicit reference that does not resolve is an error.
func (s *Store) Resolve(explicit string) (string, error) {
	if explicit != "" {
		row, err := s.lookup(explicit)
		if err != nil {
			return "", err
		}
		if row == nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, explicit)
		}
		return row.ID, nil
	}

	active, err := s.active.get()
	if err != nil {
		return "", err
	}
	if active != "" {
		// The pointer may outlive its context; fall back to global then.
		row, err := s.idx.GetContextByID(active)
		if err != nil {
			return "", err
		}
		if row != nil {
			return row.ID, nil
		}
	}
	return GlobalID, nil
}

// SetActive persists idOrName as the process-wide selected context.
func (s *Store) SetActive(idOrName string) (*Context, error) {
	row, err := s.lookup(idOrName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrName)
	}
	if err := s.active.set(row.ID); err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// ClearActive removes the active-context pointer.
func (s *Store) ClearActive() error {
	return s.active.clear()
}

// Active returns the persisted active context id, or "" when unset.
func (s *Store) Active() (string, error) {
	return s.active.get()
}

func (s *Store) lookup(idOrName string) (*index.ContextRow, error) {
	row, err := s.idx.GetContextByID(idOrName)
	if err != nil || row != nil {
		return row, err
	}
	return s.idx.GetContextByName(idOrName)
}

func scopePrefix(scope string) string {
	if scope == ScopeVertical {
		return "vert"
	}
	return "proj"
}

func toRow(c *Context) index.ContextRow {
	return index.ContextRow{
		ID:        c.ID,
		Name:      c.Name,
		Scope:     c.Scope,
		ParentID:  c.ParentID,
		ScopePath: c.ScopePath,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromRow(r *index.ContextRow) *Context {
	return &Context{
		ID:        r.ID,
		Name:      r.Name,
		Scope:     r.Scope,
		ParentID:  r.ParentID,
		ScopePath: r.ScopePath,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
