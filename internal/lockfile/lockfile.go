// Package lockfile provides named, file-based mutual exclusion for the
// writers that mutate the memkit index. A lock is a marker file carrying
// its acquisition timestamp; markers older than the staleness threshold
// are treated as abandoned and reclaimed.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrLockTimeout is returned by WithLock when the lock could not be
// acquired within the retry budget.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker serializes critical sections by name. The file-based Manager is
// the default; an in-process mutex can stand in for single-binary
// deployments without touching callers.
type Locker interface {
	WithLock(name string, fn func() error) error
}

// Manager implements Locker with marker files under a lock directory.
type Manager struct {
	dir        string
	staleAfter time.Duration
	retryDelay time.Duration
	maxRetries int
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleAfter overrides the staleness threshold (default 30s).
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithRetry overrides the acquisition retry budget (default 50 attempts,
// 100ms apart).
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = attempts
		m.retryDelay = delay
	}
}

// NewManager creates a file-lock manager rooted at dir.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	m := &Manager{
		dir:        dir,
		staleAfter: 30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		maxRetries: 50,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) markerPath(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// Acquire attempts to take the named lock without blocking. It returns
// true if the lock was acquired. A marker older than the staleness
// threshold is removed and acquisition retried once.
func (m *Manager) Acquire(name string) (bool, error) {
	ok, err := m.tryCreate(name)
	if err != nil || ok {
		return ok, err
	}

	// Marker exists — check for staleness.
	data, err := os.ReadFile(m.markerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our attempts; one more try.
			return m.tryCreate(name)
		}
		return false, fmt.Errorf("read lock marker: %w", err)
	}

	acquiredAt, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if perr == nil && time.Since(acquiredAt) < m.staleAfter {
		return false, nil
	}

	// Stale (or unreadable) marker — reclaim it.
	slog.Warn("reclaiming stale lock", "name", name, "acquired_at", strings.TrimSpace(string(data)))
	if err := os.Remove(m.markerPath(name)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove stale lock: %w", err)
	}
	return m.tryCreate(name)
}

func (m *Manager) tryCreate(name string) (bool, error) {
	f, err := os.OpenFile(m.markerPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lock marker: %w", err)
	}
	_, werr := f.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(m.markerPath(name))
		return false, fmt.Errorf("write lock marker: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// Release removes the named lock marker, tolerating "already gone".
func (m *Manager) Release(name string) error {
	if err := os.Remove(m.markerPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the named lock, retrying acquisition up
// to the configured budget. The lock is always released, even when fn
// returns an error or panics.
func (m *Manager) WithLock(name string, fn func() error) error {
	acquired := false
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		ok, err := m.Acquire(name)
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
		time.Sleep(m.retryDelay)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}

	defer func() {
		if err := m.Release(name); err != nil {
			slog.Warn("lock release failed", "name", name, "error", err)
		}
	}()
	return fn()
}
