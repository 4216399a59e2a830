package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/academiaos/academiaos/internal/models"
)

// ErrNotFound means no session has the requested ID.
var ErrNotFound = errors.New("session not found")

// Store keeps sessions by ID.
type Store interface {
	Create(ctx context.Context, data *models.ModelData) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process Store. Sessions are lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create registers a new session for data under a random ID.
func (m *MemoryStore) Create(ctx context.Context, data *models.ModelData) (*Session, error) {
	s := New("", data)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session with id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Save is a no-op for registered sessions.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	return nil
}

// Delete removes the session with id.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

// List returns the registered IDs sorted.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// DirStore keeps one document per session in a directory, named <id>.json.
// Loaded sessions are cached so concurrent users share one lock.
type DirStore struct {
	dir   string
	cache *MemoryStore
	mu    sync.Mutex
}

// NewDirStore returns a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &DirStore{dir: dir, cache: NewMemoryStore()}, nil
}

func (d *DirStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(d.dir, id+".json"), nil
}

// Create registers and writes a new session.
func (d *DirStore) Create(ctx context.Context, data *models.ModelData) (*Session, error) {
	s, err := d.cache.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := d.Save(ctx, s); err != nil {
		_ = d.cache.Delete(ctx, s.ID())
		return nil, err
	}
	return s, nil
}

// Get returns the cached session or loads it from disk.
func (d *DirStore) Get(ctx context.Context, id string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, err := d.cache.Get(ctx, id); err == nil {
		return s, nil
	}
	path, err := d.path(id)
	if err != nil {
		return nil, err
	}
	data, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	s := New(id, data)
	if err := d.cache.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the session's current snapshot.
func (d *DirStore) Save(ctx context.Context, s *Session) error {
	path, err := d.path(s.ID())
	if err != nil {
		return err
	}
	if err := d.cache.Save(ctx, s); err != nil {
		return err
	}
	return SaveFile(path, s.Snapshot())
}

// Delete removes the session document.
func (d *DirStore) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	path, err := d.path(id)
	if err != nil {
		return err
	}
	_ = d.cache.Delete(ctx, id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns the IDs of the documents in the directory, sorted.
func (d *DirStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}
