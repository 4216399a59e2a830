package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/academiaos/academiaos/internal/models"
)

// Session guards one ModelData. Phases read snapshots and commit through
// Update, which holds the lock for the whole mutation.
type Session struct {
	id string

	mu      sync.Mutex
	data    *models.ModelData
	updated time.Time
}

// New wraps data in a session. An empty id gets a random one.
func New(id string, data *models.ModelData) *Session {
	if id == "" {
		id = NewID()
	}
	if data == nil {
		data = models.NewModelData("")
	}
	data.Normalize()
	return &Session{id: id, data: data, updated: time.Now()}
}

// NewID returns a random session ID.
func NewID() string {
	return uuid.NewString()
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a deep copy of the current data.
func (s *Session) Snapshot() *models.ModelData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Update applies fn under the session lock. If fn fails the data is left as
// fn left it, so fn should validate before mutating.
func (s *Session) Update(fn func(m *models.ModelData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.data); err != nil {
		return err
	}
	s.data.Normalize()
	s.updated = time.Now()
	return nil
}

// UpdatedAt returns the time of the last successful Update.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// AddPapers appends papers, giving each a unique ID, and returns the IDs.
func (s *Session) AddPapers(papers ...models.Paper) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.data.Papers)+len(papers))
	for _, p := range s.data.Papers {
		seen[p.ID] = true
	}
	ids := make([]string, 0, len(papers))
	for _, p := range papers {
		p = p.Clone()
		if p.ID == "" || seen[p.ID] {
			p.ID = NewID()
		}
		seen[p.ID] = true
		s.data.Papers = append(s.data.Papers, p)
		ids = append(ids, p.ID)
	}
	s.updated = time.Now()
	return ids
}
