package threat

import (
	"sync"
	"time"

	"insiderwatch/internal/model"
)

// Snapshot is one analysis result installed as the current dataset.
type Snapshot struct {
	Users      []model.UserRecord `json:"users"`
	Summary    model.Summary      `json:"summary"`
	Source     string             `json:"source"`
	AnalyzedAt time.Time          `json:"analyzed_at"`
}

// State holds the dataset the dashboard is currently looking at. Installing
// or clearing a snapshot invalidates the deriver, since the derivation cache
// cannot see dataset replacement on its own.
type State struct {
	mu      sync.RWMutex
	current *Snapshot
	deriver *Deriver
}

func NewState(deriver *Deriver) *State {
	return &State{deriver: deriver}
}

func (s *State) Set(snap Snapshot) {
	s.mu.Lock()
	s.current = &snap
	s.mu.Unlock()
	s.deriver.Invalidate()
}

func (s *State) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.deriver.Invalidate()
}

func (s *State) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Snapshot{}, false
	}
	return *s.current, true
}

// Users returns the current dataset's users, or nil when no analysis has
// been installed. Derivation over nil users yields an empty alert list.
func (s *State) Users() []model.UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.Users
}

func (s *State) Deriver() *Deriver {
	return s.deriver
}
