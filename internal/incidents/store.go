package incidents

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"insiderwatch/internal/model"
)

var (
	ErrNotFound      = errors.New("incident not found")
	ErrInvalidStatus = errors.New("invalid incident status")
)

// Store tracks response-center incidents in memory. Every mutation appends a
// timeline entry attributed to the acting analyst.
type Store struct {
	mu    sync.RWMutex
	items []model.Incident
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Open(inc model.Incident, analyst string) model.Incident {
	now := s.now().UTC()
	inc.ID = uuid.NewString()
	inc.Status = model.StatusNew
	inc.CreatedAt = now
	inc.UpdatedAt = now
	inc.Timeline = []model.TimelineEntry{{Timestamp: now, Action: "Incident opened", Analyst: analyst}}

	s.mu.Lock()
	s.items = append(s.items, inc)
	s.mu.Unlock()
	return inc
}

func (s *Store) Get(id string) (model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.items {
		if inc.ID == id {
			return inc, true
		}
	}
	return model.Incident{}, false
}

// List returns incidents newest first, optionally filtered by status.
func (s *Store) List(status model.IncidentStatus) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		if status != "" && s.items[i].Status != status {
			continue
		}
		out = append(out, s.items[i])
	}
	return out
}

func (s *Store) SetStatus(id string, status model.IncidentStatus, analyst string) (model.Incident, error) {
	if !status.Valid() {
		return model.Incident{}, ErrInvalidStatus
	}
	return s.update(id, func(inc *model.Incident, now time.Time) {
		inc.Status = status
		action := "Status changed to " + string(status)
		if status == model.StatusFalsePositive {
			line := "Marked as false positive."
			if inc.Notes != "" {
				inc.Notes += "\n" + line
			} else {
				inc.Notes = line
			}
			action = "Marked as false positive"
		}
		inc.Timeline = append(inc.Timeline, model.TimelineEntry{Timestamp: now, Action: action, Analyst: analyst})
	})
}

func (s *Store) AddNote(id, note, analyst string) (model.Incident, error) {
	if note == "" {
		return model.Incident{}, errors.New("empty note")
	}
	return s.update(id, func(inc *model.Incident, now time.Time) {
		if inc.Notes != "" {
			inc.Notes += "\n" + note
		} else {
			inc.Notes = note
		}
		inc.Timeline = append(inc.Timeline, model.TimelineEntry{Timestamp: now, Action: "Note added", Analyst: analyst})
	})
}

// Acknowledge moves a new incident into investigation.
func (s *Store) Acknowledge(id, analyst string) (model.Incident, error) {
	return s.update(id, func(inc *model.Incident, now time.Time) {
		if inc.Status == model.StatusNew {
			inc.Status = model.StatusInvestigating
		}
		inc.Timeline = append(inc.Timeline, model.TimelineEntry{Timestamp: now, Action: "Acknowledged", Analyst: analyst})
	})
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

func (s *Store) update(id string, fn func(*model.Incident, time.Time)) (model.Incident, error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			fn(&s.items[i], now)
			s.items[i].UpdatedAt = now
			return s.items[i], nil
		}
	}
	return model.Incident{}, ErrNotFound
}
