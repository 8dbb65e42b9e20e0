package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"insiderwatch/internal/model"
)

const defaultLimit = 100

// Store keeps notification records in memory, newest last, capped at a
// configured limit with oldest-first eviction. Subscribers get a non-blocking
// fan-out of every created record.
type Store struct {
	mu    sync.RWMutex
	buf   []model.AlertRecord
	limit int
	subs  map[chan model.AlertRecord]struct{}
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{
		limit: limit,
		subs:  make(map[chan model.AlertRecord]struct{}),
		now:   time.Now,
	}
}

// Create assigns an id and timestamps, stores the record and fans it out.
// Returns the stored record.
func (s *Store) Create(rec model.AlertRecord) model.AlertRecord {
	now := s.now().UTC()
	rec.ID = uuid.NewString()
	rec.Read = false
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Severity == "" {
		rec.Severity = "medium"
	}

	s.mu.Lock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
	} else {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = rec
	}
	// Fan out under the lock: Unsubscribe closes channels under the same
	// lock, so sending here can never hit a closed channel. Sends never
	// block, a full subscriber just misses the record.
	for ch := range s.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	s.mu.Unlock()
	return rec
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.AlertRecord, 0, limit)
	for i := len(s.buf) - 1; i >= len(s.buf)-limit; i-- {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Unread() []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if !s.buf[i].Read {
			out = append(out, s.buf[i])
		}
	}
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.buf {
		if !rec.Read {
			n++
		}
	}
	return n
}

func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			if !s.buf[i].Read {
				s.buf[i].Read = true
				s.buf[i].UpdatedAt = s.now().UTC()
			}
			return true
		}
	}
	return false
}

// MarkAllRead returns how many records changed state.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	n := 0
	for i := range s.buf {
		if !s.buf[i].Read {
			s.buf[i].Read = true
			s.buf[i].UpdatedAt = now
			n++
		}
	}
	return n
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// Subscribe returns a buffered channel receiving every record created after
// this call. Slow subscribers miss records rather than block Create.
func (s *Store) Subscribe() chan model.AlertRecord {
	ch := make(chan model.AlertRecord, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan model.AlertRecord) {
	s.mu.Lock()
	delete(s.subs, ch)
	close(ch)
	s.mu.Unlock()
}
