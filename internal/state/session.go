package state

import (
	"sync"
	"time"
)

// SessionData is one received notification payload.
type SessionData struct {
	Data any `json:"data"`
}

// SessionSnapshot is a point-in-time copy of a SessionStore.
type SessionSnapshot struct {
	Start          *time.Time    `json:"start"`
	Entries        []SessionData `json:"entries"`
	PuttsMadeCount int           `json:"puttsMadeCount"`
	Speed          float64       `json:"speed"`
}

// SessionStore records the active session.
//
// Entries are append-only between Start and Clear, kept in arrival order and
// never deduplicated. The putts-made counter and speed are independent of the
// entries and only change through their own setters.
type SessionStore struct {
	mu        sync.RWMutex
	clock     Clock
	start     *time.Time
	entries   []SessionData
	puttsMade int
	speed     float64
}

// NewSessionStore creates an empty store. A nil clock uses the wall clock.
func NewSessionStore(clock Clock) *SessionStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SessionStore{clock: clock, entries: []SessionData{}}
}

// Start begins a session now and discards any previous entries.
func (s *SessionStore) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.start = &now
	s.entries = []SessionData{}
}

// AddData appends one entry.
func (s *SessionStore) AddData(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, SessionData{Data: payload})
}

func (s *SessionStore) IncrementPuttsMade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puttsMade++
}

func (s *SessionStore) UpdateSpeed(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = v
}

// Clear ends the session: no start time, no entries, counters at zero.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = nil
	s.entries = []SessionData{}
	s.puttsMade = 0
	s.speed = 0
}

// Data returns a copy of the entries in arrival order.
func (s *SessionStore) Data() []SessionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionData, len(s.entries))
	copy(out, s.entries)
	return out
}

// StartedAt returns the session start, or nil when no session is active.
func (s *SessionStore) StartedAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.start == nil {
		return nil
	}
	t := *s.start
	return &t
}

// Active reports whether Start was called since the last Clear.
func (s *SessionStore) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start != nil
}

func (s *SessionStore) PuttsMade() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puttsMade
}

func (s *SessionStore) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot copies the whole store under a single lock.
func (s *SessionStore) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SessionSnapshot{
		Entries:        make([]SessionData, len(s.entries)),
		PuttsMadeCount: s.puttsMade,
		Speed:          s.speed,
	}
	copy(snap.Entries, s.entries)
	if s.start != nil {
		t := *s.start
		snap.Start = &t
	}
	return snap
}
