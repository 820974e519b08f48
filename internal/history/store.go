// internal/history/store.go
package history

import (
	"sync"

	"github.com/Corphon/SceneRelay/internal/models"
)

// Snapshot is the persisted form: user_id -> scenario_id -> state
type Snapshot map[string]map[string]models.ConversationState

// Store owns per-(user, scenario) conversation transcripts.
//
// The internal mutex only protects the maps; callers serialize
// read-modify-write sequences of one user with the per-user lock.
type Store struct {
	mu     sync.Mutex
	states map[string]map[string]*models.ConversationState
	dirty  bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{states: make(map[string]map[string]*models.ConversationState)}
}

// state returns the live state, creating it lazily. Caller holds s.mu.
func (s *Store) state(userID, scenarioID string) *models.ConversationState {
	byScenario, ok := s.states[userID]
	if !ok {
		byScenario = make(map[string]*models.ConversationState)
		s.states[userID] = byScenario
	}
	st, ok := byScenario[scenarioID]
	if !ok {
		st = &models.ConversationState{History: []models.ConversationLine{}}
		byScenario[scenarioID] = st
	}
	return st
}

// Get returns a copy of the state, creating an empty one on first access
func (s *Store) Get(userID, scenarioID string) models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(userID, scenarioID).Clone()
}

// Append adds line to the tail
func (s *Store) Append(userID, scenarioID string, line models.ConversationLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, scenarioID)
	st.History = append(st.History, line)
	s.dirty = true
}

// TruncateTail removes the last n lines; with fewer than n lines it removes nothing and returns false
func (s *Store) TruncateTail(userID, scenarioID string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, scenarioID)
	if n < 0 || len(st.History) < n {
		return false
	}
	st.History = st.History[:len(st.History)-n]
	s.dirty = true
	return true
}

// Reset clears history and both metadata fields
func (s *Store) Reset(userID, scenarioID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, scenarioID)
	st.History = []models.ConversationLine{}
	st.LastInput = ""
	st.LastBotRef = ""
	s.dirty = true
}

// SetLastInput records the last user input
func (s *Store) SetLastInput(userID, scenarioID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(userID, scenarioID).LastInput = text
	s.dirty = true
}

// SetLastBotRef records (or with "" clears) the last bot message reference
func (s *Store) SetLastBotRef(userID, scenarioID string, ref models.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(userID, scenarioID).LastBotRef = ref
	s.dirty = true
}

// Dirty reports whether a mutation happened since the last MarkClean
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkClean resets the dirty flag after a successful flush
func (s *Store) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// MarkDirty flags the store for the next flush, e.g. after a failed write
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Checkpoint atomically takes a snapshot and clears the dirty flag.
// ok is false when nothing changed since the last checkpoint.
func (s *Store) Checkpoint() (snap Snapshot, ok bool) {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if !dirty {
		return nil, false
	}
	return s.Snapshot(), true
}

// Users returns the number of users with at least one state
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Snapshot deep-copies every state for persistence
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Snapshot, len(s.states))
	for userID, byScenario := range s.states {
		cp := make(map[string]models.ConversationState, len(byScenario))
		for scenarioID, st := range byScenario {
			cp[scenarioID] = st.Clone()
		}
		out[userID] = cp
	}
	return out
}

// Load replaces the store content with snap and clears the dirty flag
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states = make(map[string]map[string]*models.ConversationState, len(snap))
	for userID, byScenario := range snap {
		m := make(map[string]*models.ConversationState, len(byScenario))
		for scenarioID, st := range byScenario {
			cp := st.Clone()
			if cp.History == nil {
				cp.History = []models.ConversationLine{}
			}
			m[scenarioID] = &cp
		}
		s.states[userID] = m
	}
	s.dirty = false
}
