package wizard

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("wizard session not found")

type entry struct {
	outletID uuid.UUID
	session  *Session
}

// Store keeps in-progress sessions by id. Finished and cancelled sessions
// are removed by the caller.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]entry
}

func NewStore() *Store {
	return &Store{sessions: make(map[uuid.UUID]entry)}
}

func (st *Store) Put(outletID uuid.UUID, s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = entry{outletID: outletID, session: s.Clone()}
}

// Get returns a copy of the session.
func (st *Store) Get(outletID, id uuid.UUID) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.sessions[id]
	if !ok || e.outletID != outletID {
		return nil, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

// Update runs fn on a working copy and stores it if fn succeeds.
func (st *Store) Update(outletID, id uuid.UUID, fn func(*Session) error) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.sessions[id]
	if !ok || e.outletID != outletID {
		return nil, ErrSessionNotFound
	}
	work := e.session.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	st.sessions[id] = entry{outletID: outletID, session: work}
	return work.Clone(), nil
}

func (st *Store) Delete(outletID, id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if e, ok := st.sessions[id]; ok && e.outletID == outletID {
		delete(st.sessions, id)
	}
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
