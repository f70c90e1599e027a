package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store is a concurrency-safe registry of independent sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session // key: session ID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Add registers sess under a fresh 8-character id and returns it.
func (st *Store) Add(sess *Session) string {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := uuid.NewString()[:8]
	for st.sessions[id] != nil {
		id = uuid.NewString()[:8]
	}
	sess.mu.Lock()
	sess.id = id
	sess.mu.Unlock()
	st.sessions[id] = sess
	return id
}

// Get retrieves a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[id]
	return sess, ok
}

// Delete removes a session. It reports whether the id existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// IDs lists the registered session ids in sorted order.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len reports how many sessions are registered.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
