package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionNotFound indicates an operation on a session id the registry no
// longer holds. It usually means the caller raced a disconnect and is benign.
var ErrSessionNotFound = errors.New("session not found")

// Registry holds every live session on this process, indexed by session id
// and by owning user. All mutations are serialized under one mutex; reads
// hand out point-in-time snapshots.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Register inserts a session into both indexes and returns the owner's
// session count after the insert. The count is computed under the registry
// lock so callers observe every 0->1 transition exactly once even when the
// same user connects concurrently. Registering the same id twice is a
// programming fault, not a runtime condition, and panics.
func (r *Registry) Register(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.ID]; exists {
		panic(fmt.Sprintf("session %s registered twice", s.ID))
	}

	r.byID[s.ID] = s
	if r.byUser[s.UserID] == nil {
		r.byUser[s.UserID] = make(map[string]struct{})
	}
	r.byUser[s.UserID][s.ID] = struct{}{}
	return len(r.byUser[s.UserID])
}

// Unregister removes a session from both indexes and returns it together
// with the owner's session count after the removal, or ErrSessionNotFound
// when the id is unknown. As with Register, the count is taken under the
// registry lock so 1->0 transitions are observed exactly once.
func (r *Registry) Unregister(sessionID string) (*Session, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return nil, 0, ErrSessionNotFound
	}

	delete(r.byID, sessionID)
	if ids, ok := r.byUser[s.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	return s, len(r.byUser[s.UserID]), nil
}

// Get looks up a session by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// SessionsForUser returns a snapshot of the user's live sessions. The slice
// is not live: a fresh call re-reads current state.
func (r *Registry) SessionsForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// UserSessionCount returns how many sessions the user currently holds on
// this process. A user is online from this process's perspective iff > 0.
func (r *Registry) UserSessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Touch refreshes a session's liveness timestamp. No-op when the session is
// unknown (already reaped).
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	s, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
}

// Stale returns ids of sessions whose last heartbeat is older than cutoff.
func (r *Registry) Stale(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, s := range r.byID {
		if s.LastHeartbeat().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Len returns the number of live sessions on this process.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Each calls fn for every session in a snapshot. Used by shutdown to drain
// connections without holding the registry lock during IO.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}
