package session

import (
	"sync"
)

// Rooms tracks process-local room membership as an arena of ids: sessions
// and rooms live in flat maps and relate through id sets in both directions,
// never through object pointers. The same logical room exists independently
// in every process; each process only knows its own local members.
//
// Invariant: a session id appears in a room's member set iff that room id
// appears in the session's joined set. Both sides mutate under one lock.
type Rooms struct {
	mu      sync.RWMutex
	reg     *Registry
	members map[string]map[string]struct{} // roomID -> session ids
	joined  map[string]map[string]struct{} // sessionID -> room ids
}

func NewRooms(reg *Registry) *Rooms {
	return &Rooms{
		reg:     reg,
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds the session to the room, creating the room implicitly on first
// join. Idempotent. Authorization is the caller's concern; the only check
// here is that the session is still registered. The check runs under the
// rooms lock: a concurrent teardown's LeaveAll cannot slip between the check
// and the insert, so an unregistered session can never end up a member.
func (r *Rooms) Join(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reg.Get(sessionID); !ok {
		return ErrSessionNotFound
	}

	if r.members[roomID] == nil {
		r.members[roomID] = make(map[string]struct{})
	}
	r.members[roomID][sessionID] = struct{}{}

	if r.joined[sessionID] == nil {
		r.joined[sessionID] = make(map[string]struct{})
	}
	r.joined[sessionID][roomID] = struct{}{}
	return nil
}

// Leave removes the session from the room. No-op when not a member. Empty
// rooms are garbage-collected so membership maps never grow unbounded.
func (r *Rooms) Leave(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomID)
}

func (r *Rooms) leaveLocked(sessionID, roomID string) {
	if ids, ok := r.members[roomID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, sessionID)
		}
	}
}

// LeaveAll removes the session from every room it belongs to. Called on
// every disconnect path.
func (r *Rooms) LeaveAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[sessionID] {
		r.leaveLocked(sessionID, roomID)
	}
	delete(r.joined, sessionID)
}

// LocalMembers returns a snapshot of session ids on this process currently
// in the room.
func (r *Rooms) LocalMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.members[roomID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// IsMember reports whether the session is currently in the room.
func (r *Rooms) IsMember(sessionID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][sessionID]
	return ok
}

// RoomsOf returns a snapshot of the rooms the session is currently in.
func (r *Rooms) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := r.joined[sessionID]
	if len(rooms) == 0 {
		return nil
	}
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	return out
}

// Count returns the number of non-empty rooms on this process.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
