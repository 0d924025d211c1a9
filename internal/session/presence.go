package session

import (
	"sync"
	"time"
)

// NotifyFunc receives derived presence transitions. Wired to the dispatcher
// at startup so the session layer stays free of fanout concerns.
type NotifyFunc func(userID string, online bool)

// Presence derives online/offline transitions from registry occupancy.
// Online fires immediately on a user's 0->1 session transition. Offline is
// debounced: a 1->0 transition schedules a deferred check, and only if the
// user is still at zero sessions when the window elapses does the offline
// transition fire. Rapid disconnect/reconnect (page navigation) is absorbed
// without flapping: a reconnect inside the window cancels the pending check
// and suppresses the redundant online notification.
type Presence struct {
	debounce time.Duration
	count    func(userID string) int
	notify   NotifyFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewPresence builds the tracker. count re-reads current occupancy when a
// debounce window elapses; notify receives the resulting transitions.
func NewPresence(debounce time.Duration, count func(string) int, notify NotifyFunc) *Presence {
	return &Presence{
		debounce: debounce,
		count:    count,
		notify:   notify,
		pending:  make(map[string]*time.Timer),
	}
}

// SessionAdded re-evaluates presence after a registry insert. countNow is
// the user's session count after the insert.
func (p *Presence) SessionAdded(userID string, countNow int) {
	if countNow != 1 {
		return
	}

	p.mu.Lock()
	if t, ok := p.pending[userID]; ok {
		// Reconnect inside the debounce window. The offline never fired,
		// so the user was online throughout; emitting online again would
		// flap every follower's UI.
		t.Stop()
		delete(p.pending, userID)
		p.mu.Unlock()
		return
	}
	stopped := p.stopped
	p.mu.Unlock()

	if !stopped && p.notify != nil {
		p.notify(userID, true)
	}
}

// SessionRemoved re-evaluates presence after a registry removal. countNow is
// the user's session count after the removal.
func (p *Presence) SessionRemoved(userID string, countNow int) {
	if countNow != 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	if t, ok := p.pending[userID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		if p.stopped || p.pending[userID] != timer {
			// Superseded by a reconnect or a newer disconnect.
			p.mu.Unlock()
			return
		}
		delete(p.pending, userID)
		p.mu.Unlock()

		if p.count(userID) == 0 && p.notify != nil {
			p.notify(userID, false)
		}
	})
	p.pending[userID] = timer
}

// PendingOffline reports whether the user has an offline check scheduled.
func (p *Presence) PendingOffline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[userID]
	return ok
}

// Stop cancels all pending transitions. Used on shutdown so draining
// connections do not emit a burst of offline events.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for userID, t := range p.pending {
		t.Stop()
		delete(p.pending, userID)
	}
}
