// Package session tracks live connections, room membership, liveness and
// derived presence for one gateway process. All state here is process-local:
// a horizontally scaled deployment runs one registry per process and relies
// on the broadcast bridge for cross-process fanout.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// State models the session lifecycle:
//
//	Connecting -> Authenticated -> Active -> Closed    (explicit disconnect)
//	                               Active -> Stale -> Closed  (heartbeat timeout)
//	Connecting -> Rejected                             (failed handshake)
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateStale
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Session is one live client connection. It is owned exclusively by the
// registry of the process holding the connection and is never shared across
// processes. Room membership lives in the Rooms arena, keyed by session id,
// so teardown is pure map deletion.
type Session struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	lastHeartbeat atomic.Int64 // unix nano
	state         atomic.Int32

	mu     sync.Mutex
	closed bool
	send   chan []byte
	closer func()
}

// NewSession constructs an authenticated session with an empty room set and
// current timestamps. queueSize bounds the outbound buffer; a session whose
// buffer stays full is a slow client and gets disconnected rather than
// stalling fanout to everyone else.
func NewSession(id, userID string, queueSize int) *Session {
	s := &Session{
		ID:          id,
		UserID:      userID,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, queueSize),
	}
	s.lastHeartbeat.Store(time.Now().UnixNano())
	s.state.Store(int32(StateAuthenticated))
	return s
}

// SetCloser registers the hook that tears down the underlying connection.
// Called once by the transport after the upgrade.
func (s *Session) SetCloser(fn func()) {
	s.mu.Lock()
	s.closer = fn
	s.mu.Unlock()
}

// Activate marks the session as registered and serving traffic.
func (s *Session) Activate() { s.state.Store(int32(StateActive)) }

// MarkStale records that the heartbeat monitor is reaping this session.
func (s *Session) MarkStale() { s.state.CompareAndSwap(int32(StateActive), int32(StateStale)) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Touch refreshes the liveness timestamp.
func (s *Session) Touch() { s.lastHeartbeat.Store(time.Now().UnixNano()) }

// LastHeartbeat returns the most recent liveness signal.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// Enqueue attempts a non-blocking push onto the outbound buffer. It returns
// false when the session is closed or the buffer is full; the caller decides
// whether a full buffer warrants a slow-client disconnect.
func (s *Session) Enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// SendQueue exposes the outbound buffer to the connection's write loop.
func (s *Session) SendQueue() <-chan []byte { return s.send }

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close transitions the session to its terminal state, closes the outbound
// buffer and tears down the underlying connection. Idempotent; pending
// deliveries addressed to the session are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	closer := s.closer
	close(s.send)
	s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	if closer != nil {
		closer()
	}
}
