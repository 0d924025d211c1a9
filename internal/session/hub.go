package session

import (
	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
)

// Hub coordinates the registry, room arena and presence tracker so that
// admission and teardown stay atomic with respect to each other. It is an
// explicit state object constructed once per process and injected into the
// transport and dispatcher; there are no hidden singletons.
type Hub struct {
	reg      *Registry
	rooms    *Rooms
	presence *Presence
	log      zerolog.Logger
}

func NewHub(reg *Registry, rooms *Rooms, presence *Presence, log zerolog.Logger) *Hub {
	return &Hub{
		reg:      reg,
		rooms:    rooms,
		presence: presence,
		log:      log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Registry() *Registry { return h.reg }
func (h *Hub) Rooms() *Rooms       { return h.rooms }

// AddSession registers an admitted session and re-evaluates presence for its
// owner. The occupancy count comes back from Register itself, taken under
// the registry lock, so concurrent first connections of one user cannot
// both miss the 0->1 transition.
func (h *Hub) AddSession(s *Session) {
	count := h.reg.Register(s)
	s.Activate()

	metrics.ConnectionsTotal.Inc()
	metrics.SessionsActive.Set(float64(h.reg.Len()))

	h.presence.SessionAdded(s.UserID, count)

	h.log.Debug().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Int("total_sessions", h.reg.Len()).
		Msg("session registered")
}

// DropSession tears a session down through the single teardown path:
// registry removal, LeaveAll on every room, presence re-evaluation,
// connection close. Returns false when the session was already gone, which
// is the expected outcome of a race with another disconnect path.
func (h *Hub) DropSession(sessionID, reason string) bool {
	s, count, err := h.reg.Unregister(sessionID)
	if err != nil {
		return false
	}

	h.rooms.LeaveAll(sessionID)
	h.presence.SessionRemoved(s.UserID, count)
	s.Close()

	metrics.SessionsActive.Set(float64(h.reg.Len()))
	metrics.RoomsActive.Set(float64(h.rooms.Count()))
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()

	h.log.Debug().
		Str("session_id", sessionID).
		Str("user_id", s.UserID).
		Str("reason", reason).
		Int("total_sessions", h.reg.Len()).
		Msg("session dropped")
	return true
}

// Drain closes every live session. Used during graceful shutdown.
func (h *Hub) Drain(reason string) {
	h.reg.Each(func(s *Session) {
		h.DropSession(s.ID, reason)
	})
}
