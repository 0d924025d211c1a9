package transport

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
)

// handleFrame routes one inbound client frame. Malformed frames are rejected
// per-message and the connection stays open; unknown kinds are ignored with
// a warning. The switch over the closed kind set is exhaustive: kinds the
// server originates are named explicitly and refused.
func (s *Server) handleFrame(sess *session.Session, raw []byte) {
	f, err := event.DecodeFrame(raw)
	if err != nil {
		metrics.MalformedFrames.Inc()
		s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("malformed frame dropped")
		return
	}
	if !f.Kind.Known() {
		metrics.UnknownKinds.Inc()
		s.log.Warn().Str("session_id", sess.ID).Str("event_kind", f.Kind.String()).
			Msg("ignoring unknown event kind")
		return
	}

	switch f.Kind {
	case event.KindPing:
		s.hub.Registry().Touch(sess.ID)
		s.sendFrame(sess, event.KindPong, map[string]any{"ts": time.Now().UnixMilli()})

	case event.KindPong:
		s.hub.Registry().Touch(sess.ID)

	case event.KindJoinRoom:
		roomID, ok := s.decodeRoomRef(sess, f.Data)
		if !ok {
			return
		}
		if err := s.hub.Rooms().Join(sess.ID, roomID); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				// Raced our own disconnect; benign.
				s.log.Debug().Str("session_id", sess.ID).Str("room_id", roomID).
					Msg("join after disconnect")
			}
			return
		}
		metrics.RoomsActive.Set(float64(s.hub.Rooms().Count()))

	case event.KindLeaveRoom:
		roomID, ok := s.decodeRoomRef(sess, f.Data)
		if !ok {
			return
		}
		s.hub.Rooms().Leave(sess.ID, roomID)
		metrics.RoomsActive.Set(float64(s.hub.Rooms().Count()))

	case event.KindTyping, event.KindNewMessage:
		var body struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil || body.ConversationID == "" {
			metrics.MalformedFrames.Inc()
			s.log.Debug().Str("session_id", sess.ID).Msg("chat frame missing conversation_id")
			return
		}
		roomID := event.ConversationRoom(body.ConversationID)
		if !s.hub.Rooms().IsMember(sess.ID, roomID) {
			metrics.EventsDropped.WithLabelValues("not_a_member").Inc()
			s.log.Debug().Str("session_id", sess.ID).Str("room_id", roomID).
				Msg("chat frame from non-member dropped")
			return
		}
		s.dispatcher.Dispatch(roomID, f.Kind, f.Data)

	case event.KindDisconnect:
		s.hub.DropSession(sess.ID, "client_disconnect")

	case event.KindConnectAck, event.KindNotification, event.KindLikeUpdate,
		event.KindCommentUpdate, event.KindUserStatus, event.KindError:
		// Server-originated kinds; clients never send them.
		s.log.Warn().Str("session_id", sess.ID).Str("event_kind", f.Kind.String()).
			Msg("ignoring server-only kind from client")
	}
}

// decodeRoomRef parses a {room_id} body and validates it against the room
// grammar. Bad room ids count as malformed frames.
func (s *Server) decodeRoomRef(sess *session.Session, data json.RawMessage) (string, bool) {
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || !event.ValidRoom(body.RoomID) {
		metrics.MalformedFrames.Inc()
		s.log.Debug().Str("session_id", sess.ID).Str("room_id", body.RoomID).
			Msg("invalid room reference dropped")
		return "", false
	}
	return body.RoomID, true
}
