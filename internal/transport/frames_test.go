package transport

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/auth"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/bridge"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/config"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/dispatch"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
)

func newServerFixture(t *testing.T) (*Server, *session.Hub) {
	t.Helper()
	cfg := config.Config{
		MaxConnections:    16,
		SendQueueSize:     8,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatMissed:   3,
		InboundRate:       100,
		InboundBurst:      100,
		WriteTimeout:      time.Second,
		ShutdownGrace:     time.Second,
	}

	reg := session.NewRegistry()
	rooms := session.NewRooms(reg)
	presence := session.NewPresence(time.Hour, reg.UserSessionCount, nil)
	t.Cleanup(presence.Stop)
	hub := session.NewHub(reg, rooms, presence, zerolog.Nop())

	br := bridge.New(nil, "proc-test", zerolog.Nop())
	d := dispatch.New(hub, br, zerolog.Nop())
	gate := auth.NewGate(auth.NewJWTVerifier("test-secret"), time.Second)

	return NewServer(cfg, zerolog.Nop(), gate, hub, d), hub
}

func addSession(t *testing.T, hub *session.Hub, id, userID string) *session.Session {
	t.Helper()
	s := session.NewSession(id, userID, 8)
	hub.AddSession(s)
	return s
}

func drainFrames(t *testing.T, s *session.Session) []event.Frame {
	t.Helper()
	var out []event.Frame
	for {
		select {
		case raw, ok := <-s.SendQueue():
			if !ok {
				return out
			}
			f, err := event.DecodeFrame(raw)
			if err != nil {
				t.Fatalf("decoding outbound frame %q: %v", raw, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHandleFrameMalformed(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	for _, raw := range []string{"{not json", `{"data":{}}`, ""} {
		srv.handleFrame(s, []byte(raw))
	}

	// Per-message rejection: the session stays registered and gets nothing.
	if _, ok := hub.Registry().Get("s1"); !ok {
		t.Error("session dropped on malformed frame")
	}
	if got := drainFrames(t, s); len(got) != 0 {
		t.Errorf("outbound frames = %v, want none", got)
	}
}

func TestHandleFrameUnknownKindIgnored(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	srv.handleFrame(s, []byte(`{"event_kind":"launch_missiles","data":{}}`))

	if _, ok := hub.Registry().Get("s1"); !ok {
		t.Error("session dropped on unknown kind")
	}
	if got := drainFrames(t, s); len(got) != 0 {
		t.Errorf("outbound frames = %v, want none", got)
	}
}

func TestHandleFramePing(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	before := s.LastHeartbeat()
	time.Sleep(time.Millisecond)
	srv.handleFrame(s, []byte(`{"event_kind":"ping"}`))

	frames := drainFrames(t, s)
	if len(frames) != 1 || frames[0].Kind != event.KindPong {
		t.Fatalf("frames = %v, want one pong", frames)
	}
	if !s.LastHeartbeat().After(before) {
		t.Error("ping did not refresh liveness")
	}
}

func TestHandleFramePongTouches(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	before := s.LastHeartbeat()
	time.Sleep(time.Millisecond)
	srv.handleFrame(s, []byte(`{"event_kind":"pong"}`))

	if !s.LastHeartbeat().After(before) {
		t.Error("pong did not refresh liveness")
	}
	if got := drainFrames(t, s); len(got) != 0 {
		t.Errorf("pong provoked a reply: %v", got)
	}
}

func TestHandleFrameJoinLeaveRoom(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	srv.handleFrame(s, []byte(`{"event_kind":"join_room","data":{"room_id":"conversation:42"}}`))
	if !hub.Rooms().IsMember("s1", "conversation:42") {
		t.Fatal("join_room did not add membership")
	}

	srv.handleFrame(s, []byte(`{"event_kind":"leave_room","data":{"room_id":"conversation:42"}}`))
	if hub.Rooms().IsMember("s1", "conversation:42") {
		t.Error("leave_room did not remove membership")
	}
}

func TestHandleFrameJoinInvalidRoom(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	for _, body := range []string{
		`{"room_id":"kitchen:42"}`,
		`{"room_id":"conversation:"}`,
		`{"room_id":"conversation:42:extra"}`,
		`{"room_id":""}`,
		`{}`,
	} {
		srv.handleFrame(s, []byte(`{"event_kind":"join_room","data":`+body+`}`))
	}

	if got := hub.Rooms().RoomsOf("s1"); len(got) != 0 {
		t.Errorf("invalid room ids joined: %v", got)
	}
}

func TestHandleFrameTypingRequiresMembership(t *testing.T) {
	srv, hub := newServerFixture(t)
	sender := addSession(t, hub, "s1", "alice")
	receiver := addSession(t, hub, "s2", "bob")

	room := event.ConversationRoom("42")
	if err := hub.Rooms().Join("s2", room); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Not a member yet: the frame is dropped without fanout.
	srv.handleFrame(sender, []byte(`{"event_kind":"typing","data":{"conversation_id":"42"}}`))
	if got := drainFrames(t, receiver); len(got) != 0 {
		t.Errorf("non-member typing reached the room: %v", got)
	}

	if err := hub.Rooms().Join("s1", room); err != nil {
		t.Fatalf("Join: %v", err)
	}
	srv.handleFrame(sender, []byte(`{"event_kind":"typing","data":{"conversation_id":"42"}}`))

	got := drainFrames(t, receiver)
	if len(got) != 1 || got[0].Kind != event.KindTyping {
		t.Fatalf("frames = %v, want one typing", got)
	}
}

func TestHandleFrameNewMessageFanout(t *testing.T) {
	srv, hub := newServerFixture(t)
	sender := addSession(t, hub, "s1", "alice")
	receiver := addSession(t, hub, "s2", "bob")

	room := event.ConversationRoom("7")
	for _, id := range []string{"s1", "s2"} {
		if err := hub.Rooms().Join(id, room); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}

	srv.handleFrame(sender, []byte(`{"event_kind":"new_message","data":{"conversation_id":"7","text":"hello"}}`))

	got := drainFrames(t, receiver)
	if len(got) != 1 || got[0].Kind != event.KindNewMessage {
		t.Fatalf("receiver frames = %v, want one new_message", got)
	}
	// Sender is a member too and sees its own message echoed.
	if got := drainFrames(t, sender); len(got) != 1 {
		t.Errorf("sender frames = %v, want echo", got)
	}
}

func TestHandleFrameChatMissingConversation(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	srv.handleFrame(s, []byte(`{"event_kind":"typing","data":{}}`))
	srv.handleFrame(s, []byte(`{"event_kind":"new_message","data":{"text":"hi"}}`))

	if got := drainFrames(t, s); len(got) != 0 {
		t.Errorf("frames = %v, want none", got)
	}
}

func TestHandleFrameDisconnect(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")

	srv.handleFrame(s, []byte(`{"event_kind":"disconnect"}`))

	if _, ok := hub.Registry().Get("s1"); ok {
		t.Error("session survived explicit disconnect")
	}
	if !s.Closed() {
		t.Error("session not closed")
	}
}

func TestHandleFrameServerOnlyKindsRefused(t *testing.T) {
	srv, hub := newServerFixture(t)
	s := addSession(t, hub, "s1", "alice")
	peer := addSession(t, hub, "s2", "alice")

	// Clients must not be able to forge server-originated kinds.
	for _, kind := range []string{"connect_ack", "notification", "like_update", "comment_update", "user_status", "error"} {
		srv.handleFrame(s, []byte(`{"event_kind":"`+kind+`","data":{"forged":true}}`))
	}

	if got := drainFrames(t, peer); len(got) != 0 {
		t.Errorf("forged server kinds reached peer: %v", got)
	}
	if _, ok := hub.Registry().Get("s1"); !ok {
		t.Error("session dropped for sending server-only kind")
	}
}
