package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/bridge"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
)

// proc is one simulated gateway process: its own registry, hub and bridge,
// sharing a MemoryBus with its peers the way real processes share a broker.
type proc struct {
	hub        *session.Hub
	dispatcher *Dispatcher
	bridge     *bridge.Bridge
}

func newProc(t *testing.T, bus bridge.Bus, processID string) *proc {
	t.Helper()
	reg := session.NewRegistry()
	rooms := session.NewRooms(reg)
	presence := session.NewPresence(time.Hour, reg.UserSessionCount, nil)
	t.Cleanup(presence.Stop)

	hub := session.NewHub(reg, rooms, presence, zerolog.Nop())
	br := bridge.New(bus, processID, zerolog.Nop())
	d := New(hub, br, zerolog.Nop())

	if err := br.Start(func(env event.Envelope) { d.DeliverLocal(env) }); err != nil {
		t.Fatalf("bridge start on %s: %v", processID, err)
	}
	t.Cleanup(br.Stop)

	return &proc{hub: hub, dispatcher: d, bridge: br}
}

func (p *proc) addSession(t *testing.T, sessionID, userID string, queueSize int) *session.Session {
	t.Helper()
	s := session.NewSession(sessionID, userID, queueSize)
	p.hub.AddSession(s)
	return s
}

func drain(s *session.Session) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-s.SendQueue():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func decodeFrames(t *testing.T, raw [][]byte) []event.Frame {
	t.Helper()
	frames := make([]event.Frame, 0, len(raw))
	for _, b := range raw {
		f, err := event.DecodeFrame(b)
		if err != nil {
			t.Fatalf("decoding delivered frame %q: %v", b, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestDispatchUserAcrossProcesses(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")
	procB := newProc(t, bus, "proc-b")

	// Alice has a phone on process A and a laptop on process B.
	phone := procA.addSession(t, "s-phone", "alice", 8)
	laptop := procB.addSession(t, "s-laptop", "alice", 8)
	bystander := procA.addSession(t, "s-other", "bob", 8)

	procA.dispatcher.Dispatch(event.UserRoom("alice"), event.KindLikeUpdate,
		map[string]any{"post_id": "p1", "likes": 3})

	for _, tc := range []struct {
		name string
		s    *session.Session
		want int
	}{
		{"same-process session", phone, 1},
		{"remote-process session", laptop, 1},
		{"unrelated user", bystander, 0},
	} {
		frames := decodeFrames(t, drain(tc.s))
		if len(frames) != tc.want {
			t.Errorf("%s: got %d frames, want %d", tc.name, len(frames), tc.want)
			continue
		}
		if tc.want == 1 && frames[0].Kind != event.KindLikeUpdate {
			t.Errorf("%s: kind = %q, want %q", tc.name, frames[0].Kind, event.KindLikeUpdate)
		}
	}
}

func TestDispatchConversationMembersOnly(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")
	procB := newProc(t, bus, "proc-b")

	member := procA.addSession(t, "s1", "alice", 8)
	remoteMember := procB.addSession(t, "s2", "bob", 8)
	nonMember := procA.addSession(t, "s3", "carol", 8)

	room := event.ConversationRoom("42")
	if err := procA.hub.Rooms().Join("s1", room); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := procB.hub.Rooms().Join("s2", room); err != nil {
		t.Fatalf("Join: %v", err)
	}

	procA.dispatcher.Dispatch(room, event.KindTyping, map[string]any{"conversation_id": "42", "user_id": "alice"})

	if got := len(drain(member)); got != 1 {
		t.Errorf("local member got %d frames, want 1", got)
	}
	if got := len(drain(remoteMember)); got != 1 {
		t.Errorf("remote member got %d frames, want 1", got)
	}
	if got := len(drain(nonMember)); got != 0 {
		t.Errorf("non-member got %d frames, want 0", got)
	}
}

func TestDispatchExactlyOncePerSession(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")
	newProc(t, bus, "proc-b") // extra subscriber must not cause duplicates

	s := procA.addSession(t, "s1", "alice", 8)

	procA.dispatcher.Dispatch(event.UserRoom("alice"), event.KindNotification,
		map[string]any{"id": "n1"})

	// The originating process delivers local-direct and also publishes; the
	// origin filter must stop the published copy coming back around.
	if got := len(drain(s)); got != 1 {
		t.Errorf("session got %d frames, want exactly 1", got)
	}
}

func TestDispatchBrokerOutageLocalOnly(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")
	procB := newProc(t, bus, "proc-b")

	local := procA.addSession(t, "s1", "alice", 8)
	remote := procB.addSession(t, "s2", "alice", 8)

	bus.SetDown(true)
	procA.dispatcher.Dispatch(event.UserRoom("alice"), event.KindNotification,
		map[string]any{"id": "n1"})

	// Same-process delivery proceeds; cross-process is lost for the outage
	// duration and no error reaches the caller.
	if got := len(drain(local)); got != 1 {
		t.Errorf("local session got %d frames during outage, want 1", got)
	}
	if got := len(drain(remote)); got != 0 {
		t.Errorf("remote session got %d frames during outage, want 0", got)
	}
}

func TestDispatchSlowClientDisconnected(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")

	slow := procA.addSession(t, "s-slow", "alice", 1)
	healthy := procA.addSession(t, "s-ok", "alice", 8)

	// First dispatch fills the slow client's single-slot buffer.
	procA.dispatcher.Dispatch(event.UserRoom("alice"), event.KindNotification, map[string]any{"id": "n1"})
	// Second dispatch finds it full and disconnects it.
	procA.dispatcher.Dispatch(event.UserRoom("alice"), event.KindNotification, map[string]any{"id": "n2"})

	if !slow.Closed() {
		t.Error("slow client not disconnected")
	}
	if _, ok := procA.hub.Registry().Get("s-slow"); ok {
		t.Error("slow client still registered")
	}
	if healthy.Closed() {
		t.Error("healthy session torn down alongside the slow one")
	}
	if got := len(drain(healthy)); got != 2 {
		t.Errorf("healthy session got %d frames, want 2", got)
	}
}

func TestDispatchNoSessionsIsSilent(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")

	// Target nobody: the event is dropped without error.
	procA.dispatcher.Dispatch(event.UserRoom("nobody"), event.KindNotification, map[string]any{"id": "n1"})
	procA.dispatcher.Dispatch(event.ConversationRoom("99"), event.KindTyping, nil)
}

func TestDeliverLocalCounts(t *testing.T) {
	bus := bridge.NewMemoryBus()
	procA := newProc(t, bus, "proc-a")

	procA.addSession(t, "s1", "alice", 8)
	procA.addSession(t, "s2", "alice", 8)

	env := event.NewEnvelope("e1", event.KindUserStatus, event.UserRoom("alice"),
		json.RawMessage(`{"status":"online"}`), "proc-x")
	if got := procA.dispatcher.DeliverLocal(env); got != 2 {
		t.Errorf("DeliverLocal = %d, want 2", got)
	}

	env = event.NewEnvelope("e2", event.KindUserStatus, event.UserRoom("ghost"), nil, "proc-x")
	if got := procA.dispatcher.DeliverLocal(env); got != 0 {
		t.Errorf("DeliverLocal to absent user = %d, want 0", got)
	}
}
