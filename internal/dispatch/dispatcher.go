// Package dispatch is the public entry point business logic calls to push an
// event to a user or room.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/bridge"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
)

// Dispatcher fans one logical event out to every matching session in the
// cluster: local sessions directly, remote sessions via the broadcast
// bridge. Delivery is best-effort, at-most-once per currently connected
// session. A target with zero sessions anywhere simply drops the event;
// durable notification state is the persisted-notification collaborator's
// job and is invoked by callers independently of this path.
type Dispatcher struct {
	hub    *session.Hub
	bridge *bridge.Bridge
	log    zerolog.Logger
}

func New(hub *session.Hub, br *bridge.Bridge, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:    hub,
		bridge: br,
		log:    log.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch pushes an event to a target room. The target follows the room
// grammar: "user:{id}" reaches every session of that user, any other room id
// reaches its members. Local-direct delivery happens first, then the
// envelope is published so other processes deliver to their own sessions.
// Errors never escape: the live-push path favors silent degradation.
func (d *Dispatcher) Dispatch(target string, kind event.Kind, payload any) {
	raw, err := marshalPayload(payload)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("bad_payload").Inc()
		d.log.Error().Err(err).Str("target", target).Str("kind", kind.String()).
			Msg("failed to marshal dispatch payload")
		return
	}

	env := event.NewEnvelope(uuid.NewString(), kind, target, raw, d.bridge.ProcessID())
	d.DeliverLocal(env)
	d.bridge.Publish(env)
}

// DeliverLocal resolves the envelope's target against this process's
// registry and room arena and enqueues the event on each matching session.
// It is also the sink for remotely originated envelopes arriving from the
// bridge. Returns the number of sessions that accepted the event.
func (d *Dispatcher) DeliverLocal(env event.Envelope) int {
	targets := d.resolve(env.Target)
	if len(targets) == 0 {
		return 0
	}

	frame, err := event.EncodeFrame(env.Kind, env.Payload)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("encode").Inc()
		d.log.Error().Err(err).Str("target", env.Target).Msg("failed to encode outbound frame")
		return 0
	}

	delivered := 0
	for _, s := range targets {
		if s.Enqueue(frame) {
			delivered++
			metrics.EventsDelivered.WithLabelValues(env.Kind.String()).Inc()
			continue
		}
		if s.Closed() {
			// Raced a disconnect; the session is gone from the registry by
			// now or will be momentarily. Expected, not an error.
			metrics.EventsDropped.WithLabelValues("session_closed").Inc()
			continue
		}
		// Send buffer full: a slow client must not stall fanout to anyone
		// else, so it is disconnected through the normal teardown path.
		metrics.SlowClientsDisconnected.Inc()
		metrics.EventsDropped.WithLabelValues("slow_client").Inc()
		d.log.Warn().
			Str("session_id", s.ID).
			Str("user_id", s.UserID).
			Msg("disconnecting slow client")
		d.hub.DropSession(s.ID, "slow_client")
	}
	return delivered
}

func (d *Dispatcher) resolve(target string) []*session.Session {
	if typ, id := event.ParseRoom(target); typ == event.RoomTypeUser {
		return d.hub.Registry().SessionsForUser(id)
	}

	memberIDs := d.hub.Rooms().LocalMembers(target)
	if len(memberIDs) == 0 {
		return nil
	}
	out := make([]*session.Session, 0, len(memberIDs))
	for _, id := range memberIDs {
		if s, ok := d.hub.Registry().Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
