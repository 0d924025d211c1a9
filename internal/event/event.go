// Package event defines the wire-level frame exchanged with clients, the
// cross-process event envelope, and the room naming grammar shared by the
// session, bridge and dispatch layers.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a realtime event type. The set is closed: inbound frames
// carrying a kind outside this set are ignored with a warning, and the
// transport dispatches on it exhaustively.
type Kind string

const (
	KindConnectAck    Kind = "connect_ack"
	KindDisconnect    Kind = "disconnect"
	KindPing          Kind = "ping"
	KindPong          Kind = "pong"
	KindJoinRoom      Kind = "join_room"
	KindLeaveRoom     Kind = "leave_room"
	KindTyping        Kind = "typing"
	KindNewMessage    Kind = "new_message"
	KindNotification  Kind = "notification"
	KindLikeUpdate    Kind = "like_update"
	KindCommentUpdate Kind = "comment_update"
	KindUserStatus    Kind = "user_status"
	KindError         Kind = "error"
)

var knownKinds = map[Kind]struct{}{
	KindConnectAck:    {},
	KindDisconnect:    {},
	KindPing:          {},
	KindPong:          {},
	KindJoinRoom:      {},
	KindLeaveRoom:     {},
	KindTyping:        {},
	KindNewMessage:    {},
	KindNotification:  {},
	KindLikeUpdate:    {},
	KindCommentUpdate: {},
	KindUserStatus:    {},
	KindError:         {},
}

// Known reports whether k is part of the closed event kind set.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// Frame is the bidirectional client <-> server message envelope.
type Frame struct {
	Kind Kind            `json:"event_kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeFrame parses a raw inbound message. A frame that is not valid JSON
// or carries an empty event_kind is malformed; the caller drops it and keeps
// the connection open. Unknown kinds decode successfully so the caller can
// distinguish "garbage" from "a kind we do not speak".
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event_kind")
	}
	return f, nil
}

// EncodeFrame serializes an outbound frame.
func EncodeFrame(kind Kind, data any) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode frame data: %w", err)
		}
		raw = b
	}
	b, err := json.Marshal(Frame{Kind: kind, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// Envelope is the transient cross-process representation of one event. It is
// published on the broadcast bus and never persisted. Origin carries the
// publishing process id so a subscriber never re-delivers an event its own
// process already delivered locally.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"event_kind"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin_process_id"`
	SentAt  int64           `json:"sent_at"`
}

// NewEnvelope builds an envelope for a dispatch originating on this process.
func NewEnvelope(id string, kind Kind, target string, payload json.RawMessage, origin string) Envelope {
	return Envelope{
		ID:      id,
		Kind:    kind,
		Target:  target,
		Payload: payload,
		Origin:  origin,
		SentAt:  time.Now().UnixMilli(),
	}
}

// Encode serializes the envelope for the bus.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses an envelope received from the bus. Envelopes missing
// a kind or target are rejected; the subscriber drops them.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Kind == "" || e.Target == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event_kind or target")
	}
	return e, nil
}
