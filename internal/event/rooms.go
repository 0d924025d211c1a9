package event

import (
	"fmt"
	"regexp"
	"strings"
)

// Room naming grammar. Rooms are namespaced strings shared between the
// session layer and the broadcast bus:
//
//	user:{userID}          per-user notification room, joined on admission
//	conversation:{convID}  chat room, joined via join_room
//	followers:{userID}     presence fanout group for a user's followers
//
// On the bus a room maps to the subject "hmb.room.{roomID}" so a single
// wildcard subscription covers every room.

const (
	RoomTypeUser         = "user"
	RoomTypeConversation = "conversation"
	RoomTypeFollowers    = "followers"

	subjectPrefix = "hmb.room."

	// SubjectWildcard matches every room subject on the bus.
	SubjectWildcard = "hmb.room.*"
)

var (
	userRoomPattern         = regexp.MustCompile(`^user:([A-Za-z0-9_-]+)$`)
	conversationRoomPattern = regexp.MustCompile(`^conversation:([A-Za-z0-9_-]+)$`)
	followersRoomPattern    = regexp.MustCompile(`^followers:([A-Za-z0-9_-]+)$`)
)

// UserRoom returns the per-user notification room id.
func UserRoom(userID string) string { return fmt.Sprintf("user:%s", userID) }

// ConversationRoom returns the chat room id for a conversation.
func ConversationRoom(convID string) string { return fmt.Sprintf("conversation:%s", convID) }

// FollowersRoom returns the presence fanout room for a user's followers.
func FollowersRoom(userID string) string { return fmt.Sprintf("followers:%s", userID) }

// ValidRoom checks a room id against the naming grammar. Client-supplied
// room ids in join_room/leave_room must pass before touching membership.
func ValidRoom(roomID string) bool {
	return userRoomPattern.MatchString(roomID) ||
		conversationRoomPattern.MatchString(roomID) ||
		followersRoomPattern.MatchString(roomID)
}

// ParseRoom splits a room id into its type and identifier. Returns empty
// strings for ids outside the grammar.
func ParseRoom(roomID string) (roomType, id string) {
	for _, p := range []struct {
		typ string
		re  *regexp.Regexp
	}{
		{RoomTypeUser, userRoomPattern},
		{RoomTypeConversation, conversationRoomPattern},
		{RoomTypeFollowers, followersRoomPattern},
	} {
		if m := p.re.FindStringSubmatch(roomID); m != nil {
			return p.typ, m[1]
		}
	}
	return "", ""
}

// RoomSubject maps a room id to its bus subject.
func RoomSubject(roomID string) string { return subjectPrefix + roomID }

// SubjectRoom maps a bus subject back to a room id. Returns empty string for
// subjects outside the room namespace.
func SubjectRoom(subject string) string {
	if !strings.HasPrefix(subject, subjectPrefix) {
		return ""
	}
	return strings.TrimPrefix(subject, subjectPrefix)
}
