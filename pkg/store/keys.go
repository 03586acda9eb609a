package store

import (
	"strconv"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Key schema. Everything transient the cluster shares lives under these
// names; they are operationally significant for capacity planning, so keep
// them stable.

// ConnectedUsersKey is the set of user ids with at least one live socket
// anywhere in the cluster.
const ConnectedUsersKey = "ws:connections"

// ConnectionKey holds the serialized Connection record for one socket.
func ConnectionKey(connectionID string) string {
	return "ws:conn:" + connectionID
}

// UserConnectionsKey is the set of connection ids a user currently holds.
func UserConnectionsKey(userID string) string {
	return "ws:user:" + userID + ":conns"
}

// RoomUsersKey is the membership set for a room.
func RoomUsersKey(room model.RoomRef) string {
	return "ws:" + room.Key() + ":users"
}

// StatusSetKey is one of the four per-workspace presence buckets.
func StatusSetKey(workspaceID string, status model.UserStatus) string {
	return "ws:workspace:" + workspaceID + ":status:" + statusBucket(status)
}

func statusBucket(status model.UserStatus) string {
	switch status {
	case model.StatusOnline:
		return "online"
	case model.StatusAway:
		return "away"
	case model.StatusDoNotDisturb:
		return "dnd"
	default:
		return "offline"
	}
}

// UserStatusKey holds the serialized PresenceStatus for a (workspace, user).
func UserStatusKey(workspaceID, userID string) string {
	return "status:" + workspaceID + ":" + userID
}

func LastSeenKey(workspaceID, userID string) string {
	return "lastseen:" + workspaceID + ":" + userID
}

// TypingKey is the short-lived set of users typing in a room.
func TypingKey(room model.RoomRef) string {
	return "typing:" + room.Key()
}

func MessageKey(messageID int64) string {
	return "message:" + strconv.FormatInt(messageID, 10)
}

// RecentMessagesKey is the bounded per-room list of recent messages.
func RecentMessagesKey(room model.RoomRef) string {
	return "messages:recent:" + room.Key()
}

// UnreadKey is the per-user hash of roomID -> unread count, split by room
// type the way the original schema was.
func UnreadKey(userID string, roomType model.RoomType) string {
	if roomType == model.RoomDM {
		return "unread:dms:" + userID
	}
	return "unread:channels:" + userID
}
