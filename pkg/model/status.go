package model

import "time"

type UserStatus string

const (
	StatusOnline       UserStatus = "ONLINE"
	StatusAway         UserStatus = "AWAY"
	StatusOffline      UserStatus = "OFFLINE"
	StatusDoNotDisturb UserStatus = "DO_NOT_DISTURB"
)

// Statuses lists every valid status. Presence keeps one Redis set per entry
// and a user must appear in at most one of them per workspace.
var Statuses = []UserStatus{StatusOnline, StatusAway, StatusOffline, StatusDoNotDisturb}

func (s UserStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline, StatusDoNotDisturb:
		return true
	}
	return false
}

// PresenceStatus is the per-(workspace, user) value stored in the
// coordination store. Last write wins.
type PresenceStatus struct {
	UserID        string     `json:"user_id"`
	Status        UserStatus `json:"status"`
	CustomMessage string     `json:"custom_message,omitempty"`
	LastActiveAt  time.Time  `json:"last_active_at"`
}

// Connection mirrors a live socket into the coordination store so other
// processes can answer "is any connection of this user still in room X".
type Connection struct {
	UserID       string     `json:"user_id"`
	ConnectionID string     `json:"connection_id"`
	WorkspaceID  string     `json:"workspace_id,omitempty"`
	Channels     []string   `json:"channels"`
	DMs          []string   `json:"dms"`
	LastActiveAt time.Time  `json:"last_active_at"`
	Status       UserStatus `json:"status"`
}

// InRoom reports whether this connection has joined the given room.
func (c *Connection) InRoom(room RoomRef) bool {
	switch room.Type {
	case RoomWorkspace:
		return c.WorkspaceID == room.ID
	case RoomChannel:
		return contains(c.Channels, room.ID)
	case RoomDM:
		return contains(c.DMs, room.ID)
	}
	return false
}

// Join records the room on the connection. It is a no-op if already joined.
func (c *Connection) Join(room RoomRef) {
	switch room.Type {
	case RoomWorkspace:
		c.WorkspaceID = room.ID
	case RoomChannel:
		if !contains(c.Channels, room.ID) {
			c.Channels = append(c.Channels, room.ID)
		}
	case RoomDM:
		if !contains(c.DMs, room.ID) {
			c.DMs = append(c.DMs, room.ID)
		}
	}
}

// Leave removes the room from the connection. Unknown rooms are ignored.
func (c *Connection) Leave(room RoomRef) {
	switch room.Type {
	case RoomWorkspace:
		if c.WorkspaceID == room.ID {
			c.WorkspaceID = ""
		}
	case RoomChannel:
		c.Channels = remove(c.Channels, room.ID)
	case RoomDM:
		c.DMs = remove(c.DMs, room.ID)
	}
}

// Rooms returns every room the connection has joined, workspace included.
func (c *Connection) Rooms() []RoomRef {
	var rooms []RoomRef
	if c.WorkspaceID != "" {
		rooms = append(rooms, Workspace(c.WorkspaceID))
	}
	for _, id := range c.Channels {
		rooms = append(rooms, Channel(id))
	}
	for _, id := range c.DMs {
		rooms = append(rooms, DM(id))
	}
	return rooms
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
