package model

import "time"

type MessageType string

const (
	TypeUser   MessageType = "USER"
	TypeSystem MessageType = "SYSTEM"
	TypeDM     MessageType = "DM"
)

// Message is the denormalized copy of a persisted message row that travels
// through the cache and the fan-out bus. The durable row in ScyllaDB remains
// the source of truth.
type Message struct {
	ID        int64       `json:"id"`
	Content   string      `json:"content"`
	SenderID  string      `json:"sender_id"`
	Room      RoomRef     `json:"room"`
	ParentID  int64       `json:"parent_id,omitempty"`
	Type      MessageType `json:"message_type"`
	CreatedAt time.Time   `json:"created_at"`
	Mentions  []Mention   `json:"mentions,omitempty"`
}

type MentionType string

const (
	MentionUser     MentionType = "USER"
	MentionHere     MentionType = "HERE"
	MentionEveryone MentionType = "EVERYONE"
)

// Mention references either a concrete user or a room-wide audience that the
// delivery orchestrator resolves against current room membership.
type Mention struct {
	Type   MentionType `json:"type"`
	UserID string      `json:"user_id,omitempty"`
}

// IsSpecial reports whether any mention targets the whole room.
func IsSpecial(mentions []Mention) bool {
	for _, m := range mentions {
		if m.Type == MentionHere || m.Type == MentionEveryone {
			return true
		}
	}
	return false
}
