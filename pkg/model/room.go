package model

import "errors"

type RoomType string

const (
	RoomChannel   RoomType = "channel"
	RoomDM        RoomType = "dm"
	RoomWorkspace RoomType = "workspace"
)

var ErrInvalidRoom = errors.New("invalid room reference")

// RoomRef identifies a broadcast scope: a workspace, a channel, or a DM
// conversation. It is the only place a room type is paired with an id, so
// every key and channel name derives from the same value.
type RoomRef struct {
	Type RoomType `json:"room_type"`
	ID   string   `json:"room_id"`
}

func Channel(id string) RoomRef   { return RoomRef{Type: RoomChannel, ID: id} }
func DM(id string) RoomRef        { return RoomRef{Type: RoomDM, ID: id} }
func Workspace(id string) RoomRef { return RoomRef{Type: RoomWorkspace, ID: id} }

// Key is the canonical "{roomType}:{roomId}" form used for both Redis set
// names and pub/sub channel names.
func (r RoomRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

func (r RoomRef) Validate() error {
	if r.ID == "" {
		return ErrInvalidRoom
	}
	switch r.Type {
	case RoomChannel, RoomDM, RoomWorkspace:
		return nil
	}
	return ErrInvalidRoom
}

// IsConversation reports whether the room carries messages (channels and
// DMs), as opposed to the workspace umbrella room.
func (r RoomRef) IsConversation() bool {
	return r.Type == RoomChannel || r.Type == RoomDM
}
