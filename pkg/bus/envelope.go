package bus

import (
	"encoding/json"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Envelope is the wire unit on the fan-out bus. It is consumed once by each
// subscriber process and never persisted.
type Envelope struct {
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RoomType       model.RoomType  `json:"room_type,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	TargetUserIDs  []string        `json:"target_user_ids,omitempty"`
	ExcludeUserID  string          `json:"exclude_user_id,omitempty"`
	OriginServerID string          `json:"origin_server_id"`
	Timestamp      int64           `json:"timestamp"`
}

// NewEnvelope marshals the payload; a payload that cannot be marshaled is a
// programming error and reported to the caller.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Payload: raw}, nil
}

// Room returns the room the envelope targets, if any.
func (e *Envelope) Room() (model.RoomRef, bool) {
	if e.RoomID == "" || e.RoomType == "" {
		return model.RoomRef{}, false
	}
	return model.RoomRef{Type: e.RoomType, ID: e.RoomID}, true
}
