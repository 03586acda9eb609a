package directory

import (
	"context"
	"sync"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Memory is an in-process Directory for tests and single-node development.
type Memory struct {
	mu       sync.Mutex
	members  map[string]map[string]struct{}
	rooms    map[string][]model.RoomRef
	messages map[string][]model.Message
}

func NewMemory() *Memory {
	return &Memory{
		members:  make(map[string]map[string]struct{}),
		rooms:    make(map[string][]model.RoomRef),
		messages: make(map[string][]model.Message),
	}
}

// AddMember seeds durable membership: the user belongs to the room, and for
// conversation rooms the room shows up under the user's workspace rooms.
func (m *Memory) AddMember(room model.RoomRef, workspaceID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[room.Key()]
	if !ok {
		set = make(map[string]struct{})
		m.members[room.Key()] = set
	}
	set[userID] = struct{}{}
	if room.IsConversation() {
		key := userID + "@" + workspaceID
		m.rooms[key] = append(m.rooms[key], room)
	}
}

func (m *Memory) IsMember(_ context.Context, room model.RoomRef, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[room.Key()][userID]
	return ok, nil
}

func (m *Memory) UserRooms(_ context.Context, workspaceID, userID string) ([]model.RoomRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RoomRef(nil), m.rooms[userID+"@"+workspaceID]...), nil
}

func (m *Memory) RoomMemberIDs(_ context.Context, room model.RoomRef) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.members[room.Key()]))
	for id := range m.members[room.Key()] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := msg.Room.Key()
	m.messages[key] = append([]model.Message{*msg}, m.messages[key]...)
	return nil
}

func (m *Memory) RecentMessages(_ context.Context, room model.RoomRef, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[room.Key()]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]model.Message(nil), msgs...), nil
}
