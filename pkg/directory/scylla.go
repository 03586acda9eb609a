package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/mahaj/workspace-realtime/pkg/db"
	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Scylla implements Directory on ScyllaDB. Membership is denormalized in
// both directions (room -> users and user -> rooms) the way the rest of the
// schema is, so every read is a single-partition query.
type Scylla struct {
	session *db.Session
}

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{session: session}
}

func (s *Scylla) IsMember(ctx context.Context, room model.RoomRef, userID string) (bool, error) {
	if err := room.Validate(); err != nil {
		return false, err
	}
	var found string
	err := s.session.Query(
		`SELECT user_id FROM room_members WHERE room_type = ? AND room_id = ? AND user_id = ?`,
		string(room.Type), room.ID, userID,
	).WithContext(ctx).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	return false, errors.Wrap(err, "directory: is member")
}

func (s *Scylla) UserRooms(ctx context.Context, workspaceID, userID string) ([]model.RoomRef, error) {
	iter := s.session.Query(
		`SELECT room_type, room_id FROM user_rooms WHERE user_id = ? AND workspace_id = ?`,
		userID, workspaceID,
	).WithContext(ctx).Iter()

	var rooms []model.RoomRef
	var roomType, roomID string
	for iter.Scan(&roomType, &roomID) {
		room := model.RoomRef{Type: model.RoomType(roomType), ID: roomID}
		if room.IsConversation() {
			rooms = append(rooms, room)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "directory: user rooms")
	}
	return rooms, nil
}

func (s *Scylla) RoomMemberIDs(ctx context.Context, room model.RoomRef) ([]string, error) {
	iter := s.session.Query(
		`SELECT user_id FROM room_members WHERE room_type = ? AND room_id = ?`,
		string(room.Type), room.ID,
	).WithContext(ctx).Iter()

	var members []string
	var userID string
	for iter.Scan(&userID) {
		members = append(members, userID)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "directory: room members")
	}
	return members, nil
}

func (s *Scylla) CreateMessage(ctx context.Context, msg *model.Message) error {
	var mentions string
	if len(msg.Mentions) > 0 {
		raw, err := json.Marshal(msg.Mentions)
		if err != nil {
			return errors.Wrap(err, "directory: marshal mentions")
		}
		mentions = string(raw)
	}
	err := s.session.Query(
		`INSERT INTO messages (room_type, room_id, id, sender_id, content, message_type, parent_id, mentions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.Room.Type), msg.Room.ID, msg.ID, msg.SenderID, msg.Content,
		string(msg.Type), msg.ParentID, mentions, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "directory: create message")
	}
	return nil
}

func (s *Scylla) RecentMessages(ctx context.Context, room model.RoomRef, limit int) ([]model.Message, error) {
	iter := s.session.Query(
		`SELECT id, sender_id, content, message_type, parent_id, mentions, created_at
		 FROM messages WHERE room_type = ? AND room_id = ? LIMIT ?`,
		string(room.Type), room.ID, limit,
	).WithContext(ctx).Iter()

	var messages []model.Message
	var (
		id, parentID      int64
		sender, content   string
		msgType, mentions string
		createdAt         time.Time
	)
	for iter.Scan(&id, &sender, &content, &msgType, &parentID, &mentions, &createdAt) {
		msg := model.Message{
			ID:        id,
			SenderID:  sender,
			Content:   content,
			Room:      room,
			ParentID:  parentID,
			Type:      model.MessageType(msgType),
			CreatedAt: createdAt,
		}
		if mentions != "" {
			_ = json.Unmarshal([]byte(mentions), &msg.Mentions)
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "directory: recent messages")
	}
	return messages, nil
}
