// Package directory is the persistence collaborator boundary: durable
// membership lookups and message rows. The realtime core never issues raw
// queries itself; it consumes this interface.
package directory

import (
	"context"
	"errors"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

var ErrNotFound = errors.New("directory: not found")

type Directory interface {
	// IsMember reports durable membership of a user in a room. For workspace
	// rooms this answers "does the user belong to the workspace".
	IsMember(ctx context.Context, room model.RoomRef, userID string) (bool, error)
	// UserRooms enumerates every channel and DM conversation the user
	// belongs to inside a workspace.
	UserRooms(ctx context.Context, workspaceID, userID string) ([]model.RoomRef, error)
	// RoomMemberIDs lists the durable member set of a room, used to resolve
	// @here/@everyone mentions into notification targets.
	RoomMemberIDs(ctx context.Context, room model.RoomRef) ([]string, error)
	// CreateMessage persists a message row.
	CreateMessage(ctx context.Context, msg *model.Message) error
	// RecentMessages returns the newest messages in a room, newest first.
	RecentMessages(ctx context.Context, room model.RoomRef, limit int) ([]model.Message, error)
}
