// Package rooms maintains the shared room membership sets and the composite
// workspace join/leave flows.
package rooms

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

// ErrNotAMember marks authorization failures: a valid user who does not
// belong to the room or workspace. It reaches only the caller's socket,
// never a broadcast.
var ErrNotAMember = errors.New("rooms: not a member")

// Manager mutates room membership sets. Membership has no multiplicity, so
// removal is connection-aware: a user leaves a room's set only when none of
// their live connections still has the room joined.
type Manager struct {
	store    store.Store
	presence *presence.Registry
	dir      directory.Directory
	ttl      store.TTLConfig
	log      *zap.Logger
}

func NewManager(s store.Store, reg *presence.Registry, dir directory.Directory, ttl store.TTLConfig) *Manager {
	return &Manager{store: s, presence: reg, dir: dir, ttl: ttl, log: logger.Named("rooms")}
}

// JoinRoom adds the connection's user to the room set and records the room
// on the connection. Joining an already-joined room is a no-op. Returns the
// member count after the join.
func (m *Manager) JoinRoom(ctx context.Context, conn *model.Connection, room model.RoomRef) (int, error) {
	if err := room.Validate(); err != nil {
		return 0, err
	}

	if err := m.store.SetAdd(ctx, store.RoomUsersKey(room), m.ttl.Membership, conn.UserID); err != nil {
		return 0, err
	}
	conn.Join(room)
	if err := m.presence.SaveConnection(ctx, conn); err != nil {
		return 0, err
	}

	members, err := m.store.SetMembers(ctx, store.RoomUsersKey(room))
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// LeaveRoom removes the room from the connection and, if no sibling
// connection of the user still has it joined, from the shared set. Leaving
// a room the user never joined is a no-op.
func (m *Manager) LeaveRoom(ctx context.Context, conn *model.Connection, room model.RoomRef) error {
	if err := room.Validate(); err != nil {
		return err
	}

	conn.Leave(room)
	if err := m.presence.SaveConnection(ctx, conn); err != nil {
		return err
	}

	still, err := m.userStillInRoom(ctx, conn.UserID, conn.ConnectionID, room)
	if err != nil {
		return err
	}
	if still {
		return nil
	}
	return m.store.SetRemove(ctx, store.RoomUsersKey(room), conn.UserID)
}

// Members returns the current membership set of a room.
func (m *Manager) Members(ctx context.Context, room model.RoomRef) ([]string, error) {
	return m.store.SetMembers(ctx, store.RoomUsersKey(room))
}

// JoinResult reports the outcome of one room join inside a composite
// workspace join. Failures are per-room, never a whole-operation abort.
type JoinResult struct {
	Room model.RoomRef
	Err  error
}

// JoinWorkspace verifies workspace membership, joins the workspace room,
// then joins every channel and DM the user belongs to. Rooms that fail to
// join are reported individually; the rest stay joined.
func (m *Manager) JoinWorkspace(ctx context.Context, conn *model.Connection, workspaceID string) ([]JoinResult, error) {
	ws := model.Workspace(workspaceID)

	ok, err := m.dir.IsMember(ctx, ws, conn.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}

	// Switching workspaces implies leaving the previous one first.
	if conn.WorkspaceID != "" && conn.WorkspaceID != workspaceID {
		if err := m.LeaveWorkspace(ctx, conn); err != nil {
			m.log.Warn("leaving previous workspace",
				zap.String("workspace", conn.WorkspaceID), zap.Error(err))
		}
	}

	if _, err := m.JoinRoom(ctx, conn, ws); err != nil {
		return nil, err
	}

	userRooms, err := m.dir.UserRooms(ctx, workspaceID, conn.UserID)
	if err != nil {
		return nil, err
	}

	results := make([]JoinResult, 0, len(userRooms))
	for _, room := range userRooms {
		_, joinErr := m.JoinRoom(ctx, conn, room)
		results = append(results, JoinResult{Room: room, Err: joinErr})
		if joinErr != nil {
			m.log.Warn("joining room", zap.String("room", room.Key()), zap.Error(joinErr))
		}
	}
	return results, nil
}

// LeaveWorkspace leaves every room joined under the connection's current
// workspace and clears the workspace-scoped status entry if this was the
// user's last connection there.
func (m *Manager) LeaveWorkspace(ctx context.Context, conn *model.Connection) error {
	workspaceID := conn.WorkspaceID
	if workspaceID == "" {
		return nil
	}

	for _, room := range conn.Rooms() {
		if err := m.LeaveRoom(ctx, conn, room); err != nil {
			m.log.Warn("leaving room", zap.String("room", room.Key()), zap.Error(err))
		}
	}

	still, err := m.userStillInRoom(ctx, conn.UserID, conn.ConnectionID, model.Workspace(workspaceID))
	if err != nil {
		return err
	}
	if !still {
		return m.presence.RemoveWorkspaceStatus(ctx, workspaceID, conn.UserID)
	}
	return nil
}

// CleanupConnection is the disconnect path: best-effort once, not retried,
// since the transport is already gone. Typing markers the connection left
// behind are cleared for timeliness (TTL would catch them anyway).
func (m *Manager) CleanupConnection(ctx context.Context, conn *model.Connection) {
	for _, room := range conn.Rooms() {
		if err := m.presence.SetTyping(ctx, room, conn.UserID, false); err != nil {
			m.log.Warn("clearing typing marker", zap.String("room", room.Key()), zap.Error(err))
		}
		still, err := m.userStillInRoom(ctx, conn.UserID, conn.ConnectionID, room)
		if err != nil {
			m.log.Warn("checking sibling connections", zap.String("room", room.Key()), zap.Error(err))
			continue
		}
		if still {
			continue
		}
		if err := m.store.SetRemove(ctx, store.RoomUsersKey(room), conn.UserID); err != nil {
			m.log.Warn("removing room membership", zap.String("room", room.Key()), zap.Error(err))
		}
	}
}

// userStillInRoom reports whether any connection of the user other than
// excludeConnID still has the room joined. Membership sets carry no
// multiplicity, so this check is what keeps a two-tab user in a room when
// one tab closes.
func (m *Manager) userStillInRoom(ctx context.Context, userID, excludeConnID string, room model.RoomRef) (bool, error) {
	conns, err := m.presence.UserConnections(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, sibling := range conns {
		if sibling.ConnectionID == excludeConnID {
			continue
		}
		if sibling.InRoom(room) {
			return true, nil
		}
	}
	return false, nil
}
