// Package presence tracks connection lifecycles and per-workspace user
// status in the coordination store.
package presence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

var ErrInvalidStatus = errors.New("presence: invalid status")

// Registry records connection lifecycles and derives per-workspace presence.
// A user may hold several simultaneous connections; records are keyed by
// connection id and reconciled individually on disconnect.
type Registry struct {
	store store.Store
	ttl   store.TTLConfig
	log   *zap.Logger
}

func NewRegistry(s store.Store, ttl store.TTLConfig) *Registry {
	return &Registry{store: s, ttl: ttl, log: logger.Named("presence")}
}

// RegisterConnection mirrors a freshly authenticated socket into the store.
func (r *Registry) RegisterConnection(ctx context.Context, userID, connectionID string) (*model.Connection, error) {
	conn := &model.Connection{
		UserID:       userID,
		ConnectionID: connectionID,
		LastActiveAt: time.Now(),
		Status:       model.StatusOnline,
	}
	if err := r.SaveConnection(ctx, conn); err != nil {
		return nil, err
	}
	if err := r.store.SetAdd(ctx, store.UserConnectionsKey(userID), r.ttl.Connection, connectionID); err != nil {
		return nil, err
	}
	if err := r.store.SetAdd(ctx, store.ConnectedUsersKey, r.ttl.Connection, userID); err != nil {
		return nil, err
	}
	return conn, nil
}

// SaveConnection rewrites the connection record, refreshing its TTL.
func (r *Registry) SaveConnection(ctx context.Context, conn *model.Connection) error {
	conn.LastActiveAt = time.Now()
	raw, err := json.Marshal(conn)
	if err != nil {
		return errors.Wrap(err, "presence: marshal connection")
	}
	return r.store.SetValue(ctx, store.ConnectionKey(conn.ConnectionID), string(raw), r.ttl.Connection)
}

// GetConnection loads one connection record. Expired records surface as
// store.ErrNotFound.
func (r *Registry) GetConnection(ctx context.Context, connectionID string) (*model.Connection, error) {
	raw, err := r.store.GetValue(ctx, store.ConnectionKey(connectionID))
	if err != nil {
		return nil, err
	}
	conn := &model.Connection{}
	if err := json.Unmarshal([]byte(raw), conn); err != nil {
		return nil, errors.Wrap(err, "presence: unmarshal connection")
	}
	return conn, nil
}

// UserConnections returns every live connection record of a user, pruning
// ids whose records expired.
func (r *Registry) UserConnections(ctx context.Context, userID string) ([]*model.Connection, error) {
	ids, err := r.store.SetMembers(ctx, store.UserConnectionsKey(userID))
	if err != nil {
		return nil, err
	}
	conns := make([]*model.Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := r.GetConnection(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Left behind by a crashed process; clean it up as we go.
			_ = r.store.SetRemove(ctx, store.UserConnectionsKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// DeregisterConnection tears down one connection's presence state. It is
// idempotent: a disconnect arriving after TTL expiry already cleared the
// state is a no-op.
func (r *Registry) DeregisterConnection(ctx context.Context, conn *model.Connection) error {
	if err := r.store.Delete(ctx, store.ConnectionKey(conn.ConnectionID)); err != nil {
		return err
	}
	if err := r.store.SetRemove(ctx, store.UserConnectionsKey(conn.UserID), conn.ConnectionID); err != nil {
		return err
	}

	remaining, err := r.UserConnections(ctx, conn.UserID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := r.store.SetRemove(ctx, store.ConnectedUsersKey, conn.UserID); err != nil {
			return err
		}
	}

	if conn.WorkspaceID == "" {
		return nil
	}
	// Status is workspace-scoped: a sibling connection in another workspace
	// must not keep this workspace's status alive.
	for _, sibling := range remaining {
		if sibling.WorkspaceID == conn.WorkspaceID {
			return nil
		}
	}
	return r.RemoveWorkspaceStatus(ctx, conn.WorkspaceID, conn.UserID)
}

// SetStatus moves the user into the target status bucket and out of every
// other bucket in one pipeline, so the four sets stay pairwise disjoint.
func (r *Registry) SetStatus(ctx context.Context, userID, workspaceID string, status model.UserStatus, customMessage string) (*model.PresenceStatus, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	ps := &model.PresenceStatus{
		UserID:        userID,
		Status:        status,
		CustomMessage: customMessage,
		LastActiveAt:  time.Now(),
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return nil, errors.Wrap(err, "presence: marshal status")
	}

	if err := r.store.SetValue(ctx, store.UserStatusKey(workspaceID, userID), string(raw), r.ttl.Status); err != nil {
		return nil, err
	}
	if err := r.store.SetValue(ctx, store.LastSeenKey(workspaceID, userID),
		strconv.FormatInt(time.Now().UnixMilli(), 10), r.ttl.LastSeen); err != nil {
		return nil, err
	}

	target := store.StatusSetKey(workspaceID, status)
	others := make([]string, 0, 3)
	for _, s := range model.Statuses {
		if s != status {
			others = append(others, store.StatusSetKey(workspaceID, s))
		}
	}
	if err := r.store.MoveBetweenSets(ctx, userID, target, r.ttl.Status, others...); err != nil {
		return nil, err
	}

	r.log.Debug("status updated",
		zap.String("user", userID),
		zap.String("workspace", workspaceID),
		zap.String("status", string(status)))
	return ps, nil
}

// RemoveWorkspaceStatus clears every workspace-scoped presence entry for the
// user. Absence implies OFFLINE.
func (r *Registry) RemoveWorkspaceStatus(ctx context.Context, workspaceID, userID string) error {
	if err := r.store.Delete(ctx,
		store.UserStatusKey(workspaceID, userID),
		store.LastSeenKey(workspaceID, userID)); err != nil {
		return err
	}
	for _, s := range model.Statuses {
		if err := r.store.SetRemove(ctx, store.StatusSetKey(workspaceID, s), userID); err != nil {
			return err
		}
	}
	return nil
}

// BulkStatus reads all four status buckets once and merges them, so a client
// joining a workspace renders presence without N lookups.
func (r *Registry) BulkStatus(ctx context.Context, workspaceID string) (map[string]model.UserStatus, error) {
	keys := make([]string, len(model.Statuses))
	for i, s := range model.Statuses {
		keys[i] = store.StatusSetKey(workspaceID, s)
	}
	sets, err := r.store.SetsMembers(ctx, keys...)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]model.UserStatus)
	for i, s := range model.Statuses {
		for _, userID := range sets[i] {
			statuses[userID] = s
		}
	}
	return statuses, nil
}

// SetTyping records or clears a typing marker. Entries self-expire, so the
// clear half only improves timeliness.
func (r *Registry) SetTyping(ctx context.Context, room model.RoomRef, userID string, isTyping bool) error {
	key := store.TypingKey(room)
	if isTyping {
		return r.store.SetAdd(ctx, key, r.ttl.Typing, userID)
	}
	return r.store.SetRemove(ctx, key, userID)
}

// TypingUsers lists users currently typing in a room.
func (r *Registry) TypingUsers(ctx context.Context, room model.RoomRef) ([]string, error) {
	return r.store.SetMembers(ctx, store.TypingKey(room))
}
