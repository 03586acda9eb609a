package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/delivery"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
)

// Inbound events a client may send over its socket.
const (
	evJoinWorkspace = "joinWorkspace"
	evJoinRoom      = "joinRoom"
	evLeaveRoom     = "leaveRoom"
	evTyping        = "typing"
	evUpdateStatus  = "updateStatus"
	evMarkAsRead    = "markAsRead"
)

// Outbound events the gateway emits beyond the delivery events.
const (
	evConnected           = "connected"
	evWorkspaceJoined     = "workspaceJoined"
	evUserJoinedWorkspace = "userJoinedWorkspace"
	evRoomJoined          = "roomJoined"
	evRoomLeft            = "roomLeft"
	evUserStatusChanged   = "userStatusChanged"
	evUserStartTyping     = "userStartTyping"
	evUserStopTyping      = "userStopTyping"
	evError               = "error"
)

// Frame is the socket wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

type roomPayload struct {
	RoomType model.RoomType `json:"room_type"`
	RoomID   string         `json:"room_id"`
}

func (p roomPayload) ref() model.RoomRef {
	return model.RoomRef{Type: p.RoomType, ID: p.RoomID}
}

// dispatch routes one inbound frame. Handler errors stay private to the
// sending socket; nothing about a failed request reaches other clients.
func (g *Gateway) dispatch(ctx context.Context, client *Client, frame *Frame) {
	var err error
	switch frame.Event {
	case evJoinWorkspace:
		err = g.handleJoinWorkspace(ctx, client, frame.Data)
	case evJoinRoom:
		err = g.handleJoinRoom(ctx, client, frame.Data)
	case evLeaveRoom:
		err = g.handleLeaveRoom(ctx, client, frame.Data)
	case evTyping:
		err = g.handleTyping(ctx, client, frame.Data)
	case evUpdateStatus:
		err = g.handleUpdateStatus(ctx, client, frame.Data)
	case evMarkAsRead:
		err = g.handleMarkAsRead(ctx, client, frame.Data)
	default:
		err = errors.Errorf("unknown event %q", frame.Event)
	}
	if err != nil {
		g.log.Warn("event failed",
			zap.String("event", frame.Event),
			zap.String("user", client.record.UserID),
			zap.Error(err))
		client.sendEvent(evError, map[string]string{
			"event":  frame.Event,
			"reason": err.Error(),
		})
	}
}

func (g *Gateway) handleJoinWorkspace(ctx context.Context, client *Client, data json.RawMessage) error {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode joinWorkspace")
	}

	// A socket switching workspaces must stop hearing the old rooms; the
	// shared sets are cleaned by JoinWorkspace, the local maps are ours.
	if prev := client.record.WorkspaceID; prev != "" && prev != req.WorkspaceID {
		for _, room := range client.record.Rooms() {
			g.untrackRoom(client, room)
		}
	}

	results, err := g.rooms.JoinWorkspace(ctx, client.record, req.WorkspaceID)
	if err != nil {
		return err
	}

	ws := model.Workspace(req.WorkspaceID)
	if err := g.trackRoom(ctx, client, ws); err != nil {
		return err
	}
	joined := make([]string, 0, len(results))
	failed := make([]string, 0)
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Room.Key())
			continue
		}
		joined = append(joined, res.Room.Key())
		if err := g.trackRoom(ctx, client, res.Room); err != nil {
			return err
		}
	}

	if _, err := g.registry.SetStatus(ctx, client.record.UserID, req.WorkspaceID, model.StatusOnline, ""); err != nil {
		return err
	}

	presence, err := g.registry.BulkStatus(ctx, req.WorkspaceID)
	if err != nil {
		return err
	}
	client.sendEvent(evWorkspaceJoined, map[string]interface{}{
		"workspace_id": req.WorkspaceID,
		"joined":       joined,
		"failed":       failed,
		"presence":     presence,
	})

	return g.BroadcastToRoom(ctx, ws, evUserJoinedWorkspace, map[string]interface{}{
		"workspace_id": req.WorkspaceID,
		"user_id":      client.record.UserID,
		"status":       model.StatusOnline,
		"timestamp":    time.Now().UnixMilli(),
	}, client.record.UserID)
}

func (g *Gateway) handleJoinRoom(ctx context.Context, client *Client, data json.RawMessage) error {
	var req roomPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode joinRoom")
	}
	room := req.ref()
	if err := room.Validate(); err != nil {
		return err
	}

	ok, err := g.dir.IsMember(ctx, room, client.record.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return rooms.ErrNotAMember
	}

	count, err := g.rooms.JoinRoom(ctx, client.record, room)
	if err != nil {
		return err
	}
	if err := g.trackRoom(ctx, client, room); err != nil {
		return err
	}

	return g.BroadcastToRoom(ctx, room, evRoomJoined, map[string]interface{}{
		"room":         room,
		"user_id":      client.record.UserID,
		"member_count": count,
		"timestamp":    time.Now().UnixMilli(),
	}, client.record.UserID)
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, client *Client, data json.RawMessage) error {
	var req roomPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode leaveRoom")
	}
	room := req.ref()
	if err := room.Validate(); err != nil {
		return err
	}
	// Leaving a room this socket never joined is a no-op; nothing reaches
	// the room's members.
	if !client.record.InRoom(room) {
		return nil
	}
	if err := g.rooms.LeaveRoom(ctx, client.record, room); err != nil {
		return err
	}
	g.untrackRoom(client, room)

	return g.BroadcastToRoom(ctx, room, evRoomLeft, map[string]interface{}{
		"room":      room,
		"user_id":   client.record.UserID,
		"timestamp": time.Now().UnixMilli(),
	}, client.record.UserID)
}

func (g *Gateway) handleTyping(ctx context.Context, client *Client, data json.RawMessage) error {
	var req struct {
		roomPayload
		IsTyping bool `json:"is_typing"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode typing")
	}
	room := req.ref()
	if !client.record.InRoom(room) {
		return rooms.ErrNotAMember
	}
	if err := g.registry.SetTyping(ctx, room, client.record.UserID, req.IsTyping); err != nil {
		return err
	}

	event := evUserStartTyping
	if !req.IsTyping {
		event = evUserStopTyping
	}
	return g.BroadcastToRoom(ctx, room, event, map[string]interface{}{
		"room":      room,
		"user_id":   client.record.UserID,
		"timestamp": time.Now().UnixMilli(),
	}, client.record.UserID)
}

func (g *Gateway) handleUpdateStatus(ctx context.Context, client *Client, data json.RawMessage) error {
	var req struct {
		Status        model.UserStatus `json:"status"`
		CustomMessage string           `json:"custom_message"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode updateStatus")
	}
	workspaceID := client.record.WorkspaceID
	if workspaceID == "" {
		return errors.New("no workspace joined")
	}

	ps, err := g.registry.SetStatus(ctx, client.record.UserID, workspaceID, req.Status, req.CustomMessage)
	if err != nil {
		return err
	}

	return g.BroadcastToRoom(ctx, model.Workspace(workspaceID), evUserStatusChanged, map[string]interface{}{
		"workspace_id": workspaceID,
		"user_id":      client.record.UserID,
		"status":       ps.Status,
		"message":      ps.CustomMessage,
		"timestamp":    time.Now().UnixMilli(),
	}, "")
}

func (g *Gateway) handleMarkAsRead(ctx context.Context, client *Client, data json.RawMessage) error {
	var req roomPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "decode markAsRead")
	}
	return g.orch.MarkRead(ctx, client.record.UserID, req.ref())
}

// sendEvent marshals a payload and queues it on this socket only.
func (c *Client) sendEvent(event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := encodeFrame(event, raw)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

var _ delivery.Broadcaster = (*Gateway)(nil)
