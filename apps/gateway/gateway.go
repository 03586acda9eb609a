package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/bus"
	"github.com/mahaj/workspace-realtime/pkg/delivery"
	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
)

const heartbeatInterval = 30 * time.Second

// Gateway owns this process's live sockets and bridges them to the fan-out
// bus. All state is instance-scoped; several gateways coexist in one cluster
// and nothing here is shared except through the store and the bus.
type Gateway struct {
	bus      bus.Bus
	registry *presence.Registry
	rooms    *rooms.Manager
	dir      directory.Directory
	orch     *delivery.Orchestrator
	log      *zap.Logger

	mu          sync.RWMutex
	roomClients map[string]map[*Client]bool
	userClients map[string]map[*Client]bool
}

func NewGateway(b bus.Bus, reg *presence.Registry, mgr *rooms.Manager, dir directory.Directory) *Gateway {
	return &Gateway{
		bus:         b,
		registry:    reg,
		rooms:       mgr,
		dir:         dir,
		log:         logger.Named("gateway"),
		roomClients: make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
	}
}

// Start subscribes the global channels and begins the heartbeat. Room and
// user channels are subscribed lazily as clients need them.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.bus.Subscribe(ctx, bus.GlobalNotifications, g.handleEnvelope); err != nil {
		return err
	}
	if err := g.bus.Subscribe(ctx, bus.SystemBroadcasts, g.handleEnvelope); err != nil {
		return err
	}
	if err := g.bus.Subscribe(ctx, bus.ServerHeartbeat, g.handleHeartbeat); err != nil {
		return err
	}
	go g.heartbeatLoop(ctx)
	return nil
}

func (g *Gateway) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, err := bus.NewEnvelope("heartbeat", map[string]interface{}{
				"server_id":   g.bus.ServerID(),
				"connections": g.connectionCount(),
				"timestamp":   time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := g.bus.Publish(ctx, bus.ServerHeartbeat, env); err != nil {
				g.log.Warn("publishing heartbeat", zap.Error(err))
			}
		}
	}
}

func (g *Gateway) connectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, clients := range g.userClients {
		n += len(clients)
	}
	return n
}

// register tracks a freshly upgraded socket and lazily subscribes the user's
// direct-delivery channel.
func (g *Gateway) register(ctx context.Context, client *Client) error {
	userID := client.record.UserID
	g.mu.Lock()
	if g.userClients[userID] == nil {
		g.userClients[userID] = make(map[*Client]bool)
	}
	g.userClients[userID][client] = true
	g.mu.Unlock()

	return g.bus.Subscribe(ctx, bus.UserChannel(userID), g.handleEnvelope)
}

// unregister drops the socket from the local maps. Store-side cleanup is the
// caller's job; this only touches instance state.
func (g *Gateway) unregister(client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, room := range client.record.Rooms() {
		g.removeFromRoomLocked(client, room)
	}
	userID := client.record.UserID
	if clients, ok := g.userClients[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(g.userClients, userID)
		}
	}
	client.closeSend()
}

// trackRoom adds the client to the local room map and makes sure this process
// receives the room's bus traffic. Subscribing is idempotent, so a room that
// several local clients join is still consumed once.
func (g *Gateway) trackRoom(ctx context.Context, client *Client, room model.RoomRef) error {
	key := room.Key()
	g.mu.Lock()
	if g.roomClients[key] == nil {
		g.roomClients[key] = make(map[*Client]bool)
	}
	g.roomClients[key][client] = true
	g.mu.Unlock()

	return g.bus.Subscribe(ctx, bus.RoomChannel(room), g.handleEnvelope)
}

func (g *Gateway) untrackRoom(client *Client, room model.RoomRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeFromRoomLocked(client, room)
}

func (g *Gateway) removeFromRoomLocked(client *Client, room model.RoomRef) {
	key := room.Key()
	if clients, ok := g.roomClients[key]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(g.roomClients, key)
		}
	}
}

// handleEnvelope delivers bus traffic to local sockets. The bus already
// filtered self-originated envelopes, so everything arriving here is the
// remote half of delivery.
func (g *Gateway) handleEnvelope(env *bus.Envelope) {
	if len(env.TargetUserIDs) > 0 {
		g.emitToUsers(env.TargetUserIDs, env.Event, env.Payload)
		return
	}
	if room, ok := env.Room(); ok {
		g.emitToRoom(room, env.Event, env.Payload, env.ExcludeUserID)
		return
	}
	g.emitToAll(env.Event, env.Payload)
}

func (g *Gateway) handleHeartbeat(env *bus.Envelope) {
	g.log.Debug("peer heartbeat", zap.String("origin", env.OriginServerID))
}

// BroadcastToRoom emits to local sockets in the room, then publishes so every
// other gateway does the same for its own sockets.
func (g *Gateway) BroadcastToRoom(ctx context.Context, room model.RoomRef, event string, payload interface{}, excludeUserID string) error {
	env, err := bus.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	g.emitToRoom(room, event, env.Payload, excludeUserID)

	env.RoomType = room.Type
	env.RoomID = room.ID
	env.ExcludeUserID = excludeUserID
	return g.bus.Publish(ctx, bus.RoomChannel(room), env)
}

// SendToUsers emits to each user's local sockets and publishes per user for
// their sockets on other gateways.
func (g *Gateway) SendToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error {
	for _, userID := range userIDs {
		env, err := bus.NewEnvelope(event, payload)
		if err != nil {
			return err
		}
		g.emitToUsers([]string{userID}, event, env.Payload)

		env.TargetUserIDs = []string{userID}
		if err := g.bus.Publish(ctx, bus.UserChannel(userID), env); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) emitToRoom(room model.RoomRef, event string, data json.RawMessage, excludeUserID string) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for client := range g.roomClients[room.Key()] {
		if excludeUserID != "" && client.record.UserID == excludeUserID {
			continue
		}
		g.push(client, frame)
	}
}

func (g *Gateway) emitToUsers(userIDs []string, event string, data json.RawMessage) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, userID := range userIDs {
		for client := range g.userClients[userID] {
			g.push(client, frame)
		}
	}
}

func (g *Gateway) emitToAll(event string, data json.RawMessage) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, clients := range g.userClients {
		for client := range clients {
			g.push(client, frame)
		}
	}
}

// push is best-effort: a client whose send buffer is full is considered dead
// and will be torn down by its own pumps.
func (g *Gateway) push(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		g.log.Warn("send buffer full, dropping frame",
			zap.String("user", client.record.UserID),
			zap.String("connection", client.record.ConnectionID))
	}
}
