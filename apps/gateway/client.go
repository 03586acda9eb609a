package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/auth"
	"github.com/mahaj/workspace-realtime/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client pairs one websocket with its connection record. The record is the
// socket's authoritative room list; the gateway's maps only mirror it for
// local routing.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	record  *model.Connection

	closeOnce sync.Once
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump decodes inbound frames and dispatches them until the socket dies,
// then runs the disconnect teardown exactly once.
func (c *Client) readPump(ctx context.Context) {
	defer c.teardown(ctx)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.log.Warn("socket read", zap.Error(err))
			}
			return
		}
		frame := &Frame{}
		if err := json.Unmarshal(raw, frame); err != nil {
			c.sendEvent(evError, map[string]string{"reason": "malformed frame"})
			continue
		}
		c.gateway.dispatch(ctx, c, frame)
	}
}

// teardown is the clean half of disconnect handling. If the process crashes
// before it runs, the store's TTLs converge to the same end state.
func (c *Client) teardown(ctx context.Context) {
	c.conn.Close()
	c.gateway.rooms.CleanupConnection(ctx, c.record)
	if err := c.gateway.registry.DeregisterConnection(ctx, c.record); err != nil {
		c.gateway.log.Warn("deregistering connection",
			zap.String("connection", c.record.ConnectionID), zap.Error(err))
	}
	c.gateway.unregister(c)
	c.gateway.log.Info("client disconnected",
		zap.String("user", c.record.UserID),
		zap.String("connection", c.record.ConnectionID))
}

// writePump drains the send buffer onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWS authenticates the upgrade request, registers the connection in the
// store and starts the pumps.
func (g *Gateway) serveWS(authManager *auth.Manager, w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browser websocket clients cannot set headers on the upgrade.
		header = r.URL.Query().Get("token")
	}
	if header == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := authManager.ValidateToken(auth.BearerToken(header))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	ctx := r.Context()
	record, err := g.registry.RegisterConnection(ctx, claims.UserID, uuid.NewString())
	if err != nil {
		g.log.Error("registering connection", zap.Error(err))
		conn.Close()
		return
	}

	client := &Client{gateway: g, conn: conn, send: make(chan []byte, 256), record: record}
	if err := g.register(ctx, client); err != nil {
		g.log.Error("subscribing user channel", zap.Error(err))
		conn.Close()
		return
	}

	client.sendEvent(evConnected, map[string]interface{}{
		"connection_id": record.ConnectionID,
		"user_id":       record.UserID,
		"server_id":     g.bus.ServerID(),
		"timestamp":     time.Now().UnixMilli(),
	})
	g.log.Info("client connected",
		zap.String("user", record.UserID),
		zap.String("connection", record.ConnectionID))

	go client.writePump()
	go client.readPump(context.Background())
}
