// Package bus carries events between processes. It is append-only broadcast:
// at-most-once per subscriber process, no cross-room ordering, and every
// subscriber drops envelopes its own process published (the local half of
// delivery already happened at publish time).
package bus

import (
	"context"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Global channels every gateway subscribes to at process start.
const (
	GlobalNotifications = "global:notifications"
	SystemBroadcasts    = "system:broadcasts"
	ServerHeartbeat     = "server:heartbeat"
)

func GlobalChannels() []string {
	return []string{GlobalNotifications, SystemBroadcasts, ServerHeartbeat}
}

// RoomChannel is the pub/sub channel for a room's broadcasts.
func RoomChannel(room model.RoomRef) string {
	return room.Key()
}

// UserChannel is the pub/sub channel for direct-to-user delivery.
func UserChannel(userID string) string {
	return "user:" + userID + ":notification"
}

// Handler receives envelopes published by other processes. Self-originated
// envelopes are filtered out before the handler runs.
type Handler func(env *Envelope)

type Bus interface {
	// Publish stamps the envelope with this process's server id and writes
	// it to the named channel.
	Publish(ctx context.Context, channel string, env *Envelope) error
	// Subscribe registers a handler for a channel. Subscribing to a channel
	// this process already subscribes to is a no-op, so a handler never runs
	// twice for one envelope.
	Subscribe(ctx context.Context, channel string, handler Handler) error
	ServerID() string
	Close() error
}
