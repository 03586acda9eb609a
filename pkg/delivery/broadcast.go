package delivery

import (
	"context"

	"github.com/mahaj/workspace-realtime/pkg/bus"
	"github.com/mahaj/workspace-realtime/pkg/model"
)

// Broadcaster abstracts where an event leaves the process. A gateway emits to
// its local sockets and publishes to the bus; a socketless process publishes
// only, and every gateway delivers on receipt.
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, room model.RoomRef, event string, payload interface{}, excludeUserID string) error
	SendToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error
}

// PublishBroadcaster is the socketless implementation: everything goes out on
// the bus and remote subscribers do the socket work.
type PublishBroadcaster struct {
	bus bus.Bus
}

func NewPublishBroadcaster(b bus.Bus) *PublishBroadcaster {
	return &PublishBroadcaster{bus: b}
}

func (p *PublishBroadcaster) BroadcastToRoom(ctx context.Context, room model.RoomRef, event string, payload interface{}, excludeUserID string) error {
	env, err := bus.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	env.RoomType = room.Type
	env.RoomID = room.ID
	env.ExcludeUserID = excludeUserID
	return p.bus.Publish(ctx, bus.RoomChannel(room), env)
}

func (p *PublishBroadcaster) SendToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error {
	for _, userID := range userIDs {
		env, err := bus.NewEnvelope(event, payload)
		if err != nil {
			return err
		}
		env.TargetUserIDs = []string{userID}
		if err := p.bus.Publish(ctx, bus.UserChannel(userID), env); err != nil {
			return err
		}
	}
	return nil
}
