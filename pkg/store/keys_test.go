package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

func TestKeySchema(t *testing.T) {
	assert.Equal(t, "ws:conn:c1", ConnectionKey("c1"))
	assert.Equal(t, "ws:user:u1:conns", UserConnectionsKey("u1"))
	assert.Equal(t, "ws:channel:42:users", RoomUsersKey(model.Channel("42")))
	assert.Equal(t, "ws:dm:7:users", RoomUsersKey(model.DM("7")))
	assert.Equal(t, "ws:workspace:w1:users", RoomUsersKey(model.Workspace("w1")))
	assert.Equal(t, "ws:workspace:w1:status:online", StatusSetKey("w1", model.StatusOnline))
	assert.Equal(t, "ws:workspace:w1:status:dnd", StatusSetKey("w1", model.StatusDoNotDisturb))
	assert.Equal(t, "status:w1:u1", UserStatusKey("w1", "u1"))
	assert.Equal(t, "typing:channel:42", TypingKey(model.Channel("42")))
	assert.Equal(t, "message:99", MessageKey(99))
	assert.Equal(t, "messages:recent:dm:7", RecentMessagesKey(model.DM("7")))
	assert.Equal(t, "unread:channels:u1", UnreadKey("u1", model.RoomChannel))
	assert.Equal(t, "unread:dms:u1", UnreadKey("u1", model.RoomDM))
}

func TestStatusSetsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range model.Statuses {
		key := StatusSetKey("w1", s)
		assert.False(t, seen[key], "duplicate bucket key %s", key)
		seen[key] = true
	}
}
