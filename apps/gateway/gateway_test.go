package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/workspace-realtime/pkg/bus"
	"github.com/mahaj/workspace-realtime/pkg/delivery"
	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/jobs"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

// node is one simulated gateway process sharing the store and broker with its
// peers.
type node struct {
	gw *Gateway
}

type cluster struct {
	mem    *store.Memory
	broker *bus.MemoryBroker
	dir    *directory.Memory
	reg    *presence.Registry
	mgr    *rooms.Manager
}

func newCluster() *cluster {
	mem := store.NewMemory()
	reg := presence.NewRegistry(mem, store.DefaultTTLs())
	dir := directory.NewMemory()
	return &cluster{
		mem:    mem,
		broker: bus.NewMemoryBroker(),
		dir:    dir,
		reg:    reg,
		mgr:    rooms.NewManager(mem, reg, dir, store.DefaultTTLs()),
	}
}

func (c *cluster) node(t *testing.T, serverID string) *node {
	t.Helper()
	gw := NewGateway(c.broker.Bus(serverID), c.reg, c.mgr, c.dir)
	gw.orch = delivery.NewOrchestrator(c.mem, c.mgr, c.dir, jobs.NewMemoryQueue(), gw, store.DefaultTTLs(), 100)
	require.NoError(t, gw.Start(context.Background()))
	return &node{gw: gw}
}

// connect attaches a socketless client so emissions land on its send buffer.
func (n *node) connect(t *testing.T, userID, connID string) *Client {
	t.Helper()
	ctx := context.Background()
	record, err := n.gw.registry.RegisterConnection(ctx, userID, connID)
	require.NoError(t, err)
	client := &Client{gateway: n.gw, send: make(chan []byte, 64), record: record}
	require.NoError(t, n.gw.register(ctx, client))
	return client
}

func (n *node) join(t *testing.T, client *Client, room model.RoomRef) {
	t.Helper()
	ctx := context.Background()
	_, err := n.gw.rooms.JoinRoom(ctx, client.record, room)
	require.NoError(t, err)
	require.NoError(t, n.gw.trackRoom(ctx, client, room))
}

func drainFrames(c *Client) []Frame {
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

func countEvent(frames []Frame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func TestRoomBroadcastReachesEveryTabExactlyOnce(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")
	room := model.Channel("42")

	aliceTab1 := gwA.connect(t, "alice", "c1")
	aliceTab2 := gwB.connect(t, "alice", "c2")
	bob := gwB.connect(t, "bob", "c3")
	gwA.join(t, aliceTab1, room)
	gwB.join(t, aliceTab2, room)
	gwB.join(t, bob, room)

	msg := &model.Message{ID: 1, Content: "hi", SenderID: "alice", Room: room, Type: model.TypeUser}
	results := gwA.gw.orch.MessageCreated(context.Background(), "w1", msg)
	for _, res := range results {
		require.NoError(t, res.Err)
	}

	assert.Equal(t, 1, countEvent(drainFrames(bob), delivery.EventNewMessage))
	assert.Equal(t, 1, countEvent(drainFrames(aliceTab1), delivery.EventNewMessage),
		"sender tab gets the publish-time local emission only")
	assert.Equal(t, 1, countEvent(drainFrames(aliceTab2), delivery.EventNewMessage),
		"remote tab gets the bus replay only")
}

func TestDuplicateSubscribeDeliversOnce(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")
	room := model.Channel("42")

	bob := gwA.connect(t, "bob", "c1")
	// Two local clients in the same room mean trackRoom subscribed twice.
	carol := gwA.connect(t, "carol", "c2")
	gwA.join(t, bob, room)
	gwA.join(t, carol, room)

	require.NoError(t, gwB.gw.BroadcastToRoom(context.Background(), room, "ping", map[string]string{"n": "1"}, ""))

	assert.Equal(t, 1, countEvent(drainFrames(bob), "ping"))
	assert.Equal(t, 1, countEvent(drainFrames(carol), "ping"))
}

func TestExcludedUserReceivesNothing(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")
	room := model.Channel("42")

	alice := gwA.connect(t, "alice", "c1")
	aliceRemote := gwB.connect(t, "alice", "c2")
	bob := gwB.connect(t, "bob", "c3")
	gwA.join(t, alice, room)
	gwB.join(t, aliceRemote, room)
	gwB.join(t, bob, room)

	require.NoError(t, gwA.gw.BroadcastToRoom(context.Background(), room, evUserStartTyping,
		map[string]string{"user_id": "alice"}, "alice"))

	assert.Zero(t, countEvent(drainFrames(alice), evUserStartTyping))
	assert.Zero(t, countEvent(drainFrames(aliceRemote), evUserStartTyping), "exclusion holds across gateways")
	assert.Equal(t, 1, countEvent(drainFrames(bob), evUserStartTyping))
}

func TestSendToUsersCrossesGateways(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")

	carolHere := gwA.connect(t, "carol", "c1")
	carolThere := gwB.connect(t, "carol", "c2")
	bob := gwB.connect(t, "bob", "c3")

	require.NoError(t, gwA.gw.SendToUsers(context.Background(), []string{"carol"},
		delivery.EventWorkspaceNotice, map[string]string{"preview": "hey"}))

	assert.Equal(t, 1, countEvent(drainFrames(carolHere), delivery.EventWorkspaceNotice))
	assert.Equal(t, 1, countEvent(drainFrames(carolThere), delivery.EventWorkspaceNotice))
	assert.Zero(t, countEvent(drainFrames(bob), delivery.EventWorkspaceNotice))
}

func TestJoinRoomDeniedStaysPrivate(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	room := model.Channel("42")

	member := gwA.connect(t, "bob", "c1")
	c.dir.AddMember(room, "w1", "bob")
	gwA.join(t, member, room)

	intruder := gwA.connect(t, "mallory", "c2")
	payload, _ := json.Marshal(roomPayload{RoomType: model.RoomChannel, RoomID: "42"})
	gwA.gw.dispatch(context.Background(), intruder, &Frame{Event: evJoinRoom, Data: payload})

	frames := drainFrames(intruder)
	assert.Equal(t, 1, countEvent(frames, evError))
	assert.Zero(t, countEvent(drainFrames(member), evRoomJoined), "denial never broadcast")

	members, err := c.mgr.Members(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestWorkspaceSwitchStopsOldRoomDelivery(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")
	oldRoom := model.Channel("c-old")

	c.dir.AddMember(model.Workspace("w1"), "w1", "alice")
	c.dir.AddMember(oldRoom, "w1", "alice")
	c.dir.AddMember(model.Workspace("w2"), "w2", "alice")

	alice := gwA.connect(t, "alice", "c1")
	payload, _ := json.Marshal(map[string]string{"workspace_id": "w1"})
	gwA.gw.dispatch(context.Background(), alice, &Frame{Event: evJoinWorkspace, Data: payload})
	require.Equal(t, 1, countEvent(drainFrames(alice), evWorkspaceJoined))

	payload, _ = json.Marshal(map[string]string{"workspace_id": "w2"})
	gwA.gw.dispatch(context.Background(), alice, &Frame{Event: evJoinWorkspace, Data: payload})
	frames := drainFrames(alice)
	require.Equal(t, 1, countEvent(frames, evWorkspaceJoined))
	require.Zero(t, countEvent(frames, evError))

	members, err := c.mgr.Members(context.Background(), oldRoom)
	require.NoError(t, err)
	assert.Empty(t, members, "switching workspaces leaves its rooms")

	require.NoError(t, gwB.gw.BroadcastToRoom(context.Background(), oldRoom, delivery.EventNewMessage,
		map[string]string{"content": "stale"}, ""))
	assert.Zero(t, countEvent(drainFrames(alice), delivery.EventNewMessage),
		"socket must stop hearing rooms of the previous workspace")
}

func TestLeaveRoomNotJoinedStaysSilent(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	room := model.Channel("42")

	member := gwA.connect(t, "bob", "c1")
	gwA.join(t, member, room)

	outsider := gwA.connect(t, "mallory", "c2")
	payload, _ := json.Marshal(roomPayload{RoomType: model.RoomChannel, RoomID: "42"})
	gwA.gw.dispatch(context.Background(), outsider, &Frame{Event: evLeaveRoom, Data: payload})

	assert.Zero(t, countEvent(drainFrames(member), evRoomLeft), "no-op leave never broadcast")
	assert.Zero(t, countEvent(drainFrames(outsider), evError))

	members, err := c.mgr.Members(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestSystemBroadcastReachesAllClients(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")
	gwB := c.node(t, "gw-b")

	alice := gwA.connect(t, "alice", "c1")
	bob := gwB.connect(t, "bob", "c2")

	env, err := bus.NewEnvelope("maintenance", map[string]string{"at": "02:00"})
	require.NoError(t, err)
	// Published from a third process, e.g. an admin tool.
	admin := c.broker.Bus("admin")
	require.NoError(t, admin.Publish(context.Background(), bus.SystemBroadcasts, env))

	assert.Equal(t, 1, countEvent(drainFrames(alice), "maintenance"))
	assert.Equal(t, 1, countEvent(drainFrames(bob), "maintenance"))
}

func TestTypingEventRequiresRoomMembership(t *testing.T) {
	c := newCluster()
	gwA := c.node(t, "gw-a")

	client := gwA.connect(t, "alice", "c1")
	payload, _ := json.Marshal(map[string]interface{}{
		"room_type": model.RoomChannel, "room_id": "42", "is_typing": true,
	})
	gwA.gw.dispatch(context.Background(), client, &Frame{Event: evTyping, Data: payload})

	frames := drainFrames(client)
	assert.Equal(t, 1, countEvent(frames, evError))

	typing, err := c.reg.TypingUsers(context.Background(), model.Channel("42"))
	require.NoError(t, err)
	assert.Empty(t, typing)
}
