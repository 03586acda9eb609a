package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

type fixture struct {
	mem      *store.Memory
	registry *presence.Registry
	dir      *directory.Memory
	manager  *Manager
}

func newFixture() *fixture {
	mem := store.NewMemory()
	reg := presence.NewRegistry(mem, store.DefaultTTLs())
	dir := directory.NewMemory()
	return &fixture{
		mem:      mem,
		registry: reg,
		dir:      dir,
		manager:  NewManager(mem, reg, dir, store.DefaultTTLs()),
	}
}

func (f *fixture) connect(t *testing.T, userID, connID string) *model.Connection {
	t.Helper()
	conn, err := f.registry.RegisterConnection(context.Background(), userID, connID)
	require.NoError(t, err)
	return conn
}

func TestJoinRoomIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conn := f.connect(t, "u1", "c1")
	room := model.Channel("42")

	count, err := f.manager.JoinRoom(ctx, conn, room)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = f.manager.JoinRoom(ctx, conn, room)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	members, err := f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)
}

func TestLeaveRoomUnknownIsNoop(t *testing.T) {
	f := newFixture()
	conn := f.connect(t, "u1", "c1")
	require.NoError(t, f.manager.LeaveRoom(context.Background(), conn, model.Channel("nope")))
}

func TestJoinRoomRejectsInvalidRoom(t *testing.T) {
	f := newFixture()
	conn := f.connect(t, "u1", "c1")
	_, err := f.manager.JoinRoom(context.Background(), conn, model.RoomRef{Type: "lobby", ID: "1"})
	assert.ErrorIs(t, err, model.ErrInvalidRoom)
}

func TestTwoConnectionsOneMembership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := model.Channel("42")

	tab1 := f.connect(t, "u1", "c1")
	tab2 := f.connect(t, "u1", "c2")

	_, err := f.manager.JoinRoom(ctx, tab1, room)
	require.NoError(t, err)
	_, err = f.manager.JoinRoom(ctx, tab2, room)
	require.NoError(t, err)

	members, err := f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members, "sets carry no multiplicity")

	// First tab leaves; the second still holds the room, so membership stays.
	require.NoError(t, f.manager.LeaveRoom(ctx, tab1, room))
	members, err = f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	// Last connection leaves; now the membership goes away.
	require.NoError(t, f.manager.LeaveRoom(ctx, tab2, room))
	members, err = f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestJoinWorkspaceJoinsAllUserRooms(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conn := f.connect(t, "u1", "c1")

	f.dir.AddMember(model.Workspace("w1"), "w1", "u1")
	f.dir.AddMember(model.Channel("general"), "w1", "u1")
	f.dir.AddMember(model.Channel("random"), "w1", "u1")
	f.dir.AddMember(model.DM("dm-9"), "w1", "u1")

	results, err := f.manager.JoinWorkspace(ctx, conn, "w1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}

	assert.Equal(t, "w1", conn.WorkspaceID)
	assert.ElementsMatch(t, []string{"general", "random"}, conn.Channels)
	assert.Equal(t, []string{"dm-9"}, conn.DMs)

	members, err := f.manager.Members(ctx, model.Workspace("w1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)
}

func TestJoinWorkspaceDeniedForNonMember(t *testing.T) {
	f := newFixture()
	conn := f.connect(t, "u1", "c1")

	_, err := f.manager.JoinWorkspace(context.Background(), conn, "w1")
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Empty(t, conn.WorkspaceID)
}

func TestLeaveWorkspaceClearsRoomsAndStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conn := f.connect(t, "u1", "c1")

	f.dir.AddMember(model.Workspace("w1"), "w1", "u1")
	f.dir.AddMember(model.Channel("general"), "w1", "u1")
	_, err := f.manager.JoinWorkspace(ctx, conn, "w1")
	require.NoError(t, err)
	_, err = f.registry.SetStatus(ctx, "u1", "w1", model.StatusOnline, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.LeaveWorkspace(ctx, conn))

	members, err := f.manager.Members(ctx, model.Channel("general"))
	require.NoError(t, err)
	assert.Empty(t, members)

	statuses, err := f.registry.BulkStatus(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestCleanupConnectionIsConnectionAware(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := model.Channel("42")

	tab1 := f.connect(t, "u1", "c1")
	tab2 := f.connect(t, "u1", "c2")
	_, err := f.manager.JoinRoom(ctx, tab1, room)
	require.NoError(t, err)
	_, err = f.manager.JoinRoom(ctx, tab2, room)
	require.NoError(t, err)
	require.NoError(t, f.registry.SetTyping(ctx, room, "u1", true))

	// tab1 drops; tab2 keeps the membership alive.
	f.manager.CleanupConnection(ctx, tab1)
	require.NoError(t, f.registry.DeregisterConnection(ctx, tab1))

	members, err := f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	typing, err := f.registry.TypingUsers(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, typing, "typing markers cleared on disconnect")

	f.manager.CleanupConnection(ctx, tab2)
	require.NoError(t, f.registry.DeregisterConnection(ctx, tab2))
	members, err = f.manager.Members(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCrashedConnectionExpiresFromRooms(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	reg := presence.NewRegistry(mem, store.DefaultTTLs())
	dir := directory.NewMemory()
	mgr := NewManager(mem, reg, dir, store.DefaultTTLs())
	ctx := context.Background()

	conn, err := reg.RegisterConnection(ctx, "u1", "c1")
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, conn, model.Channel("42"))
	require.NoError(t, err)

	// No clean disconnect ever arrives; the TTL window clears everything.
	now = now.Add(25 * time.Hour)
	members, err := mgr.Members(ctx, model.Channel("42"))
	require.NoError(t, err)
	assert.Empty(t, members)

	conns, err := reg.UserConnections(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, conns)
}
