package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

func newRegistry() (*Registry, *store.Memory) {
	mem := store.NewMemory()
	return NewRegistry(mem, store.DefaultTTLs()), mem
}

func TestRegisterAndDeregister(t *testing.T) {
	r, _ := newRegistry()
	ctx := context.Background()

	conn, err := r.RegisterConnection(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, conn.Status)

	loaded, err := r.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", loaded.UserID)

	require.NoError(t, r.DeregisterConnection(ctx, conn))
	_, err = r.GetConnection(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Second disconnect after state is already gone is a no-op.
	require.NoError(t, r.DeregisterConnection(ctx, conn))
}

func TestStatusBucketsStayDisjoint(t *testing.T) {
	r, mem := newRegistry()
	ctx := context.Background()

	_, err := r.SetStatus(ctx, "u1", "w1", model.StatusOnline, "")
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, "u1", "w1", model.StatusAway, "stepped out")
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, "u1", "w1", model.StatusDoNotDisturb, "")
	require.NoError(t, err)

	occupied := 0
	for _, s := range model.Statuses {
		members, err := mem.SetMembers(ctx, store.StatusSetKey("w1", s))
		require.NoError(t, err)
		if len(members) > 0 {
			occupied++
			assert.Equal(t, model.StatusDoNotDisturb, s)
		}
	}
	assert.Equal(t, 1, occupied, "user must sit in exactly one bucket")
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	r, _ := newRegistry()
	_, err := r.SetStatus(context.Background(), "u1", "w1", model.UserStatus("NAPPING"), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestBulkStatusMergesBuckets(t *testing.T) {
	r, _ := newRegistry()
	ctx := context.Background()

	_, err := r.SetStatus(ctx, "u1", "w1", model.StatusOnline, "")
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, "u2", "w1", model.StatusAway, "")
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, "u3", "w2", model.StatusOnline, "")
	require.NoError(t, err)

	statuses, err := r.BulkStatus(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.UserStatus{
		"u1": model.StatusOnline,
		"u2": model.StatusAway,
	}, statuses)
}

func TestMultiSessionDeregisterKeepsStatus(t *testing.T) {
	r, mem := newRegistry()
	ctx := context.Background()

	first, err := r.RegisterConnection(ctx, "u1", "c1")
	require.NoError(t, err)
	second, err := r.RegisterConnection(ctx, "u1", "c2")
	require.NoError(t, err)

	first.WorkspaceID = "w1"
	second.WorkspaceID = "w1"
	require.NoError(t, r.SaveConnection(ctx, first))
	require.NoError(t, r.SaveConnection(ctx, second))
	_, err = r.SetStatus(ctx, "u1", "w1", model.StatusOnline, "")
	require.NoError(t, err)

	// One tab closes; the other keeps the user present.
	require.NoError(t, r.DeregisterConnection(ctx, first))
	online, err := mem.SetMembers(ctx, store.StatusSetKey("w1", model.StatusOnline))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)

	// Last connection gone: workspace presence clears entirely.
	require.NoError(t, r.DeregisterConnection(ctx, second))
	online, err = mem.SetMembers(ctx, store.StatusSetKey("w1", model.StatusOnline))
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestDeregisterClearsStatusPerWorkspace(t *testing.T) {
	r, mem := newRegistry()
	ctx := context.Background()

	first, err := r.RegisterConnection(ctx, "u1", "c1")
	require.NoError(t, err)
	second, err := r.RegisterConnection(ctx, "u1", "c2")
	require.NoError(t, err)

	first.WorkspaceID = "w1"
	second.WorkspaceID = "w2"
	require.NoError(t, r.SaveConnection(ctx, first))
	require.NoError(t, r.SaveConnection(ctx, second))
	_, err = r.SetStatus(ctx, "u1", "w1", model.StatusOnline, "")
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, "u1", "w2", model.StatusOnline, "")
	require.NoError(t, err)

	// Last connection in w1 closes; the w2 session must not keep the user
	// present in w1.
	require.NoError(t, r.DeregisterConnection(ctx, first))

	w1Online, err := mem.SetMembers(ctx, store.StatusSetKey("w1", model.StatusOnline))
	require.NoError(t, err)
	assert.Empty(t, w1Online)

	w2Online, err := mem.SetMembers(ctx, store.StatusSetKey("w2", model.StatusOnline))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, w2Online)

	connected, err := mem.SetMembers(ctx, store.ConnectedUsersKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, connected, "still connected through w2")
}

func TestTypingExpiresByTTL(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	r := NewRegistry(mem, store.DefaultTTLs())
	ctx := context.Background()
	room := model.Channel("42")

	require.NoError(t, r.SetTyping(ctx, room, "u1", true))
	typing, err := r.TypingUsers(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, typing)

	// Crash case: no stop-typing ever arrives; the TTL is the signal.
	now = now.Add(11 * time.Second)
	typing, err = r.TypingUsers(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestConnectionRecordExpiresByTTL(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	r := NewRegistry(mem, store.DefaultTTLs())
	ctx := context.Background()

	_, err := r.RegisterConnection(ctx, "u1", "c1")
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	conns, err := r.UserConnections(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, conns)
}
