package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryValueTTL(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetValue(ctx, "k", "v", time.Minute))

	val, err := m.GetValue(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	now = now.Add(2 * time.Minute)
	_, err = m.GetValue(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetTTLRefreshedOnWrite(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetAdd(ctx, "s", time.Minute, "a"))

	// A write 30s later pushes the deadline out another minute.
	now = now.Add(30 * time.Second)
	require.NoError(t, m.SetAdd(ctx, "s", time.Minute, "b"))

	now = now.Add(45 * time.Second)
	members, err := m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	now = now.Add(time.Minute)
	members, err = m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryMoveBetweenSets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetAdd(ctx, "away", time.Hour, "u1"))
	require.NoError(t, m.MoveBetweenSets(ctx, "u1", "online", time.Hour, "away", "offline", "dnd"))

	online, err := m.SetMembers(ctx, "online")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)

	away, err := m.SetMembers(ctx, "away")
	require.NoError(t, err)
	assert.Empty(t, away)
}

func TestMemoryHashIncr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, err := m.HashIncr(ctx, "unread", "room-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.HashIncr(ctx, "unread", "room-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := m.HashGetAll(ctx, "unread")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"room-1": "2"}, all)

	require.NoError(t, m.HashDelete(ctx, "unread", "room-1"))
	all, err = m.HashGetAll(ctx, "unread")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryListPrependTrims(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, m.ListPrepend(ctx, "recent", v, 3, time.Hour))
	}

	vals, err := m.ListRange(ctx, "recent", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3", "2"}, vals)
}

func TestMemorySetsMembers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetAdd(ctx, "a", time.Hour, "x"))
	require.NoError(t, m.SetAdd(ctx, "b", time.Hour, "y", "z"))

	out, err := m.SetsMembers(ctx, "a", "b", "missing")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"x"}, out[0])
	assert.ElementsMatch(t, []string{"y", "z"}, out[1])
	assert.Empty(t, out[2])
}
