package app

import (
	"testing"

	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func bind(r *Registry, sid core.SessionID) {
	r.BindSignal(sid, core.NewMemberSession(sid, nopSignal{}), func() {})
}

func TestRegistryPublishLifecycle(t *testing.T) {
	r := NewRegistry()
	bind(r, "s1")
	require.True(t, r.SetIdentity("s1", "r1", "alice"))

	state, ok := r.State("s1")
	require.True(t, ok)
	assert.True(t, state.Joined())
	assert.False(t, state.Published)

	require.True(t, r.SetPublished("s1", "cam1"))
	require.True(t, r.SetPublished("s1", "cam2"))
	assert.Equal(t, []domain.StreamDescriptor{{User: "alice", Stream: "cam2", Room: "r1"}}, r.Published([]core.SessionID{"s1"}))

	stream, changed := r.ClearPublished("s1")
	assert.True(t, changed)
	assert.Equal(t, domain.StreamID("cam2"), stream)

	_, changed = r.ClearPublished("s1")
	assert.False(t, changed)
	assert.Empty(t, r.Published([]core.SessionID{"s1"}))
}

func TestRegistryPublishedIsSortedAndFiltered(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"carol", "alice", "bob"} {
		sid := core.SessionID("s-" + u)
		bind(r, sid)
		r.SetIdentity(sid, "r1", domain.UserID(u))
	}
	r.SetPublished("s-carol", "c")
	r.SetPublished("s-alice", "a")

	got := r.Published([]core.SessionID{"s-carol", "s-alice", "s-bob", "missing"})
	require.Len(t, got, 2)
	assert.Equal(t, domain.UserID("alice"), got[0].User)
	assert.Equal(t, domain.UserID("carol"), got[1].User)
}

func TestRegistryRemoveRoomAndUnbind(t *testing.T) {
	r := NewRegistry()
	bind(r, "s1")
	r.SetIdentity("s1", "r1", "alice")
	r.SetPublished("s1", "cam1")

	prev, ok := r.RemoveRoom("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("r1"), prev.Room)
	assert.True(t, prev.Published)

	state, _ := r.State("s1")
	assert.Empty(t, state.Room)
	assert.False(t, state.Published)

	_, ok = r.Unbind("s1")
	assert.True(t, ok)
	assert.Zero(t, r.Count())
	assert.False(t, r.Cancel("s1"))
}

func TestRoomManagerStopsOnlyEmptyRooms(t *testing.T) {
	m := NewRoomManager()
	room := m.GetOrCreate("r1")
	assert.Same(t, room, m.GetOrCreate("r1"))

	room.AddMember(core.NewMemberSession("s1", nopSignal{}))
	m.StopRoom("r1")
	_, ok := m.Get("r1")
	assert.True(t, ok)

	room.RemoveMember("s1")
	m.StopRoom("r1")
	_, ok = m.Get("r1")
	assert.False(t, ok)
}
