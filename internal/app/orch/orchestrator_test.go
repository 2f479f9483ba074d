package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("queue full")
	}
	var env protocol.Envelope
	if err := json.Unmarshal(fr, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, e := range f.frames {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakeSignal) last(t *testing.T, v any) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	e := f.frames[len(f.frames)-1]
	require.NoError(t, json.Unmarshal(e.Data, v))
	return e.Type
}

type recordingFeed struct {
	mu     sync.Mutex
	events []app.RoomEvent
}

func (r *recordingFeed) Publish(_ context.Context, ev app.RoomEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

type staticIssuer string

func (s staticIssuer) Issue(string) (string, error) { return string(s), nil }

type failingIssuer struct{}

func (failingIssuer) Issue(string) (string, error) { return "", errors.New("signing key unavailable") }

func newTestOrch() (*Orchestrator, *recordingFeed) {
	feed := &recordingFeed{}
	return &Orchestrator{
		Registry:    app.NewRegistry(),
		Rooms:       app.NewRoomManager(),
		Policy:      app.SimplePolicy{},
		Credentials: staticIssuer("T1"),
		AppID:       "app-1",
		Feed:        feed,
	}, feed
}

func connect(o *Orchestrator, sid core.SessionID) *fakeSignal {
	sig := &fakeSignal{}
	o.Registry.BindSignal(sid, core.NewMemberSession(sid, sig), func() {})
	return sig
}

func TestJoinReturnsSnapshotAndNotifiesOthers(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	alice := connect(o, "s-alice")
	bob := connect(o, "s-bob")

	res, err := o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Credential)
	assert.Equal(t, "app-1", res.AppID)
	assert.Empty(t, res.Streams)

	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	res, err = o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	require.Len(t, res.Streams, 1)
	assert.Equal(t, domain.UserID("alice"), res.Streams[0].User)
	assert.Equal(t, domain.StreamID("cam1"), res.Streams[0].Stream)

	var ev protocol.UserEvent
	assert.Equal(t, protocol.TypeUserJoined, alice.last(t, &ev))
	assert.Equal(t, domain.UserID("bob"), ev.User)
	assert.Equal(t, domain.RoomName("r1"), ev.Room)
	assert.Empty(t, bob.types(), "joiner gets no notification about itself")
}

func TestPublishBroadcastsToOthersOnly(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	alice := connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)

	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	var ev protocol.StreamEvent
	assert.Equal(t, protocol.TypeStreamPublished, bob.last(t, &ev))
	assert.Equal(t, domain.StreamID("cam1"), ev.Stream)
	assert.NotContains(t, alice.types(), protocol.TypeStreamPublished)
}

func TestPublishRequiresJoin(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s1")

	err := o.Publish(ctx, "s1", "r1", "alice", "cam1")
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = o.Join(ctx, "s1", "r1", "alice")
	require.NoError(t, err)
	err = o.Publish(ctx, "s1", "r1", "mallory", "cam1")
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	assert.ErrorIs(t, o.Publish(ctx, "nope", "r1", "alice", "cam1"), ErrUnknownSession)
}

func TestUnpublishIsIdempotent(t *testing.T) {
	o, feed := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	require.NoError(t, o.Unpublish(ctx, "s-alice", "r1", "alice", "cam1"))
	require.NoError(t, o.Unpublish(ctx, "s-alice", "r1", "alice", "cam1"))

	count := 0
	for _, typ := range bob.types() {
		if typ == protocol.TypeStreamUnpublished {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Empty(t, o.Snapshot("r1"))

	feed.mu.Lock()
	defer feed.mu.Unlock()
	unpublished := 0
	for _, ev := range feed.events {
		if ev.Type == protocol.TypeStreamUnpublished {
			unpublished++
		}
	}
	assert.Equal(t, 1, unpublished)
}

func TestUnpublishOtherStreamClearsFlag(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	require.NoError(t, o.Unpublish(ctx, "s-alice", "r1", "alice", "cam2"))
	assert.Empty(t, o.Snapshot("r1"))

	var ev protocol.StreamEvent
	require.Equal(t, protocol.TypeStreamUnpublished, bob.last(t, &ev))
	assert.Equal(t, domain.UserID("alice"), ev.User)
	assert.Equal(t, domain.StreamID("cam1"), ev.Stream)
}

func TestDisconnectSendsUserLeftOnly(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	o.OnDisconnect("s-alice")

	var ev protocol.UserEvent
	assert.Equal(t, protocol.TypeUserLeft, bob.last(t, &ev))
	assert.Equal(t, domain.UserID("alice"), ev.User)
	assert.NotContains(t, bob.types(), protocol.TypeStreamUnpublished)
	assert.Empty(t, o.Snapshot("r1"))

	_, ok := o.Registry.State("s-alice")
	assert.False(t, ok)
}

func TestUnpublishThenDisconnectTwice(t *testing.T) {
	o, feed := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	require.NoError(t, o.Unpublish(ctx, "s-alice", "r1", "alice", "cam1"))
	require.NotPanics(t, func() {
		o.OnDisconnect("s-alice")
		o.OnDisconnect("s-alice")
	})

	counts := map[string]int{}
	for _, typ := range bob.types() {
		counts[typ]++
	}
	assert.Equal(t, 1, counts[protocol.TypeStreamUnpublished])
	assert.Equal(t, 1, counts[protocol.TypeUserLeft])

	feed.mu.Lock()
	left := 0
	for _, ev := range feed.events {
		if ev.Type == protocol.TypeUserLeft {
			left++
		}
	}
	feed.mu.Unlock()
	assert.Equal(t, 1, left)

	_, ok := o.Registry.State("s-alice")
	assert.False(t, ok)
	assert.Empty(t, o.Snapshot("r1"))
}

func TestFailedCredentialKeepsPreviousRoom(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	o.Credentials = failingIssuer{}
	_, err = o.Join(ctx, "s-alice", "r2", "alice")
	require.Error(t, err)

	state, ok := o.Registry.State("s-alice")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("r1"), state.Room)
	assert.True(t, state.Published)
	assert.NotContains(t, bob.types(), protocol.TypeUserLeft)
	assert.Len(t, o.Snapshot("r1"), 1)
	_, ok = o.Rooms.Get("r2")
	assert.False(t, ok)
}

func TestLastMemberLeavingDropsRoom(t *testing.T) {
	o, _ := newTestOrch()
	connect(o, "s1")
	_, err := o.Join(context.Background(), "s1", "r1", "alice")
	require.NoError(t, err)
	require.Len(t, o.Rooms.List(), 1)

	o.OnDisconnect("s1")
	assert.Empty(t, o.Rooms.List())
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)
	_, err = o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s-alice", "r1", "alice", "cam1"))

	_, err = o.Join(ctx, "s-alice", "r2", "alice")
	require.NoError(t, err)

	var ev protocol.UserEvent
	assert.Equal(t, protocol.TypeUserLeft, bob.last(t, &ev))
	assert.Equal(t, domain.RoomName("r1"), ev.Room)
	assert.Empty(t, o.Snapshot("r1"))

	state, ok := o.Registry.State("s-alice")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("r2"), state.Room)
	assert.False(t, state.Published)
}

func TestSlowMemberIsKicked(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	connect(o, "s-alice")
	bob := connect(o, "s-bob")
	_, err := o.Join(ctx, "s-bob", "r1", "bob")
	require.NoError(t, err)

	bob.mu.Lock()
	bob.full = true
	bob.mu.Unlock()

	_, err = o.Join(ctx, "s-alice", "r1", "alice")
	require.NoError(t, err)

	bob.mu.Lock()
	defer bob.mu.Unlock()
	assert.True(t, bob.closed)
}

func TestConcurrentJoinSeesEveryStreamOnce(t *testing.T) {
	o, _ := newTestOrch()
	ctx := context.Background()
	const publishers = 16

	for i := 0; i < publishers; i++ {
		sid := core.SessionID("pub-" + string(rune('a'+i)))
		connect(o, sid)
		_, err := o.Join(ctx, sid, "r1", domain.UserID(sid))
		require.NoError(t, err)
	}
	joiner := connect(o, "joiner")

	var wg sync.WaitGroup
	var snapshot []domain.StreamDescriptor
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := o.Join(ctx, "joiner", "r1", "joiner")
		if err == nil {
			snapshot = res.Streams
		}
	}()
	for i := 0; i < publishers; i++ {
		sid := core.SessionID("pub-" + string(rune('a'+i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Publish(ctx, sid, "r1", domain.UserID(sid), "cam")
		}()
	}
	wg.Wait()

	seen := map[domain.UserID]int{}
	for _, s := range snapshot {
		seen[s.User]++
	}
	joiner.mu.Lock()
	for _, e := range joiner.frames {
		if e.Type != protocol.TypeStreamPublished {
			continue
		}
		var ev protocol.StreamEvent
		require.NoError(t, json.Unmarshal(e.Data, &ev))
		seen[ev.User]++
	}
	joiner.mu.Unlock()

	assert.Len(t, seen, publishers)
	for user, n := range seen {
		assert.Equal(t, 1, n, "user %s", user)
	}
}
