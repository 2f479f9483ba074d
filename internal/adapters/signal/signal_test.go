package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticIssuer string

func (s staticIssuer) Issue(string) (string, error) { return string(s), nil }

func newTestServer(t *testing.T, limiter *RequestRateLimiter) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry:    app.NewRegistry(),
		Rooms:       app.NewRoomManager(),
		Policy:      app.SimplePolicy{},
		Credentials: staticIssuer("T1"),
		AppID:       "app-1",
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctl := NewSignalWSController(o, DefaultLimits(), limiter)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func request(t *testing.T, ws *websocket.Conn, id uint64, typ string, v any) {
	t.Helper()
	b, err := protocol.Encode(id, typ, v)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func next(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func ackOf(t *testing.T, env protocol.Envelope) protocol.Ack {
	t.Helper()
	require.Equal(t, protocol.TypeAck, env.Type)
	var a protocol.Ack
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return a
}

func TestMalformedRequestKeepsConnection(t *testing.T) {
	ws := dial(t, newTestServer(t, nil))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := next(t, ws)
	assert.Equal(t, protocol.TypeError, env.Type)

	request(t, ws, 1, protocol.TypeJoin, map[string]string{"user": "alice"})
	env = next(t, ws)
	assert.Equal(t, uint64(1), env.ID)
	assert.Equal(t, protocol.CodeBadRequest, ackOf(t, env).Code)

	request(t, ws, 2, protocol.TypePing, struct{}{})
	env = next(t, ws)
	assert.Equal(t, uint64(2), env.ID)
	assert.Equal(t, protocol.CodeOK, ackOf(t, env).Code)
}

func TestPublishBeforeJoinIsRejected(t *testing.T) {
	ws := dial(t, newTestServer(t, nil))

	request(t, ws, 7, protocol.TypePublish, protocol.StreamRequest{Room: "r1", User: "alice", Stream: "cam1"})
	env := next(t, ws)
	assert.Equal(t, uint64(7), env.ID)
	assert.Equal(t, protocol.CodeNotJoined, ackOf(t, env).Code)
}

func TestJoinPublishFlow(t *testing.T) {
	url := newTestServer(t, nil)
	alice := dial(t, url)
	bob := dial(t, url)

	request(t, alice, 1, protocol.TypeJoin, protocol.JoinRequest{Room: "r1", User: "alice"})
	var join protocol.JoinAck
	env := next(t, alice)
	require.NoError(t, json.Unmarshal(env.Data, &join))
	assert.Equal(t, protocol.CodeOK, join.Code)
	assert.Equal(t, "T1", join.Credential)
	assert.Equal(t, "app-1", join.AppID)
	assert.Empty(t, join.Streams)

	request(t, alice, 2, protocol.TypePublish, protocol.StreamRequest{Room: "r1", User: "alice", Stream: "cam1"})
	assert.Equal(t, protocol.CodeOK, ackOf(t, next(t, alice)).Code)

	request(t, bob, 1, protocol.TypeJoin, protocol.JoinRequest{Room: "r1", User: "bob"})
	env = next(t, bob)
	require.NoError(t, json.Unmarshal(env.Data, &join))
	require.Len(t, join.Streams, 1)
	assert.Equal(t, "alice", string(join.Streams[0].User))
	assert.Equal(t, "cam1", string(join.Streams[0].Stream))

	env = next(t, alice)
	assert.Equal(t, protocol.TypeUserJoined, env.Type)
	assert.Zero(t, env.ID)

	require.NoError(t, alice.Close())
	env = next(t, bob)
	assert.Equal(t, protocol.TypeUserLeft, env.Type)
	var left protocol.UserEvent
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "alice", string(left.User))
}

func TestRateLimitedRequest(t *testing.T) {
	ws := dial(t, newTestServer(t, NewRequestRateLimiter(1, time.Minute)))

	request(t, ws, 1, protocol.TypePing, struct{}{})
	assert.Equal(t, protocol.CodeOK, ackOf(t, next(t, ws)).Code)

	request(t, ws, 2, protocol.TypePing, struct{}{})
	assert.Equal(t, protocol.CodeRateLimited, ackOf(t, next(t, ws)).Code)
}
