package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/wtn/internal/adapters/signal"
	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/config"
	"github.com/dkeye/wtn/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func newRouter(t *testing.T) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	ctl := signal.NewSignalWSController(o, signal.DefaultLimits(), nil)
	return SetupRouter(context.Background(), cfg, o, ctl), o
}

func TestHealthSetsClientCookie(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "wtn=")
}

func TestRoomStreams(t *testing.T) {
	r, o := newRouter(t)
	ctx := context.Background()
	o.Registry.BindSignal("s1", core.NewMemberSession("s1", nopSignal{}), func() {})
	_, err := o.Join(ctx, "s1", "r1", "alice")
	require.NoError(t, err)
	require.NoError(t, o.Publish(ctx, "s1", "r1", "alice", "cam1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/streams", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StreamsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Streams, 1)
	assert.Equal(t, "alice", string(resp.Streams[0].User))
	assert.Equal(t, "cam1", string(resp.Streams[0].Stream))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rooms struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, 1, rooms.Rooms[0].MemberCount)
}

func TestRoomStreamsUnknownRoomIsEmpty(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/nobody/streams", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"room":"nobody","streams":[]}`, w.Body.String())
}
