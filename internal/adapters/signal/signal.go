package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Limits tunes the WebSocket side of a control channel.
type Limits struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func DefaultLimits() Limits {
	return Limits{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendBuffer: 32,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limits  Limits
	Limiter *RequestRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, limits Limits, limiter *RequestRateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limits:  limits.withDefaults(),
		Limiter: limiter,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ReadLimit <= 0 {
		l.ReadLimit = d.ReadLimit
	}
	if l.PingPeriod <= 0 {
		l.PingPeriod = d.PingPeriod
	}
	if l.PongWait <= l.PingPeriod {
		l.PongWait = l.PingPeriod * 10 / 9
	}
	if l.WriteWait <= 0 {
		l.WriteWait = d.WriteWait
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = d.SendBuffer
	}
	return l
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the peer
// goes away or ctx is canceled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Limits.SendBuffer),
	}

	sess := core.NewMemberSession(sid, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
