// Package client is the application side of the control channel: it joins
// rooms, tracks the streams other users publish and drives the negotiation
// coordinator for local and remote media.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/negotiation"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisconnected  = errors.New("control channel disconnected")
	ErrClosed        = errors.New("client closed")
	ErrNotJoined     = errors.New("not joined to a room")
	ErrNoCoordinator = errors.New("client has no negotiation coordinator")
	ErrStreamGone    = errors.New("remote stream no longer published")
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Second
)

type Options struct {
	// URL of the control channel, e.g. ws://host:8080/api/ws/signal.
	URL    string
	Dialer *websocket.Dialer
	Header http.Header

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Coordinator *negotiation.Coordinator
}

// JoinResult is the outcome of a successful join. Streams are already
// registered as remote streams.
type JoinResult struct {
	Room       domain.RoomName
	User       domain.UserID
	Credential string
	AppID      string
	Streams    []*RemoteStream
}

type identity struct {
	room       domain.RoomName
	user       domain.UserID
	credential string
	appID      string
}

type reply struct {
	env  protocol.Envelope
	join *JoinResult
	err  error
}

type call struct {
	typ  string
	join *protocol.JoinRequest
	ch   chan reply
}

type Client struct {
	opts    Options
	coord   *negotiation.Coordinator
	events  *bus
	remotes *remoteRegistry
	locals  *localRegistry

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	nextID  uint64
	pending map[uint64]*call
	id      identity
	stop    chan struct{}
	done    chan struct{}

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	return &Client{
		opts:    opts,
		coord:   opts.Coordinator,
		events:  newBus(),
		remotes: newRemoteRegistry(),
		locals:  newLocalRegistry(),
		pending: make(map[uint64]*call),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Listen subscribes to client events. Events are delivered in order; when
// the buffer is full the event is dropped for this listener. cancel closes
// the channel.
func (c *Client) Listen(buffer int) (<-chan Event, func()) {
	return c.events.listen(buffer)
}

// Connect dials the control channel. After the first successful dial the
// client reconnects on its own until Close or Leave.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		_ = conn.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.started = true
	c.conn = conn
	c.mu.Unlock()

	log.Debug().Str("module", "client").Str("url", c.opts.URL).Msg("connected")
	c.events.emit(Event{Kind: EventConnected})
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	d := c.opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, c.opts.URL, c.opts.Header)
	return conn, err
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.readLoop(conn)
		c.disconnected(conn)
		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.events.emit(Event{Kind: EventConnected})
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("read loop done")
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if env.Type == protocol.TypeAck {
			c.resolve(env)
			continue
		}
		c.handleNotification(env)
	}
}

// disconnected fails every pending request. The server forgot the
// connection, so the client is no longer joined either.
func (c *Client) disconnected(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[uint64]*call)
	c.id = identity{}
	closed := c.closed
	c.mu.Unlock()
	_ = conn.Close()

	err := ErrDisconnected
	if closed {
		err = ErrClosed
	}
	for _, cl := range pending {
		cl.ch <- reply{err: err}
	}
	if !closed {
		log.Warn().Str("module", "client").Int("pending", len(pending)).Msg("control channel lost")
		c.events.emit(Event{Kind: EventDisconnected})
	}
}

func (c *Client) reconnect() *websocket.Conn {
	backoff := c.opts.InitialBackoff
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-c.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			c.conn = conn
			c.mu.Unlock()
			log.Info().Str("module", "client").Str("url", c.opts.URL).Msg("reconnected")
			return conn
		}

		log.Debug().Err(err).Str("module", "client").Dur("backoff", backoff).Msg("reconnect failed")
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// Leave drops the control channel. The server cleans up the room and
// publish state of this connection.
func (c *Client) Leave(room, user string) error {
	log.Debug().Str("module", "client").Str("room", room).Str("user", user).Msg("leave")
	return c.Close()
}

// Close stops reconnecting, closes the control channel and releases the
// local transports of subscriptions. Calling it again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
	for _, rs := range c.remotes.drain() {
		if err := rs.stop(); err != nil {
			log.Debug().Err(err).Str("module", "client").Str("user", string(rs.User)).Msg("stop remote stream")
		}
	}
	c.events.closeAll()
	return nil
}

// Remote returns the registered remote stream of user.
func (c *Client) Remote(user domain.UserID) (*RemoteStream, bool) {
	return c.remotes.get(user)
}

func (c *Client) identity() identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Local returns the published local stream with id stream.
func (c *Client) Local(stream domain.StreamID) (*LocalStream, bool) {
	return c.locals.get(stream)
}
