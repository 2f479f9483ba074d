package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// request sends one request and waits for its ack. There is no timeout
// besides ctx.
func (c *Client) request(ctx context.Context, typ string, payload any, join *protocol.JoinRequest) (reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return reply{}, ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return reply{}, ErrDisconnected
	}
	c.nextID++
	id := c.nextID
	frame, err := protocol.Encode(id, typ, payload)
	if err != nil {
		c.mu.Unlock()
		return reply{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	cl := &call{typ: typ, join: join, ch: make(chan reply, 1)}
	c.pending[id] = cl
	c.mu.Unlock()

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return reply{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case r := <-cl.ch:
		return r, r.err
	case <-ctx.Done():
		c.forget(id)
		return reply{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// simpleRequest sends a request whose ack carries only a code.
func (c *Client) simpleRequest(ctx context.Context, typ string, payload any) error {
	r, err := c.request(ctx, typ, payload, nil)
	if err != nil {
		return err
	}
	var ack protocol.Ack
	if err := json.Unmarshal(r.env.Data, &ack); err != nil {
		return fmt.Errorf("decode %s ack: %w", typ, err)
	}
	return ack.Err()
}

// Ping round-trips an application-level ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.simpleRequest(ctx, protocol.TypePing, struct{}{})
}

// Join joins room as user. The snapshot streams are registered and, after
// the result was handed over, announced as stream-published events to the
// listeners registered so far.
func (c *Client) Join(ctx context.Context, room, user string) (*JoinResult, error) {
	if _, err := domain.ParseRoomName(room); err != nil {
		return nil, err
	}
	if _, err := domain.ParseUserID(user); err != nil {
		return nil, err
	}
	req := &protocol.JoinRequest{Room: room, User: user}
	r, err := c.request(ctx, protocol.TypeJoin, req, req)
	if err != nil {
		return nil, err
	}
	return r.join, nil
}

func (c *Client) resolve(env protocol.Envelope) {
	c.mu.Lock()
	cl, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "client").Uint64("id", env.ID).Msg("ack without pending request")
		return
	}
	if cl.typ != protocol.TypeJoin {
		cl.ch <- reply{env: env}
		return
	}

	res, events, err := c.completeJoin(cl.join, env)
	cl.ch <- reply{env: env, join: res, err: err}
	for _, ev := range events {
		c.events.emit(ev)
	}
}

func (c *Client) completeJoin(req *protocol.JoinRequest, env protocol.Envelope) (*JoinResult, []Event, error) {
	var ack protocol.JoinAck
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		return nil, nil, fmt.Errorf("decode join ack: %w", err)
	}
	if err := ack.Err(); err != nil {
		return nil, nil, err
	}

	room := domain.RoomName(req.Room)
	user := domain.UserID(req.User)
	c.mu.Lock()
	prev := c.id.room
	c.id = identity{room: room, user: user, credential: ack.Credential, appID: ack.AppID}
	c.mu.Unlock()
	if prev != "" && prev != room {
		c.dropRemotes()
	}

	res := &JoinResult{
		Room:       room,
		User:       user,
		Credential: ack.Credential,
		AppID:      ack.AppID,
		Streams:    make([]*RemoteStream, 0, len(ack.Streams)),
	}
	events := make([]Event, 0, len(ack.Streams))
	for _, sd := range ack.Streams {
		rs := &RemoteStream{User: sd.User, Room: room, Stream: sd.Stream}
		c.register(rs)
		res.Streams = append(res.Streams, rs)
		events = append(events, Event{Kind: EventStreamPublished, User: sd.User, Room: room, Stream: sd.Stream, Remote: rs})
	}
	log.Debug().Str("module", "client").Str("room", string(room)).Str("user", string(user)).Int("streams", len(res.Streams)).Msg("joined")
	return res, events, nil
}

// dropRemotes forgets the streams of a room the client moved away from.
func (c *Client) dropRemotes() {
	for _, rs := range c.remotes.drain() {
		if err := rs.stop(); err != nil {
			log.Debug().Err(err).Str("module", "client").Str("user", string(rs.User)).Msg("stop remote stream")
		}
	}
}
