package client

import (
	"context"
	"errors"

	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/gateway"
	"github.com/dkeye/wtn/internal/negotiation"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CreateLocalStream wraps captured tracks for publishing under stream.
func (c *Client) CreateLocalStream(stream string, tracks ...webrtc.TrackLocal) (*LocalStream, error) {
	id, err := domain.ParseStreamID(stream)
	if err != nil {
		return nil, err
	}
	return &LocalStream{Stream: id, Tracks: tracks}, nil
}

func (c *Client) gatewayParams() (identity, gateway.Params, error) {
	id := c.identity()
	if id.room == "" {
		return id, gateway.Params{}, ErrNotJoined
	}
	return id, gateway.Params{
		AppID:      id.appID,
		UserID:     string(id.user),
		Credential: id.credential,
	}, nil
}

// Publish negotiates ls with the gateway and only then announces it to the
// room.
func (c *Client) Publish(ctx context.Context, ls *LocalStream) error {
	if c.coord == nil {
		return ErrNoCoordinator
	}
	id, params, err := c.gatewayParams()
	if err != nil {
		return err
	}
	req := protocol.StreamRequest{Room: string(id.room), User: string(id.user), Stream: string(ls.Stream)}
	s, err := c.coord.Publish(ctx, string(ls.Stream), params, ls.Tracks, func(ctx context.Context) error {
		return c.simpleRequest(ctx, protocol.TypePublish, req)
	})
	if err != nil {
		return err
	}

	ls.mu.Lock()
	ls.session = s
	ls.room = id.room
	ls.user = id.user
	ls.mu.Unlock()
	c.locals.put(ls)
	return nil
}

// Unpublish tears the session down and then tells the room. The signaling
// request is sent even when the gateway DELETE failed; both errors are
// returned.
func (c *Client) Unpublish(ctx context.Context, ls *LocalStream) error {
	if c.coord == nil {
		return ErrNoCoordinator
	}
	ls.mu.Lock()
	s, room, user := ls.session, ls.room, ls.user
	ls.mu.Unlock()
	if s == nil {
		return &negotiation.PreconditionError{Op: "unpublish", State: negotiation.StateIdle}
	}

	tdErr := c.coord.Teardown(ctx, s)
	var pe *negotiation.PreconditionError
	if errors.As(tdErr, &pe) {
		return tdErr
	}

	req := protocol.StreamRequest{Room: string(room), User: string(user), Stream: string(ls.Stream)}
	sigErr := c.simpleRequest(ctx, protocol.TypeUnpublish, req)
	c.locals.remove(ls.Stream)
	return errors.Join(tdErr, sigErr)
}

// Subscribe negotiates a receive-only session for rs. Inbound tracks show
// up on rs.Media(). When rs was stopped or unregistered while the pipeline
// ran, the new session is torn down and ErrStreamGone is returned.
func (c *Client) Subscribe(ctx context.Context, rs *RemoteStream) error {
	if c.coord == nil {
		return ErrNoCoordinator
	}
	_, params, err := c.gatewayParams()
	if err != nil {
		return err
	}

	rs.mu.Lock()
	switch {
	case rs.stopped:
		rs.mu.Unlock()
		return ErrStreamGone
	case rs.subscribing:
		rs.mu.Unlock()
		return &negotiation.PreconditionError{Op: "subscribe", State: negotiation.StateOfferSent}
	case rs.session != nil:
		if st := rs.session.State(); st != negotiation.StateClosed {
			rs.mu.Unlock()
			return &negotiation.PreconditionError{Op: "subscribe", State: st}
		}
	}
	rs.subscribing = true
	rs.mu.Unlock()

	media := newMediaStream()
	s, err := c.coord.Subscribe(ctx, string(rs.Stream), params, media.addTrack)

	cur, registered := c.remotes.get(rs.User)
	rs.mu.Lock()
	rs.subscribing = false
	if err != nil {
		rs.mu.Unlock()
		return err
	}
	if rs.stopped || !registered || cur != rs {
		rs.mu.Unlock()
		log.Debug().Str("module", "client").Str("user", string(rs.User)).Str("stream", string(rs.Stream)).Msg("remote stream gone during subscribe")
		return errors.Join(ErrStreamGone, c.coord.Teardown(ctx, s))
	}
	rs.session = s
	rs.media = media
	rs.mu.Unlock()
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, rs *RemoteStream) error {
	if c.coord == nil {
		return ErrNoCoordinator
	}
	s := rs.Session()
	if s == nil {
		return &negotiation.PreconditionError{Op: "unsubscribe", State: negotiation.StateIdle}
	}
	return c.coord.Teardown(ctx, s)
}
