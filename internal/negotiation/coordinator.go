package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/wtn/internal/gateway"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Transport is a local media transport: a peer connection that has already
// been configured for one direction.
type Transport interface {
	// CreateOffer generates an offer, sets it as local description and
	// returns it once candidate gathering finished.
	CreateOffer(ctx context.Context) (string, error)
	ApplyAnswer(sdp string) error
	// Close stops every transceiver and then closes the transport.
	Close() error
}

type TrackHandler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

type Engine interface {
	// NewPublishTransport adds one send-only transceiver per media kind,
	// video before audio.
	NewPublishTransport(tracks []webrtc.TrackLocal) (Transport, error)
	// NewSubscribeTransport adds a receive-only video and audio transceiver.
	NewSubscribeTransport(onTrack TrackHandler) (Transport, error)
}

type Gateway interface {
	PushURL(stream string, p gateway.Params) string
	PlayURL(stream string, p gateway.Params) string
	Negotiate(ctx context.Context, endpoint, offer string) (*gateway.Answer, error)
	Delete(ctx context.Context, resource string) error
}

// Announce issues the signaling publish request once media is live.
type Announce func(ctx context.Context) error

type Coordinator struct {
	engine  Engine
	gateway Gateway
}

func NewCoordinator(engine Engine, gw Gateway) *Coordinator {
	return &Coordinator{engine: engine, gateway: gw}
}

// Publish negotiates a send-only session for stream and only then calls
// announce. On any failure the local transport is closed and the returned
// session is in StateClosed. A failed announce also deletes the gateway
// session.
func (c *Coordinator) Publish(ctx context.Context, stream string, params gateway.Params, tracks []webrtc.TrackLocal, announce Announce) (*Session, error) {
	s := newSession(RolePublish, stream)
	t, err := c.engine.NewPublishTransport(tracks)
	if err != nil {
		s.advance(StateClosed)
		return s, fmt.Errorf("publish %s: new transport: %w", stream, err)
	}
	s.transport = t

	if err := c.negotiate(ctx, s, c.gateway.PushURL(stream, params)); err != nil {
		return s, err
	}

	if announce != nil {
		if err := announce(ctx); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("stream", stream).Msg("publish rejected, rolling back")
			c.abort(ctx, s)
			return s, err
		}
	}
	s.advance(StateActive)
	log.Info().Str("module", "negotiation").Str("stream", stream).Str("resource", s.Resource()).Msg("published")
	return s, nil
}

// Subscribe negotiates a receive-only session for stream. Inbound tracks are
// passed to onTrack.
func (c *Coordinator) Subscribe(ctx context.Context, stream string, params gateway.Params, onTrack TrackHandler) (*Session, error) {
	s := newSession(RoleSubscribe, stream)
	t, err := c.engine.NewSubscribeTransport(onTrack)
	if err != nil {
		s.advance(StateClosed)
		return s, fmt.Errorf("subscribe %s: new transport: %w", stream, err)
	}
	s.transport = t

	if err := c.negotiate(ctx, s, c.gateway.PlayURL(stream, params)); err != nil {
		return s, err
	}
	s.advance(StateActive)
	log.Info().Str("module", "negotiation").Str("stream", stream).Str("resource", s.Resource()).Msg("subscribed")
	return s, nil
}

func (c *Coordinator) negotiate(ctx context.Context, s *Session, endpoint string) error {
	op := s.Role.String()
	offer, err := s.transport.CreateOffer(ctx)
	if err != nil {
		c.abort(ctx, s)
		return fmt.Errorf("%s %s: create offer: %w", op, s.Stream, err)
	}
	s.advance(StateOfferCreated)

	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	s.advance(StateOfferSent)

	ans, err := c.gateway.Negotiate(ctx, endpoint, offer)
	if err != nil {
		c.abort(ctx, s)
		return fmt.Errorf("%s %s: %w", op, s.Stream, err)
	}
	s.mu.Lock()
	s.resource = ans.Resource
	s.mu.Unlock()

	if err := s.transport.ApplyAnswer(ans.SDP); err != nil {
		c.abort(ctx, s)
		return fmt.Errorf("%s %s: apply answer: %w", op, s.Stream, err)
	}
	s.advance(StateAnswerApplied)
	return nil
}

// abort closes the local side and, when the gateway already holds a
// session, asks it to drop that too.
func (c *Coordinator) abort(ctx context.Context, s *Session) {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Str("module", "negotiation").Str("stream", s.Stream).Msg("close transport")
	}
	if res := s.Resource(); res != "" {
		if err := c.gateway.Delete(ctx, res); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("stream", s.Stream).Msg("rollback delete")
		}
	}
}

// Teardown closes the local transport and deletes the gateway session. The
// local transport is released even when the DELETE fails.
func (c *Coordinator) Teardown(ctx context.Context, s *Session) error {
	t, st, ok := s.beginTeardown()
	if !ok {
		return &PreconditionError{Op: "teardown", State: st}
	}
	var closeErr error
	if t != nil {
		closeErr = t.Close()
	}
	if closeErr != nil {
		log.Warn().Err(closeErr).Str("module", "negotiation").Str("stream", s.Stream).Msg("close transport")
	}

	var delErr error
	if res := s.Resource(); res != "" {
		delErr = c.gateway.Delete(ctx, res)
	}
	if delErr != nil {
		log.Warn().Err(delErr).Str("module", "negotiation").Str("stream", s.Stream).Msg("teardown delete")
	} else {
		log.Info().Str("module", "negotiation").Str("role", s.Role.String()).Str("stream", s.Stream).Msg("torn down")
	}
	return errors.Join(delErr, closeErr)
}
