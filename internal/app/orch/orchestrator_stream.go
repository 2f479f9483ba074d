package orch

import (
	"context"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) joinedAs(sid core.SessionID, room domain.RoomName, user domain.UserID) error {
	state, ok := o.Registry.State(sid)
	if !ok {
		return ErrUnknownSession
	}
	if !state.Joined() {
		return ErrNotJoined
	}
	if state.Room != room || state.User != user {
		return ErrIdentityMismatch
	}
	return nil
}

// Publish marks sid as publishing stream and tells the rest of the room.
// Publishing again replaces the previous stream.
func (o *Orchestrator) Publish(ctx context.Context, sid core.SessionID, room domain.RoomName, user domain.UserID, stream domain.StreamID) error {
	if err := o.joinedAs(sid, room, user); err != nil {
		return err
	}

	unlock := o.locks.lock(room)
	o.Registry.SetPublished(sid, stream)
	if r, ok := o.Rooms.Get(room); ok {
		o.broadcast(r, sid, protocol.TypeStreamPublished, protocol.StreamEvent{User: user, Stream: stream})
	}
	unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Str("stream", string(stream)).Msg("published")
	o.emit(app.RoomEvent{Type: protocol.TypeStreamPublished, Room: room, User: user, Stream: stream})
	return nil
}

// Unpublish clears the publish flag whatever stream id the request names;
// the broadcast carries the stream that was actually published. Only an
// actual state change is broadcast, so repeating it is harmless.
func (o *Orchestrator) Unpublish(ctx context.Context, sid core.SessionID, room domain.RoomName, user domain.UserID, stream domain.StreamID) error {
	if err := o.joinedAs(sid, room, user); err != nil {
		return err
	}

	requested := stream
	unlock := o.locks.lock(room)
	stream, changed := o.Registry.ClearPublished(sid)
	if changed {
		if r, ok := o.Rooms.Get(room); ok {
			o.broadcast(r, sid, protocol.TypeStreamUnpublished, protocol.StreamEvent{User: user, Stream: stream})
		}
	}
	unlock()
	if changed && requested != stream {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("requested", string(requested)).Str("stream", string(stream)).Msg("unpublish names another stream")
	}
	if !changed {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("stream", string(requested)).Msg("unpublish: nothing published")
		return nil
	}

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Str("stream", string(stream)).Msg("unpublished")
	o.emit(app.RoomEvent{Type: protocol.TypeStreamUnpublished, Room: room, User: user, Stream: stream})
	return nil
}
