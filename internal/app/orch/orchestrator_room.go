package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

// JoinResult is what a joining connection learns about its room.
type JoinResult struct {
	Credential string
	AppID      string
	Streams    []domain.StreamDescriptor
}

// Join registers sid as user in room. The snapshot of published streams and
// the broadcast group membership are updated under the room lock, so every
// stream shows up for the joiner either in the snapshot or as a later
// stream-published notification.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, room domain.RoomName, user domain.UserID) (*JoinResult, error) {
	state, ok := o.Registry.State(sid)
	if !ok {
		return nil, ErrUnknownSession
	}

	// A failed join leaves the previous membership untouched.
	var credential string
	if o.Credentials != nil {
		c, err := o.Credentials.Issue(string(user))
		if err != nil {
			return nil, fmt.Errorf("issue credential: %w", err)
		}
		credential = c
	}

	if state.Room != "" && (state.Room != room || state.User != user) {
		o.leaveRoom(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(state.Room)).Msg("left previous room")
	}

	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, ErrUnknownSession
	}

	unlock := o.locks.lock(room)
	o.Registry.SetIdentity(sid, room, user)
	r := o.Rooms.GetOrCreate(room)
	streams := o.Registry.Published(without(r.Members(), sid))
	r.AddMember(sess)
	o.broadcast(r, sid, protocol.TypeUserJoined, protocol.UserEvent{User: user, Room: room})
	unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Int("streams", len(streams)).Msg("joined")
	o.emit(app.RoomEvent{Type: protocol.TypeUserJoined, Room: room, User: user})

	return &JoinResult{
		Credential: credential,
		AppID:      o.AppID,
		Streams:    streams,
	}, nil
}

// OnDisconnect cleans up after transport loss. Receivers get user-left only;
// it stands in for stream-unpublished of the user's stream.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	if state, ok := o.Registry.State(sid); ok && state.Room != "" {
		o.leaveRoom(sid)
	}
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) leaveRoom(sid core.SessionID) {
	state, ok := o.Registry.State(sid)
	if !ok || state.Room == "" {
		return
	}
	room := state.Room

	unlock := o.locks.lock(room)
	prev, _ := o.Registry.RemoveRoom(sid)
	if r, ok := o.Rooms.Get(room); ok {
		r.RemoveMember(sid)
		o.broadcast(r, sid, protocol.TypeUserLeft, protocol.UserEvent{User: prev.User, Room: room})
		o.Rooms.StopRoom(room)
	}
	unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(prev.User)).Bool("was_publishing", prev.Published).Msg("left room")
	o.emit(app.RoomEvent{Type: protocol.TypeUserLeft, Room: room, User: prev.User})
}

func without(sids []core.SessionID, drop core.SessionID) []core.SessionID {
	out := sids[:0]
	for _, sid := range sids {
		if sid != drop {
			out = append(out, sid)
		}
	}
	return out
}
