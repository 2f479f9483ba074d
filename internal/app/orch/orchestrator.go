package orch

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/auth"
	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrNotJoined        = errors.New("join a room first")
	ErrIdentityMismatch = errors.New("room or user does not match the joined identity")
)

const feedTimeout = 2 * time.Second

// Orchestrator applies join/publish/unpublish/disconnect to the registry and
// fans the resulting notifications out to room members.
type Orchestrator struct {
	Registry    *app.Registry
	Rooms       core.RoomManager
	Policy      app.Policy
	Credentials auth.Issuer
	AppID       string
	Feed        app.EventFeed

	locks roomLocks
}

const lockStripes = 64

// roomLocks serializes state transitions per room. Rooms hashing to the same
// stripe share a lock.
type roomLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *roomLocks) lock(room domain.RoomName) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// broadcast must be called with the room lock held.
func (o *Orchestrator) broadcast(room core.RoomService, from core.SessionID, typ string, payload any) {
	frame, err := protocol.Encode(0, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode notification")
		return
	}
	res := room.Broadcast(from, core.Frame(frame))
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(room.Name())).Msg("kicking slow member")
			o.Registry.Cancel(slow.ID())
			slow.Signal().Close()
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) emit(ev app.RoomEvent) {
	if o.Feed == nil {
		return
	}
	ev.At = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
	defer cancel()
	if err := o.Feed.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("type", ev.Type).Str("room", string(ev.Room)).Msg("room event feed")
	}
}

// Snapshot returns the streams currently published in room.
func (o *Orchestrator) Snapshot(room domain.RoomName) []domain.StreamDescriptor {
	r, ok := o.Rooms.Get(room)
	if !ok {
		return []domain.StreamDescriptor{}
	}
	return o.Registry.Published(r.Members())
}
