package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room      domain.RoomName
	User      domain.UserID
	Published bool
	Stream    domain.StreamID
	Session   core.MemberSession
	Cancel    context.CancelFunc
}

// ConnState is a copy of a connection's attributes.
type ConnState struct {
	SID       core.SessionID
	Room      domain.RoomName
	User      domain.UserID
	Published bool
	Stream    domain.StreamID
}

// Joined reports whether the connection has a room and a user.
func (s ConnState) Joined() bool { return s.Room != "" && s.User != "" }

// Registry holds every live connection and its room/user/publish state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (e *sessionEntry) state(sid core.SessionID) ConnState {
	return ConnState{
		SID:       sid,
		Room:      e.Room,
		User:      e.User,
		Published: e.Published,
		Stream:    e.Stream,
	}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) State(sid core.SessionID) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnState{}, false
	}
	return e.state(sid), true
}

// Unbind removes the connection and returns its last state.
func (r *Registry) Unbind(sid core.SessionID) (ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnState{}, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return e.state(sid), true
}

func (r *Registry) SetIdentity(sid core.SessionID, room domain.RoomName, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Room = room
	e.User = user
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Msg("updated identity")
	return true
}

// RemoveRoom clears room and publish state and returns the state before.
func (r *Registry) RemoveRoom(sid core.SessionID) (ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnState{}, false
	}
	prev := e.state(sid)
	e.Room = ""
	e.Published = false
	e.Stream = ""
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	return prev, true
}

// SetPublished marks the connection as publishing stream, replacing any
// previous stream.
func (r *Registry) SetPublished(sid core.SessionID, stream domain.StreamID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Published = true
	e.Stream = stream
	return true
}

// ClearPublished clears the publish flag and returns the stream that was
// published. changed is false when nothing was published.
func (r *Registry) ClearPublished(sid core.SessionID) (stream domain.StreamID, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || !e.Published {
		return "", false
	}
	e.Published = false
	return e.Stream, true
}

// Published projects the publishing connections among sids into stream
// descriptors ordered by user.
func (r *Registry) Published(sids []core.SessionID) []domain.StreamDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StreamDescriptor, 0)
	for _, sid := range sids {
		e, ok := r.sessions[sid]
		if !ok || !e.Published {
			continue
		}
		out = append(out, domain.StreamDescriptor{User: e.User, Stream: e.Stream, Room: e.Room})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
