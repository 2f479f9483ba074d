// Package negotiation runs the per-stream offer/answer exchange against the
// media gateway and tracks each resulting session.
package negotiation

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Role int

const (
	RolePublish Role = iota
	RoleSubscribe
)

func (r Role) String() string {
	if r == RolePublish {
		return "publish"
	}
	return "subscribe"
}

// State only moves forward; closed is terminal.
type State int

const (
	StateIdle State = iota
	StateOfferCreated
	StateOfferSent
	StateAnswerApplied
	StateActive
	StateClosed
)

var stateNames = [...]string{"idle", "offer-created", "offer-sent", "answer-applied", "active", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PreconditionError is returned when an operation needs a session in a state
// it is not in. Nothing was changed.
type PreconditionError struct {
	Op    string
	State State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: session is %s, want active", e.Op, e.State)
}

// Session is one negotiated media transport for one stream.
type Session struct {
	Role   Role
	Stream string

	mu        sync.Mutex
	state     State
	transport Transport
	endpoint  string
	resource  string
}

func newSession(role Role, stream string) *Session {
	return &Session{Role: role, Stream: stream}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint is the push or play URL the offer was sent to.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Resource is the gateway teardown reference, empty until answered.
func (s *Session) Resource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource
}

func (s *Session) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to <= s.state {
		return
	}
	log.Debug().Str("module", "negotiation").Str("role", s.Role.String()).Str("stream", s.Stream).
		Str("from", s.state.String()).Str("to", to.String()).Msg("session state")
	s.state = to
}

// beginTeardown moves an active session to closed and hands over its
// transport. Only one caller wins; the others get the state they saw.
func (s *Session) beginTeardown() (Transport, State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, s.state, false
	}
	t := s.transport
	s.transport = nil
	s.state = StateClosed
	return t, StateActive, true
}

// Close releases the local transport without telling the gateway. It is
// used when the remote side is known to be gone already.
func (s *Session) Close() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	if s.state != StateClosed {
		s.state = StateClosed
	}
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}
