package core

// memberSession implements MemberSession by pairing identity + transport.
type memberSession struct {
	id     SessionID
	signal SignalConnection
}

func NewMemberSession(id SessionID, signal SignalConnection) MemberSession {
	return &memberSession{id: id, signal: signal}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) Signal() SignalConnection { return m.signal }
