package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingSignal struct {
	sent int
	fail bool
}

func (c *countingSignal) TrySend(Frame) error {
	if c.fail {
		return errors.New("full")
	}
	c.sent++
	return nil
}

func (c *countingSignal) Close() {}

func TestBroadcastSkipsSenderAndReportsDropped(t *testing.T) {
	r := NewRoomService("r1")
	a, b, slow := &countingSignal{}, &countingSignal{}, &countingSignal{fail: true}
	r.AddMember(NewMemberSession("a", a))
	r.AddMember(NewMemberSession("b", b))
	r.AddMember(NewMemberSession("slow", slow))

	res := r.Broadcast("a", Frame(`{}`))
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, res.Dropped, 1)
	assert.Equal(t, SessionID("slow"), res.Dropped[0].ID())
	assert.Zero(t, a.sent)
	assert.Equal(t, 1, b.sent)
}

func TestMembership(t *testing.T) {
	r := NewRoomService("r1")
	r.AddMember(NewMemberSession("a", &countingSignal{}))
	assert.Equal(t, 1, r.MemberCount())
	assert.ElementsMatch(t, []SessionID{"a"}, r.Members())
	assert.True(t, r.RemoveMember("a"))
	assert.False(t, r.RemoveMember("a"))
	assert.Zero(t, r.MemberCount())
}
