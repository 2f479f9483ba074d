package client

import (
	"encoding/json"

	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (c *Client) handleNotification(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeStreamPublished:
		var ev protocol.StreamEvent
		if !decode(env, &ev) {
			return
		}
		room := c.identity().room
		rs := &RemoteStream{User: ev.User, Room: room, Stream: ev.Stream}
		c.register(rs)
		c.events.emit(Event{Kind: EventStreamPublished, User: ev.User, Room: room, Stream: ev.Stream, Remote: rs})

	case protocol.TypeStreamUnpublished:
		var ev protocol.StreamEvent
		if !decode(env, &ev) {
			return
		}
		removed := c.remotes.remove(ev.User)
		c.events.emit(Event{Kind: EventStreamUnpublished, User: ev.User, Room: c.identity().room, Stream: ev.Stream, Remote: removed})

	case protocol.TypeUserJoined:
		var ev protocol.UserEvent
		if !decode(env, &ev) {
			return
		}
		c.events.emit(Event{Kind: EventUserJoined, User: ev.User, Room: ev.Room})

	case protocol.TypeUserLeft:
		var ev protocol.UserEvent
		if !decode(env, &ev) {
			return
		}
		out := Event{Kind: EventUserLeft, User: ev.User, Room: ev.Room}
		if removed := c.remotes.remove(ev.User); removed != nil {
			if err := removed.stop(); err != nil {
				log.Warn().Err(err).Str("module", "client").Str("user", string(ev.User)).Msg("stop remote stream")
			}
			out.Stream = removed.Stream
			out.Remote = removed
		}
		c.events.emit(out)

	case protocol.TypeError:
		var a protocol.Ack
		_ = json.Unmarshal(env.Data, &a)
		log.Warn().Str("module", "client").Int("code", a.Code).Str("message", a.Message).Msg("server error")

	default:
		log.Debug().Str("module", "client").Str("type", env.Type).Msg("unknown notification")
	}
}

// register stores rs, replacing and stopping an older stream of the same
// user.
func (c *Client) register(rs *RemoteStream) {
	if prev := c.remotes.put(rs); prev != nil && prev != rs {
		if err := prev.stop(); err != nil {
			log.Debug().Err(err).Str("module", "client").Str("user", string(prev.User)).Msg("stop replaced stream")
		}
	}
}

func decode(env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("type", env.Type).Msg("bad notification")
		return false
	}
	return true
}
