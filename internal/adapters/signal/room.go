package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.JoinRequest
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendAck(conn, env.ID, protocol.JoinAck{Ack: protocol.Ack{Code: protocol.CodeBadRequest, Message: "bad payload"}})
		return
	}
	room, err := domain.ParseRoomName(p.Room)
	if err != nil {
		ctl.sendAck(conn, env.ID, protocol.JoinAck{Ack: ackFor(err)})
		return
	}
	user, err := domain.ParseUserID(p.User)
	if err != nil {
		ctl.sendAck(conn, env.ID, protocol.JoinAck{Ack: ackFor(err)})
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Str("user", string(user)).Msg("join")
	res, err := ctl.Orch.Join(ctx, sid, room, user)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.sendAck(conn, env.ID, protocol.JoinAck{Ack: ackFor(err)})
		return
	}
	ctl.sendAck(conn, env.ID, protocol.JoinAck{
		Ack:        protocol.Ack{Code: protocol.CodeOK},
		Credential: res.Credential,
		AppID:      res.AppID,
		Streams:    res.Streams,
	})
}
