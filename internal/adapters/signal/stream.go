package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/rs/zerolog/log"
)

type streamOp func(ctx context.Context, sid core.SessionID, room domain.RoomName, user domain.UserID, stream domain.StreamID) error

func (ctl *SignalWSController) handlePublish(ctx context.Context, sid core.SessionID, conn *WsSignalConn, env protocol.Envelope) {
	ctl.handleStream(ctx, sid, conn, env, ctl.Orch.Publish)
}

func (ctl *SignalWSController) handleUnpublish(ctx context.Context, sid core.SessionID, conn *WsSignalConn, env protocol.Envelope) {
	ctl.handleStream(ctx, sid, conn, env, ctl.Orch.Unpublish)
}

func (ctl *SignalWSController) handleStream(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	op streamOp,
) {
	var p protocol.StreamRequest
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Msg("bad stream payload")
		ctl.sendAck(conn, env.ID, protocol.Ack{Code: protocol.CodeBadRequest, Message: "bad payload"})
		return
	}
	room, err := domain.ParseRoomName(p.Room)
	if err != nil {
		ctl.sendAck(conn, env.ID, ackFor(err))
		return
	}
	user, err := domain.ParseUserID(p.User)
	if err != nil {
		ctl.sendAck(conn, env.ID, ackFor(err))
		return
	}
	stream, err := domain.ParseStreamID(p.Stream)
	if err != nil {
		ctl.sendAck(conn, env.ID, ackFor(err))
		return
	}

	if err := op(ctx, sid, room, user, stream); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Str("stream", string(stream)).Msg("stream request rejected")
		ctl.sendAck(conn, env.ID, ackFor(err))
		return
	}
	ctl.sendAck(conn, env.ID, protocol.Ack{Code: protocol.CodeOK})
}
