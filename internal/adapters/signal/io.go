package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/wtn/internal/core"
	"github.com/dkeye/wtn/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Limits.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Limits.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.Limits.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.Limits.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Limits.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Limits.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Limits.PongWait))
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

// handleSignal runs one request to completion. Requests on a connection are
// therefore handled strictly in arrival order.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, protocol.CodeBadRequest, "malformed envelope")
		return
	}
	if env.ID == 0 {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("request without id")
		ctl.sendError(c, protocol.CodeBadRequest, "request id required")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("rate limited")
		ctl.sendAck(c, env.ID, protocol.Ack{Code: protocol.CodeRateLimited, Message: "too many requests"})
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(ctx, sid, c, env)
	case protocol.TypePublish:
		ctl.handlePublish(ctx, sid, c, env)
	case protocol.TypeUnpublish:
		ctl.handleUnpublish(ctx, sid, c, env)
	case protocol.TypePing:
		ctl.handlePing(c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendAck(c, env.ID, protocol.Ack{Code: protocol.CodeBadRequest, Message: "unknown type " + env.Type})
	}
}

func (ctl *SignalWSController) sendAck(c *WsSignalConn, id uint64, v any) {
	ctl.send(c, id, protocol.TypeAck, v)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code int, msg string) {
	ctl.send(c, 0, protocol.TypeError, protocol.Ack{Code: code, Message: msg})
}

func (ctl *SignalWSController) send(c *WsSignalConn, id uint64, typ string, v any) {
	b, err := protocol.Encode(id, typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", typ).Msg("send dropped")
	}
}
