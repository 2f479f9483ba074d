package signal

import "github.com/dkeye/wtn/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, env protocol.Envelope) {
	ctl.sendAck(conn, env.ID, protocol.Ack{Code: protocol.CodeOK, Message: "pong"})
}
