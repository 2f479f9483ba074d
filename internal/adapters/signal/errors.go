package signal

import (
	"errors"

	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/protocol"
)

// ackFor maps a handler error to the ack sent back to the client.
func ackFor(err error) protocol.Ack {
	switch {
	case err == nil:
		return protocol.Ack{Code: protocol.CodeOK}
	case errors.Is(err, domain.ErrEmptyRoom),
		errors.Is(err, domain.ErrEmptyUser),
		errors.Is(err, domain.ErrEmptyStream),
		errors.Is(err, domain.ErrTooLong),
		errors.Is(err, orch.ErrIdentityMismatch):
		return protocol.Ack{Code: protocol.CodeBadRequest, Message: err.Error()}
	case errors.Is(err, orch.ErrNotJoined):
		return protocol.Ack{Code: protocol.CodeNotJoined, Message: err.Error()}
	default:
		return protocol.Ack{Code: protocol.CodeInternal, Message: "internal error"}
	}
}
