// Package protocol defines the control-channel wire format shared by the
// signaling server and client.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/wtn/internal/domain"
)

// Requests from client.
const (
	TypeJoin      = "join"
	TypePublish   = "publish"
	TypeUnpublish = "unpublish"
	TypePing      = "ping"
)

// Replies and notifications from server.
const (
	TypeAck               = "ack"
	TypeError             = "error"
	TypeUserJoined        = "user-joined"
	TypeUserLeft          = "user-left"
	TypeStreamPublished   = "stream-published"
	TypeStreamUnpublished = "stream-unpublished"
)

// Envelope wraps every frame. ID is set on requests and echoed on their ack;
// notifications carry no ID.
type Envelope struct {
	ID   uint64          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of a join request.
type JoinRequest struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// StreamRequest is the payload of publish and unpublish requests.
type StreamRequest struct {
	Room   string `json:"room"`
	User   string `json:"user"`
	Stream string `json:"stream"`
}

// Ack is the common part of every acknowledgment.
type Ack struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// JoinAck answers a join request.
type JoinAck struct {
	Ack
	Credential string                    `json:"credential,omitempty"`
	AppID      string                    `json:"appId,omitempty"`
	Streams    []domain.StreamDescriptor `json:"streams"`
}

// UserEvent is the payload of user-joined and user-left.
type UserEvent struct {
	User domain.UserID   `json:"user"`
	Room domain.RoomName `json:"room"`
}

// StreamEvent is the payload of stream-published and stream-unpublished.
type StreamEvent struct {
	User   domain.UserID   `json:"user"`
	Stream domain.StreamID `json:"stream"`
}

// Encode marshals a frame with the given type and payload.
func Encode(id uint64, typ string, v any) ([]byte, error) {
	env := Envelope{ID: id, Type: typ}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
