package app

import (
	"context"
	"time"

	"github.com/dkeye/wtn/internal/domain"
)

// RoomEvent mirrors one room state change to an external feed.
type RoomEvent struct {
	Type   string          `json:"type"`
	Room   domain.RoomName `json:"room"`
	User   domain.UserID   `json:"user"`
	Stream domain.StreamID `json:"stream,omitempty"`
	At     time.Time       `json:"at"`
}

// EventFeed receives room events after they were broadcast to members.
type EventFeed interface {
	Publish(ctx context.Context, ev RoomEvent) error
}
