package domain

import "fmt"

type StreamID string

func ParseStreamID(s string) (StreamID, error) {
	if s == "" {
		return "", ErrEmptyStream
	}
	if len(s) > MaxStreamIDLen {
		return "", fmt.Errorf("stream %q: %w", s[:MaxStreamIDLen], ErrTooLong)
	}
	return StreamID(s), nil
}

// StreamDescriptor is the projection of a publishing connection.
type StreamDescriptor struct {
	User   UserID   `json:"user"`
	Stream StreamID `json:"stream"`
	Room   RoomName `json:"-"`
}
