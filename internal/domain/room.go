package domain

import "fmt"

type RoomName string

func ParseRoomName(s string) (RoomName, error) {
	if s == "" {
		return "", ErrEmptyRoom
	}
	if len(s) > MaxRoomNameLen {
		return "", fmt.Errorf("room %q: %w", s[:MaxRoomNameLen], ErrTooLong)
	}
	return RoomName(s), nil
}
