// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen   = 64
	MaxRoomNameLen = 64
	MaxStreamIDLen = 128
)

var (
	ErrEmptyUser   = errors.New("user empty")
	ErrEmptyRoom   = errors.New("room empty")
	ErrEmptyStream = errors.New("stream empty")
	ErrTooLong     = errors.New("identifier too long")
)

type UserID string

// ParseUserID validates a user identity received from a peer.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", ErrEmptyUser
	}
	if len(s) > MaxUserIDLen {
		return "", fmt.Errorf("user %q: %w", s[:MaxUserIDLen], ErrTooLong)
	}
	return UserID(s), nil
}
