// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type (
	UserID string

	// UserKey identifies a user independently of role or socket. Waiting-room
	// admission sticks to it across reconnects.
	UserKey string

	SessionID string
)

// Identity is the resolved (key, id, name) triple for an authenticated socket.
type Identity struct {
	Key         UserKey
	UserID      UserID
	SessionID   SessionID
	DisplayName string
	Admin       bool
	ClientID    ClientID
}

func ValidDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
