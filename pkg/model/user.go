// Package model defines the core domain types for the chatroom server.
package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxUsernameLength = 32

// SystemSender is the reserved sender name used for server-generated notices.
// The auth gate refuses to register it as an account name.
const SystemSender = "SYSTEM"

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrUsernameReserved = errors.New("username is reserved")

// User represents a registered account.
type User struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters and not a reserved name. Returns nil on success or a
// descriptive error. The frame field separator '|' can never appear in a valid name.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	if name == SystemSender {
		return ErrUsernameReserved
	}
	return nil
}
