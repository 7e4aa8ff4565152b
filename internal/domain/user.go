// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUsernameLen = 36
	MaxTextLen     = 4096
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrTextTooLong     = errors.New("message text too long")
)

type UserID int64

type User struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Disabled    bool   `json:"disabled"`
}

// ValidateUsername keeps the length checks in one place so adapters
// don't grow ad-hoc copies of them.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
