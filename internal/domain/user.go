// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"regexp"
)

const (
	MaxConnIDLen   = 64
	MaxUsernameLen = 64
	MaxRoleLen     = 32
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrConnIDInvalid   = errors.New("connection id invalid")
	ErrRoleTooLong     = errors.New("role too long")
)

var connIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ConnID identifies one live transport connection. On the wire it is "socketId".
type ConnID string

func ParseConnID(raw string) (ConnID, error) {
	if !connIDPattern.MatchString(raw) {
		return "", ErrConnIDInvalid
	}
	return ConnID(raw), nil
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// User is one presence entry. JSON keys are the client contract.
type User struct {
	Username    string `json:"username"`
	SocketID    ConnID `json:"socketId"`
	PeerID      string `json:"peerId,omitempty"`
	StreamID    string `json:"streamId,omitempty"`
	Role        Role   `json:"role,omitempty"`
	ScreenShare bool   `json:"screenShare"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in handlers.
func NewUser(username string, sid ConnID) (*User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return &User{Username: username, SocketID: sid}, nil
}

func (u *User) SetRole(role Role) error {
	if len(role) > MaxRoleLen {
		return ErrRoleTooLong
	}
	u.Role = role
	return nil
}

// Merge copies the non-empty call fields of other into u.
// The screen-share flag is owned by the registry and left untouched.
func (u *User) Merge(other User) {
	if other.Username != "" {
		u.Username = other.Username
	}
	if other.PeerID != "" {
		u.PeerID = other.PeerID
	}
	if other.StreamID != "" {
		u.StreamID = other.StreamID
	}
	if other.Role != "" {
		u.Role = other.Role
	}
}

func validateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
