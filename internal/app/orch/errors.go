package orch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Error codes reported to the sender in an "error" event.
const (
	CodeBadPayload     = "bad_payload"
	CodeInvalidField   = "invalid_field"
	CodeSocketMismatch = "socket_mismatch"
	CodeInvalidState   = "invalid_state"
	CodeNotInRoom      = "not_in_room"
	CodeRoomNotFound   = "room_not_found"
	CodeUnknownUser    = "unknown_user"
	CodeLimitReached   = "limit_reached"
	CodeRateLimited    = "rate_limited"
	CodeUnknownEvent   = "unknown_event"
	CodeInternal       = "internal"
)

type ErrorPayload struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RejectError is a rejected inbound event. Nothing was mutated.
type RejectError struct {
	Code string
	Err  error
}

func (e *RejectError) Error() string { return e.Code + ": " + e.Err.Error() }
func (e *RejectError) Unwrap() error { return e.Err }

func reject(code string, err error) error {
	return &RejectError{Code: code, Err: err}
}

// CodeOf classifies err into a client error code.
func CodeOf(err error) string {
	var ee *RejectError
	if errors.As(err, &ee) {
		return ee.Code
	}
	switch {
	case errors.Is(err, app.ErrInvalidTransition), errors.Is(err, app.ErrUnknownConnection):
		return CodeInvalidState
	case errors.Is(err, app.ErrUserLimit), errors.Is(err, app.ErrRoomLimit):
		return CodeLimitReached
	case errors.Is(err, app.ErrUnknownUser):
		return CodeUnknownUser
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong), errors.Is(err, domain.ErrRoleTooLong):
		return CodeInvalidField
	default:
		return CodeInternal
	}
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
