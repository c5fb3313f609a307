package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotAMember   = errors.New("not a member")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limited")
)

var (
	ErrUsernameEmpty   = fmt.Errorf("%w: username empty", ErrInvalidInput)
	ErrUsernameTooLong = fmt.Errorf("%w: username too long", ErrInvalidInput)
	ErrMessageEmpty    = fmt.Errorf("%w: message empty", ErrInvalidInput)
	ErrMessageTooLong  = fmt.Errorf("%w: message too long", ErrInvalidInput)
	ErrRoomNameEmpty   = fmt.Errorf("%w: room name empty", ErrInvalidInput)
	ErrRoomNameTooLong = fmt.Errorf("%w: room name too long", ErrInvalidInput)
	ErrUnknownAction   = fmt.Errorf("%w: unknown action", ErrInvalidInput)
	ErrBadPayload      = fmt.Errorf("%w: bad payload", ErrInvalidInput)
)

// UserMessage maps an error to the text sent back in an error event.
// Unknown errors get a generic text so internals never leak to clients.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrRoomFull):
		return "Room is full"
	case errors.Is(err, ErrUnauthorized):
		return "Only the host can perform this action"
	case errors.Is(err, ErrNotAMember):
		return "You are not in this room"
	case errors.Is(err, ErrRateLimited):
		return "You are sending messages too fast"
	case errors.Is(err, ErrUsernameEmpty):
		return "Username is required"
	case errors.Is(err, ErrUsernameTooLong):
		return fmt.Sprintf("Username must be at most %d characters", MaxUsernameLen)
	case errors.Is(err, ErrMessageEmpty):
		return "Message cannot be empty"
	case errors.Is(err, ErrMessageTooLong):
		return "Message is too long"
	case errors.Is(err, ErrRoomNameEmpty):
		return "Room name cannot be empty"
	case errors.Is(err, ErrRoomNameTooLong):
		return "Room name is too long"
	case errors.Is(err, ErrUnknownAction):
		return "Unknown action"
	case errors.Is(err, ErrInvalidInput):
		return "Invalid request"
	default:
		return "Something went wrong"
	}
}

// Expected reports whether err belongs to the client facing taxonomy
// rather than an internal failure.
func Expected(err error) bool {
	for _, target := range []error{ErrRoomNotFound, ErrRoomFull, ErrUnauthorized, ErrNotAMember, ErrInvalidInput, ErrRateLimited} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
