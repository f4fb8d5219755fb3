package server

import (
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindAuthenticationRequired ErrorKind = "authentication_required"
	KindRoomNotFound           ErrorKind = "room_not_found"
	KindConversationNotFound   ErrorKind = "conversation_not_found"
	KindMessageNotFound        ErrorKind = "message_not_found"
	KindForbidden              ErrorKind = "forbidden"
	KindInvalidMessage         ErrorKind = "invalid_message"
)

// EventError is a failure that is reported to the connection that sent the
// event. It never closes the connection.
type EventError struct {
	Code    int
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// Is matches on Kind so a forbidden error with a specific message still
// satisfies errors.Is(err, ErrForbidden).
func (e *EventError) Is(target error) bool {
	t, ok := target.(*EventError)
	return ok && t.Kind == e.Kind
}

var (
	ErrAuthenticationRequired = &EventError{
		Code:    http.StatusUnauthorized,
		Kind:    KindAuthenticationRequired,
		Message: "Authentication required",
	}
	ErrRoomNotFound = &EventError{
		Code:    http.StatusNotFound,
		Kind:    KindRoomNotFound,
		Message: "Room not found",
	}
	ErrConversationNotFound = &EventError{
		Code:    http.StatusNotFound,
		Kind:    KindConversationNotFound,
		Message: "Conversation not found",
	}
	ErrMessageNotFound = &EventError{
		Code:    http.StatusNotFound,
		Kind:    KindMessageNotFound,
		Message: "Message not found",
	}
	ErrForbidden = &EventError{
		Code:    http.StatusForbidden,
		Kind:    KindForbidden,
		Message: "Forbidden",
	}
	ErrInvalidMessage = &EventError{
		Code:    http.StatusBadRequest,
		Kind:    KindInvalidMessage,
		Message: "Invalid message",
	}
)

func forbidden(msg string) *EventError {
	return &EventError{Code: http.StatusForbidden, Kind: KindForbidden, Message: msg}
}

func invalid(msg string) *EventError {
	return &EventError{Code: http.StatusBadRequest, Kind: KindInvalidMessage, Message: msg}
}
