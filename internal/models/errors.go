package models

import "errors"

var (
	// ErrNotFound is returned when a message, call or participant does not exist
	// or is not part of the acting conversation.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor lacks the right to perform an action.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned for a missing, invalid or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAlreadyJoined is returned when a session is already registered in a group.
	ErrAlreadyJoined = errors.New("session already joined a conversation")
	// ErrInvalidTransition is returned when a call cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid call state transition")
	// ErrStoreUnavailable wraps persistence failures and open circuits.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrBackpressure is returned when a session's send queue is full.
	ErrBackpressure = errors.New("send buffer full")
	// ErrInvalidPayload is returned for malformed or invalid client events.
	ErrInvalidPayload = errors.New("invalid payload")
)
