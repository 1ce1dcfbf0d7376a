package utils

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewSessionID generates the identifier of one websocket session
func NewSessionID() string {
	return uuid.NewString()
}

// NewCorrelationID generates a sortable ID used to tie log lines and
// requests together
func NewCorrelationID() string {
	return ksuid.New().String()
}
