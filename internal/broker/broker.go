// Package broker carries conversation broadcasts between gateway instances.
// Each instance delivers to its own sessions directly and publishes the same
// frame here so peers can deliver to theirs.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Envelope is a broadcast frame addressed to a conversation
type Envelope struct {
	Origin           string            `json:"origin"`
	ConversationID   string            `json:"conversation_id"`
	ExcludeSessionID string            `json:"exclude_session_id,omitempty"`
	Payload          json.RawMessage   `json:"payload"`
	Trace            map[string]string `json:"trace,omitempty"`
}

// Handler receives envelopes published by any instance
type Handler func(ctx context.Context, env Envelope)

// Broker publishes envelopes and fans them out to subscribers
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Local is an in-process broker. Hubs sharing one Local behave like
// separate instances; a single hub on its own gets a no-op fan-out.
type Local struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewLocal creates an in-process broker
func NewLocal() *Local {
	return &Local{}
}

// Publish hands env to every subscriber synchronously
func (l *Local) Publish(ctx context.Context, env Envelope) error {
	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers...)
	closed := l.closed
	l.mu.RUnlock()

	if closed {
		return nil
	}
	for _, h := range handlers {
		h(ctx, env)
	}
	return nil
}

// Subscribe registers h for all later publishes
func (l *Local) Subscribe(_ context.Context, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
	return nil
}

// Close stops delivery
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}

// subjectToken makes a conversation ID safe to use as one NATS subject
// token or Redis channel suffix
func subjectToken(conversationID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, conversationID)
}
