package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"vatochito/gateway/internal/broker"
	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/telemetry"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// group is the set of sessions joined to one conversation
type group struct {
	mu      sync.RWMutex
	members map[string]*Client
	// closed is set when the last member leaves; a closed group is never
	// reused and joiners create a fresh one.
	closed bool
}

// Hub maintains conversation groups and broadcasts events to them
type Hub struct {
	instanceID string

	// mu guards the groups map only; membership is guarded per group
	mu     sync.Mutex
	groups map[string]*group

	sessions atomic.Int64

	broker  broker.Broker
	metrics *telemetry.Metrics
	log     *zap.Logger
}

// NewHub creates a new WebSocket hub. b may be nil for a single instance
// deployment.
func NewHub(b broker.Broker, metrics *telemetry.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		instanceID: uuid.NewString(),
		groups:     make(map[string]*group),
		broker:     b,
		metrics:    metrics,
		log:        log.Named("hub"),
	}
}

// Start subscribes to broadcasts from other gateway instances
func (h *Hub) Start(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	return h.broker.Subscribe(ctx, h.handleRemote)
}

// Join registers the session in the conversation's group
func (h *Hub) Join(conversationID string, c *Client) error {
	if !c.bind(conversationID) {
		return models.ErrAlreadyJoined
	}

	for {
		g := h.groupFor(conversationID)
		g.mu.Lock()
		if g.closed {
			// Lost a race with the last Leave; retry with a fresh group.
			g.mu.Unlock()
			continue
		}
		g.members[c.ID] = c
		g.mu.Unlock()
		break
	}

	h.sessions.Add(1)
	c.log.Info("client joined", zap.String("conversation_id", conversationID))
	return nil
}

func (h *Hub) groupFor(conversationID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[conversationID]
	if !ok || g.closed {
		g = &group{members: make(map[string]*Client)}
		h.groups[conversationID] = g
	}
	return g
}

func (h *Hub) lookup(conversationID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[conversationID]
}

// Leave removes the session from the group. Leaving twice, or leaving a
// group the session never joined, does nothing.
func (h *Hub) Leave(conversationID string, c *Client) {
	g := h.lookup(conversationID)
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.members[c.ID] != c {
		g.mu.Unlock()
		return
	}
	delete(g.members, c.ID)
	empty := len(g.members) == 0
	if empty {
		g.closed = true
	}
	g.mu.Unlock()

	h.sessions.Add(-1)
	c.log.Info("client left", zap.String("conversation_id", conversationID))

	if empty {
		h.mu.Lock()
		if h.groups[conversationID] == g {
			delete(h.groups, conversationID)
		}
		h.mu.Unlock()
	}
}

// Broadcast sends event to every session in the conversation except
// excludeSessionID, on this instance and on its peers. It returns the
// number of local sessions the frame was queued for.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, event any, excludeSessionID string) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal broadcast", zap.String("conversation_id", conversationID), zap.Error(err))
		return 0
	}
	return h.BroadcastRaw(ctx, conversationID, data, excludeSessionID)
}

// BroadcastRaw is Broadcast for an already encoded frame
func (h *Hub) BroadcastRaw(ctx context.Context, conversationID string, data []byte, excludeSessionID string) int {
	n := h.deliver(ctx, conversationID, data, excludeSessionID)
	h.metrics.Broadcast(ctx, n)

	if h.broker != nil {
		env := broker.Envelope{
			Origin:           h.instanceID,
			ConversationID:   conversationID,
			ExcludeSessionID: excludeSessionID,
			Payload:          data,
		}
		if err := h.broker.Publish(ctx, env); err != nil {
			h.log.Warn("failed to publish broadcast",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return n
}

// deliver queues data for local members. The member list is copied under
// the read lock and sends happen after it is released, so a slow or dead
// session cannot stall joins and leaves.
func (h *Hub) deliver(ctx context.Context, conversationID string, data []byte, excludeSessionID string) int {
	g := h.lookup(conversationID)
	if g == nil {
		return 0
	}

	g.mu.RLock()
	targets := make([]*Client, 0, len(g.members))
	for id, c := range g.members {
		if id != excludeSessionID {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		switch err := c.enqueue(data); {
		case err == nil:
			delivered++
		case errors.Is(err, models.ErrBackpressure):
			h.metrics.Backpressure(ctx)
			c.log.Warn("send buffer full, disconnecting", zap.String("conversation_id", conversationID))
			c.Close(websocket.ClosePolicyViolation, "send buffer full")
		}
	}
	return delivered
}

func (h *Hub) handleRemote(ctx context.Context, env broker.Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	h.deliver(ctx, env.ConversationID, env.Payload, env.ExcludeSessionID)
}

// Stats returns the number of joined sessions and live groups
func (h *Hub) Stats() (sessions, groups int) {
	h.mu.Lock()
	groups = len(h.groups)
	h.mu.Unlock()
	return int(h.sessions.Load()), groups
}

// Members returns the session IDs joined to a conversation on this instance
func (h *Hub) Members(conversationID string) []string {
	g := h.lookup(conversationID)
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every session; used at server shutdown
func (h *Hub) Close() {
	h.mu.Lock()
	groups := make([]*group, 0, len(h.groups))
	for _, g := range h.groups {
		groups = append(groups, g)
	}
	h.mu.Unlock()

	for _, g := range groups {
		g.mu.RLock()
		for _, c := range g.members {
			c.Close(websocket.CloseGoingAway, "server shutting down")
		}
		g.mu.RUnlock()
	}
}
