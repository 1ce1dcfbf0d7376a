package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/utils"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 64 * 1024
)

var errClosed = errors.New("session closed")

// Conn is the part of a websocket connection a Client drives
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents one WebSocket session bound to a single conversation
type Client struct {
	ID            string
	User          models.Identity
	CorrelationID string
	ConnectedAt   time.Time

	conn Conn
	send chan []byte
	log  *zap.Logger

	// done is closed once by Close; send is never closed so concurrent
	// broadcasters cannot panic on a closed channel.
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	mu             sync.Mutex
	conversationID string
}

// NewClient creates a new WebSocket client with a send queue of bufferSize
// frames
func NewClient(conn Conn, user models.Identity, bufferSize int, log *zap.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	c := &Client{
		ID:            utils.NewSessionID(),
		User:          user,
		CorrelationID: utils.NewCorrelationID(),
		ConnectedAt:   time.Now(),
		conn:          conn,
		send:          make(chan []byte, bufferSize),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	c.log = log.With(
		zap.String("session_id", c.ID),
		zap.String("user_id", user.ID),
		zap.String("cid", c.CorrelationID),
	)
	return c
}

// ConversationID returns the conversation the session joined, or ""
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Actor describes the session as the author of an action
func (c *Client) Actor() models.Actor {
	return models.Actor{SessionID: c.ID, ConversationID: c.ConversationID(), User: c.User}
}

// bind attaches the session to a conversation; a session joins at most once
func (c *Client) bind(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversationID != "" {
		return false
	}
	c.conversationID = conversationID
	return true
}

// ReadPump reads frames until the connection fails or is closed and hands
// each text frame to handle. Frames are handled one at a time in arrival
// order.
func (c *Client) ReadPump(handle func(raw []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(message)
	}
}

// WritePump writes queued frames and keep-alive pings until the client is
// closed, then sends the close frame and closes the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("websocket write error", zap.Error(err))
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
			return
		}
	}
}

// enqueue queues data without blocking
func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return models.ErrBackpressure
	}
}

// Send queues an event for this session only. A full queue closes the
// session.
func (c *Client) Send(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := c.enqueue(data); errors.Is(err, models.ErrBackpressure) {
		c.log.Warn("send buffer full, closing session")
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
	}
}

// Close asks the write loop to send a close frame and drop the
// connection. Safe to call many times from any goroutine.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed when the session starts shutting down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until WritePump has returned
func (c *Client) Wait() {
	<-c.stopped
}
