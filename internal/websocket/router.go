package websocket

import (
	"context"
	"errors"
	"fmt"

	"vatochito/gateway/internal/calls"
	"vatochito/gateway/internal/events"
	"vatochito/gateway/internal/messages"
	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/presence"
	"vatochito/gateway/internal/telemetry"

	"github.com/gofiber/contrib/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer(telemetry.ScopeName + "/websocket")

// Router runs a session's receive loop and dispatches each client frame to
// the service that handles it
type Router struct {
	hub      *Hub
	messages *messages.Pipeline
	calls    *calls.Manager
	typing   *presence.Tracker
	metrics  *telemetry.Metrics
	log      *zap.Logger
}

// NewRouter creates an event router
func NewRouter(hub *Hub, pipeline *messages.Pipeline, callManager *calls.Manager, typing *presence.Tracker, metrics *telemetry.Metrics, log *zap.Logger) *Router {
	return &Router{
		hub:      hub,
		messages: pipeline,
		calls:    callManager,
		typing:   typing,
		metrics:  metrics,
		log:      log.Named("router"),
	}
}

// Serve joins the session to the conversation and handles its frames until
// it disconnects. It returns once the session has left the group and the
// connection is closed.
func (r *Router) Serve(ctx context.Context, conversationID string, c *Client) error {
	if err := r.hub.Join(conversationID, c); err != nil {
		c.Close(websocket.ClosePolicyViolation, "already joined")
		return err
	}

	go c.WritePump()
	c.ReadPump(func(raw []byte) {
		r.Dispatch(ctx, c, raw)
	})

	r.hub.Leave(conversationID, c)
	r.typing.Clear(ctx, conversationID, c.User.ID, c.ID)
	c.Close(websocket.CloseNormalClosure, "")
	c.Wait()
	return nil
}

// Dispatch handles one client frame. Failures stay scoped to this frame:
// nothing here closes the connection or affects other sessions.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("panic while handling event", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	in, err := events.Decode(raw)
	switch {
	case errors.Is(err, events.ErrUnknownType):
		c.log.Debug("ignoring event", zap.Error(err))
		return
	case err != nil:
		c.Send(events.NewError(events.CodeInvalidPayload, err.Error()))
		return
	}

	kind := in.Kind()
	a := c.Actor()

	ctx, span := tracer.Start(ctx, "ws "+string(kind),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("gateway.event", string(kind)),
			attribute.String("gateway.conversation_id", a.ConversationID),
			attribute.String("gateway.session_id", a.SessionID),
		),
	)
	defer span.End()
	r.metrics.Event(ctx, string(kind))

	err = r.handle(ctx, c, a, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	r.report(ctx, c, kind, err)
}

func (r *Router) handle(ctx context.Context, c *Client, a models.Actor, in events.Inbound) error {
	switch ev := in.(type) {
	case *events.Ping:
		c.Send(events.NewPong())
		return nil

	case *events.MessageSend:
		_, err := r.messages.Send(ctx, a, messages.SendInput{
			Type:          ev.MessageType,
			Content:       ev.Content,
			ReplyTo:       ev.ReplyTo,
			ForwardedFrom: ev.ForwardedFrom,
		})
		return err
	case *events.MessageEdit:
		_, err := r.messages.Edit(ctx, a, ev.MessageID, ev.Content)
		return err
	case *events.MessageDelete:
		return r.messages.Delete(ctx, a, ev.MessageID)
	case *events.MessageRead:
		return r.messages.MarkRead(ctx, a, ev.MessageID)
	case *events.MessageReact:
		_, err := r.messages.React(ctx, a, ev.MessageID, ev.Emoji)
		return err
	case *events.MessagePin:
		_, err := r.messages.Pin(ctx, a, ev.MessageID)
		return err

	case *events.Typing:
		r.typing.SetTyping(ctx, a.ConversationID, a.User, a.SessionID, ev.Active())
		return nil

	case *events.CallInitiate:
		_, err := r.calls.Initiate(ctx, a, ev.CallType, ev.ParticipantIDs)
		return err
	case *events.CallAnswer:
		return r.calls.Answer(ctx, a, ev.CallID)
	case *events.CallReject:
		return r.calls.Reject(ctx, a, ev.CallID)
	case *events.CallEnd:
		return r.calls.End(ctx, a, ev.CallID)
	case *events.Signal:
		return r.calls.Relay(ctx, a, ev)
	}

	return fmt.Errorf("%w: %s", events.ErrUnknownType, in.Kind())
}

// report decides what, if anything, the acting session hears about a
// failed event. Precondition failures are dropped without a reply.
func (r *Router) report(ctx context.Context, c *Client, kind events.Type, err error) {
	switch {
	case err == nil:
	case errors.Is(err, models.ErrStoreUnavailable):
		r.metrics.StoreError(ctx, string(kind))
		c.log.Warn("event dropped, store unavailable", zap.String("event", string(kind)), zap.Error(err))
		c.Send(events.NewError(events.CodeStoreUnavailable, "the event could not be saved, try again"))
	case errors.Is(err, models.ErrInvalidPayload):
		c.Send(events.NewError(events.CodeInvalidPayload, err.Error()))
	default:
		c.log.Debug("event dropped", zap.String("event", string(kind)), zap.Error(err))
	}
}
