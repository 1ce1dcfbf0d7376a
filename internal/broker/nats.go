package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const natsSubjectPrefix = "gateway.conversation"

var tracer = otel.Tracer("vatochito/gateway/broker")

// natsHeaderCarrier adapts nats.Header to propagation.TextMapCarrier
type natsHeaderCarrier nats.Header

func (c natsHeaderCarrier) Get(key string) string { return nats.Header(c).Get(key) }

func (c natsHeaderCarrier) Set(key, value string) { nats.Header(c).Set(key, value) }

func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// NATS fans envelopes out over core NATS subjects, one per conversation
type NATS struct {
	nc  *nats.Conn
	sub *nats.Subscription
	log *zap.Logger
}

// ConnectNATS dials the NATS server with reconnects enabled
func ConnectNATS(url, user, pass, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, pass))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return nc, nil
}

// NewNATS wraps an established connection
func NewNATS(nc *nats.Conn, log *zap.Logger) *NATS {
	return &NATS{nc: nc, log: log.Named("broker.nats")}
}

func natsSubject(conversationID string) string {
	return natsSubjectPrefix + "." + subjectToken(conversationID)
}

// Publish sends env with the trace context in the message headers
func (n *NATS) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats: marshal envelope: %w", err)
	}

	subject := natsSubject(env.ConversationID)
	ctx, span := tracer.Start(ctx, subject+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", subject),
			attribute.Int("messaging.message.payload_size_bytes", len(data)),
		),
	)
	defer span.End()

	header := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier(header))

	if err := n.nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: header}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

// Subscribe delivers envelopes from every conversation subject to h
func (n *NATS) Subscribe(ctx context.Context, h Handler) error {
	sub, err := n.nc.Subscribe(natsSubjectPrefix+".*", func(msg *nats.Msg) {
		mctx := otel.GetTextMapPropagator().Extract(ctx, natsHeaderCarrier(msg.Header))
		mctx, span := tracer.Start(mctx, msg.Subject+" process",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination.name", msg.Subject),
			),
		)
		defer span.End()

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.log.Warn("dropping malformed envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		h(mctx, env)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe: %w", err)
	}
	n.sub = sub
	return nil
}

// Close drains the subscription and the connection
func (n *NATS) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	return n.nc.Drain()
}
