package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const redisChannelPrefix = "gateway:conversation:"

// Redis fans envelopes out over Redis pub/sub channels, one per conversation
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *zap.Logger
}

// ConnectRedis parses url, creates a client and pings it
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// NewRedis wraps an established client
func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log.Named("broker.redis")}
}

// Publish sends env, carrying the trace context inside the envelope
func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		env.Trace = carrier
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis: marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, redisChannelPrefix+subjectToken(env.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscribe delivers envelopes from every conversation channel to h until
// ctx is done or the broker is closed
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	r.pubsub = ps

	go func() {
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			mctx := ctx
			if env.Trace != nil {
				mctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.Trace))
			}
			h(mctx, env)
		}
	}()
	return nil
}

// Close stops the subscription and the client
func (r *Redis) Close() error {
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.client.Close()
}
