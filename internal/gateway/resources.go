package gateway

import (
	"context"
	"fmt"

	"vatochito/gateway/internal/broker"
	"vatochito/gateway/internal/config"
	"vatochito/gateway/internal/database"
	"vatochito/gateway/internal/database/memory"
	"vatochito/gateway/internal/resilience"
	"vatochito/gateway/internal/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectAttempts = 5

// OpenStore opens the configured store. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (Store, func(), error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	var pool *pgxpool.Pool
	err := resilience.Retry(ctx, log, "postgres", connectAttempts, func() error {
		p, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, log)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return database.NewStore(pool), pool.Close, nil
}

// OpenBroker connects the cross-instance fan-out backend
func OpenBroker(ctx context.Context, cfg config.Config, log *zap.Logger) (broker.Broker, error) {
	switch cfg.Broker {
	case "nats":
		var nc *nats.Conn
		err := resilience.Retry(ctx, log, "nats", connectAttempts, func() error {
			c, err := broker.ConnectNATS(cfg.NATSURL, cfg.NATSUser, cfg.NATSPass, cfg.AppName)
			if err != nil {
				return err
			}
			nc = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Info("connected to nats", zap.String("url", nc.ConnectedUrlRedacted()))
		return broker.NewNATS(nc, log), nil

	case "redis":
		var client *redis.Client
		err := resilience.Retry(ctx, log, "redis", connectAttempts, func() error {
			c, err := broker.ConnectRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			client = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		return broker.NewRedis(client, log), nil

	case "memory", "":
		return broker.NewLocal(), nil
	}
	return nil, fmt.Errorf("%w: unknown broker %q", config.ErrConfiguration, cfg.Broker)
}

// NewVerifier builds the token verifier: JWKS when a key set URL is
// configured, otherwise the shared HMAC secret
func NewVerifier(ctx context.Context, cfg config.Config, log *zap.Logger) (*utils.TokenVerifier, error) {
	if cfg.JWTJWKSURL != "" {
		return utils.NewJWKSVerifier(ctx, cfg.JWTJWKSURL, cfg.JWTIssuer, log)
	}
	return utils.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
}
