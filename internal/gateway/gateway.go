// Package gateway wires the realtime gateway together and runs it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"vatochito/gateway/internal/broker"
	"vatochito/gateway/internal/calls"
	"vatochito/gateway/internal/config"
	"vatochito/gateway/internal/handlers"
	"vatochito/gateway/internal/messages"
	"vatochito/gateway/internal/middleware"
	"vatochito/gateway/internal/presence"
	"vatochito/gateway/internal/resilience"
	"vatochito/gateway/internal/routes"
	"vatochito/gateway/internal/tasks"
	"vatochito/gateway/internal/telemetry"
	ws "vatochito/gateway/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Store is everything the gateway persists or looks up
type Store interface {
	messages.Store
	calls.Store
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
}

// Deps are the backing services the gateway runs on
type Deps struct {
	Store    Store
	Broker   broker.Broker
	Verifier middleware.Verifier
}

type ringScheduler interface {
	calls.Scheduler
	Close() error
}

// Gateway is a configured gateway instance
type Gateway struct {
	cfg config.Config
	log *zap.Logger

	App      *fiber.App
	Hub      *ws.Hub
	Messages *messages.Pipeline
	Calls    *calls.Manager
	Typing   *presence.Tracker

	scheduler ringScheduler
	worker    *tasks.AsynqScheduler
	cancel    context.CancelFunc
	ctx       context.Context
}

// New builds the gateway from cfg and deps
func New(cfg config.Config, deps Deps, log *zap.Logger) (*Gateway, error) {
	if deps.Store == nil || deps.Verifier == nil {
		return nil, errors.New("gateway: store and verifier are required")
	}

	meter := otel.Meter(telemetry.ScopeName)
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("gateway: metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{cfg: cfg, log: log, ctx: ctx, cancel: cancel}

	g.Hub = ws.NewHub(deps.Broker, metrics, log)
	if err := telemetry.ObserveGauges(meter, g.Hub.Stats); err != nil {
		cancel()
		return nil, fmt.Errorf("gateway: gauges: %w", err)
	}

	guard := resilience.NewGuard(resilience.Config{Name: "store", Timeout: cfg.StoreTimeout}, log)
	g.Messages = messages.NewPipeline(deps.Store, deps.Store, g.Hub, guard, log)
	g.Calls = calls.NewManager(deps.Store, deps.Store, g.Hub, guard, cfg.RingTimeout, log)
	g.Typing = presence.NewTracker(g.Hub, cfg.TypingTTL, log)

	switch cfg.Scheduler {
	case "asynq":
		worker, err := tasks.NewAsynqScheduler(cfg.RedisURL, g.Calls.Expire, log)
		if err != nil {
			cancel()
			return nil, err
		}
		g.worker = worker
		g.scheduler = worker
	default:
		g.scheduler = tasks.NewLocalScheduler(g.Calls.Expire, log)
	}
	g.Calls.UseScheduler(g.scheduler)

	router := ws.NewRouter(g.Hub, g.Messages, g.Calls, g.Typing, metrics, log)
	h := handlers.New(ctx, g.Hub, router, g.Messages, cfg.SendBuffer, cfg.AppName, log)

	g.App = fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
	})
	g.App.Use(recover.New())
	g.App.Use(middleware.CorrelationID())
	g.App.Use(logger.New())
	g.App.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))

	routes.SetupRoutes(g.App, h, routes.Deps{
		Verifier:       deps.Verifier,
		Members:        deps.Store,
		PublishKeyHash: cfg.PublishKeyHash,
		WSRateLimit:    cfg.WSRateLimit,
	})

	return g, nil
}

// Run listens on the configured port until ctx is done
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+g.cfg.Port)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the gateway on ln until ctx is done, then shuts everything
// down: sessions get a close frame, background jobs stop and the listener
// closes.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if err := g.Hub.Start(g.ctx); err != nil {
		return fmt.Errorf("gateway: subscribe to broker: %w", err)
	}
	if err := g.Typing.Start(g.ctx); err != nil {
		return fmt.Errorf("gateway: typing sweep: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.log.Info("gateway listening", zap.String("addr", ln.Addr().String()))
		return g.App.Listener(ln)
	})

	if g.worker != nil {
		eg.Go(func() error {
			return g.worker.Run(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		g.log.Info("shutting down gateway")

		g.Hub.Close()
		g.cancel()

		shutdownErr := g.App.ShutdownWithTimeout(shutdownTimeout)
		if err := g.Typing.Stop(); err != nil {
			g.log.Warn("typing sweep shutdown", zap.Error(err))
		}
		if err := g.scheduler.Close(); err != nil {
			g.log.Warn("scheduler shutdown", zap.Error(err))
		}
		return shutdownErr
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
