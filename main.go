package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vatochito/gateway/internal/config"
	"vatochito/gateway/internal/gateway"
	"vatochito/gateway/internal/logger"
	"vatochito/gateway/internal/telemetry"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Error("gateway stopped", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:  cfg.AppName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Stdout:       cfg.OTELStdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Connect to backing services
	store, closeStore, err := gateway.OpenStore(ctx, *cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := gateway.OpenBroker(ctx, *cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("broker shutdown", zap.Error(err))
		}
	}()

	verifier, err := gateway.NewVerifier(ctx, *cfg, log)
	if err != nil {
		return err
	}
	defer verifier.Close()

	g, err := gateway.New(*cfg, gateway.Deps{Store: store, Broker: b, Verifier: verifier}, log)
	if err != nil {
		return err
	}

	log.Info("starting gateway",
		zap.String("app", cfg.AppName),
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.String("broker", cfg.Broker),
		zap.String("scheduler", cfg.Scheduler))
	return g.Run(ctx)
}
