package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pushwire/pushwire-go/internal/config"
	"github.com/pushwire/pushwire-go/internal/logging"
	"github.com/pushwire/pushwire-go/internal/ops"
	"github.com/pushwire/pushwire-go/internal/telemetry"
	"github.com/pushwire/pushwire-go/pkg/client"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Command line flags
	configFile := flag.String("config", "", "Path to YAML configuration file")
	serverURL := flag.String("server", "", "Push server URL (overrides config)")
	opsAddr := flag.String("ops-addr", "", "Ops endpoint address (overrides config)")
	userID := flag.Int64("user", 0, "Subscriber id (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, *serverURL, *opsAddr, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *userID != 0 {
		cfg.Server.UserID = *userID
	}

	// Set up logging
	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Component("bridge")

	// Root context, cancelled on SIGINT or SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Caught signal, initiating shutdown")
		cancel()
	}()

	// Set up telemetry
	telShutdown, err := telemetry.Setup(ctx, cfg.ToTelemetryConfig())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
		telShutdown = func(context.Context) error { return nil }
	}

	// Create the transport client
	svc := client.New(cfg.ToClientConfig())

	unsubscribeStatus := svc.SubscribeStatus(func(status client.Status) {
		event := logger.Info()
		if status.Err != nil {
			event = logger.Warn().Err(status.Err)
		}
		event.Str("state", string(status.State)).Msg("Connection status changed")
	})
	defer unsubscribeStatus()

	unsubscribe := svc.Subscribe(func(data json.RawMessage) {
		event := logger.Info()
		if len(data) > 0 {
			event = event.RawJSON("payload", data)
		}
		event.Msg("Notification received")
	})
	defer unsubscribe()

	// Create the ops server
	opsServer := ops.NewServer(cfg.ToOpsConfig(), svc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return opsServer.Start(ctx)
	})

	svc.Connect(cfg.Server.UserID)

	logger.Info().Str("server", cfg.Server.URL).Int64("user_id", cfg.Server.UserID).Msg("Bridge started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Bridge error")
	}

	// Graceful shutdown
	svc.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Ops server shutdown error")
	}
	if err := telShutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Telemetry shutdown error")
	}

	logger.Info().Msg("Bridge stopped")
}
