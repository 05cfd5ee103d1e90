package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"room-relay/internal/api/routes"
	"room-relay/internal/config"
	"room-relay/internal/database"
	"room-relay/internal/services"
	"room-relay/internal/websocket"
	"room-relay/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	log.Info("Starting room relay", "addr", cfg.Server.Addr(), "redis", cfg.Redis.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := database.NewRedisConnection(ctx, cfg.Redis, log.Component("redis"))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	redisService := services.NewRedisService(redisClient, log.Component("redis"))
	defer redisService.Close()

	hub := websocket.NewHub(redisService, websocket.HubConfig{
		Client: websocket.ClientConfig{
			WriteWait:      cfg.Relay.WriteWait,
			PongWait:       cfg.Relay.PongWait,
			MaxMessageSize: cfg.Relay.MaxMessageSize,
			SendBufferSize: cfg.Relay.SendBufferSize,
		},
		Bridge: websocket.BridgeConfig{
			SubscribeTimeout:     cfg.Relay.SubscribeTimeout,
			PublishTimeout:       cfg.Relay.PublishTimeout,
			PublishQueueSize:     cfg.Relay.PublishQueueSize,
			RetryInitialInterval: cfg.Relay.RetryInitialInterval,
			RetryMaxInterval:     cfg.Relay.RetryMaxInterval,
			HealthCheckInterval:  cfg.Relay.HealthCheckInterval,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, log.Logger)

	router := routes.NewRouter(hub, redisService, redisService, cfg.Relay, log.Logger)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return hub.Bridge().Run(gctx)
	})
	g.Go(func() error {
		log.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("Server stopped")
	return err
}
