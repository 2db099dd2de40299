package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/config"
	"clinic-realtime/internal/db"
	"clinic-realtime/internal/presence"
	"clinic-realtime/internal/server"

	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Message store (PostgreSQL, or memory for local runs)
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Presence (Redis, or the local registry)
	var tracker presence.Tracker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		tracker = presence.NewRedisTracker(redisClient)
		log.Info("Connected to Redis", "addr", cfg.RedisAddr)
	}

	// 4. Realtime core
	app := server.NewApp(ctx, cfg, store, tracker, log)
	defer app.Registry.Close()

	srv := &http.Server{Addr: cfg.Addr, Handler: app.Handler}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", cfg.Addr, "realtime_prefix", cfg.RealtimePathPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	// Hijacked websocket connections are not tracked by Shutdown; the
	// deferred registry close terminates them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (chat.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("DB_DSN is not set, messages are kept in memory only")
		return chat.NewMemoryStore(), func() {}, nil
	}

	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	log.Info("Connected to PostgreSQL")

	if cfg.DBAutoMigrate {
		if err := database.AutoMigrate(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		log.Info("Database schema initialized")
	}

	closeFn := func() {
		log.Info("Closing PostgreSQL...")
		_ = database.Close()
	}
	return chat.NewRepository(database.Conn), closeFn, nil
}
