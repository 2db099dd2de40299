package server

import (
	"context"
	"log/slog"
	"net/http"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/config"
	"clinic-realtime/internal/hub"
	myMiddleware "clinic-realtime/internal/middleware"
	"clinic-realtime/internal/presence"
	"clinic-realtime/internal/realtime"
	"clinic-realtime/internal/session"
)

// App is the assembled realtime core.
type App struct {
	Handler  http.Handler
	Registry *realtime.Registry
	Chat     *chat.Service
	Sessions *session.Service
	Tokens   *auth.TokenService
}

// NewApp wires every component around store. A nil tracker answers presence
// from the local registry.
func NewApp(ctx context.Context, cfg config.Config, store chat.Store, tracker presence.Tracker, log *slog.Logger) *App {
	registry := realtime.NewRegistry(log)
	if tracker == nil {
		tracker = presence.NewLocalTracker(registry)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	chatService := chat.NewService(store, registry, chat.Config{
		MaxContentLength: cfg.MaxMessageLength,
		PersistTimeout:   cfg.PersistTimeout,
	}, log)
	sessionService := session.NewService(registry, log)

	h := hub.NewHub(ctx, registry, chatService, sessionService, tracker, hub.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		ReadLimit:         cfg.ReadLimit(),
		SendRatePerSecond: cfg.SendRatePerSecond,
		SendBurst:         cfg.SendBurst,
	}, log)

	handler := NewRouter(Deps{
		Auth:               myMiddleware.NewAuthMiddleware(tokens, cfg.RealtimePathPrefix, log),
		Hub:                h,
		Chat:               chat.NewHandler(chatService, log),
		Sessions:           session.NewHandler(sessionService, log),
		Presence:           presence.NewHandler(tracker, log),
		Log:                log,
		RealtimePathPrefix: cfg.RealtimePathPrefix,
		AllowedOrigins:     cfg.AllowedOrigins,
		InternalAPIKey:     cfg.InternalAPIKey,
	})

	return &App{
		Handler:  handler,
		Registry: registry,
		Chat:     chatService,
		Sessions: sessionService,
		Tokens:   tokens,
	}
}
