package server

import (
	"log/slog"
	"net/http"
	"strings"

	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/hub"
	myMiddleware "clinic-realtime/internal/middleware"
	"clinic-realtime/internal/presence"
	"clinic-realtime/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type Deps struct {
	Auth     *myMiddleware.AuthMiddleware
	Hub      *hub.Hub
	Chat     *chat.Handler
	Sessions *session.Handler
	Presence *presence.Handler
	Log      *slog.Logger

	RealtimePathPrefix string
	AllowedOrigins     []string
	InternalAPIKey     string
}

func NewRouter(d Deps) http.Handler {
	prefix := "/" + strings.Trim(d.RealtimePathPrefix, "/")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Handle)

		// WebSocket (Real-time)
		r.Get(prefix+"/chat", d.Hub.ServeChat)
		r.Get(prefix+"/session", d.Hub.ServeSession)

		r.Get("/api/conversations/{conversationID}/messages", d.Chat.GetChatHistory)
		r.Get("/api/presence/{subjectID}", d.Presence.GetPresence)
	})

	// Called by the booking/session layer after a committed write.
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.InternalKey(d.InternalAPIKey))
		r.Post("/internal/sessions/{sessionID}/events", d.Sessions.Notify)
	})

	opts := cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	}
	if len(d.AllowedOrigins) == 0 {
		// An empty list means no cross-origin caller, not any caller.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts).Handler(r)
}
