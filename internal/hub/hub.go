package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/presence"
	"clinic-realtime/internal/realtime"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const presenceTimeout = 2 * time.Second

type ChatService interface {
	SendMessage(ctx context.Context, conversationID int, sender auth.Identity, receiverID, content string) (chat.Message, error)
	JoinChat(ctx context.Context, connID string, conversationID int) error
	LeaveChat(ctx context.Context, connID string, conversationID int) error
}

type SessionService interface {
	JoinSession(ctx context.Context, connID string, sessionID int) error
	LeaveSession(ctx context.Context, connID string, sessionID int) error
}

type Config struct {
	AllowedOrigins    []string
	ReadLimit         int64
	SendRatePerSecond float64
	SendBurst         int
}

// Hub terminates realtime websocket connections for the chat and session
// channels and routes their commands to the domain services.
type Hub struct {
	ctx      context.Context
	registry *realtime.Registry
	chat     ChatService
	sessions SessionService
	presence presence.Tracker
	upgrader websocket.Upgrader
	validate *validator.Validate
	cfg      Config
	log      *slog.Logger

	chatChannel    *channel
	sessionChannel *channel
}

// NewHub binds connection lifetimes to ctx: in-flight persists keep running
// after their sender disconnects, until ctx is done.
func NewHub(ctx context.Context, registry *realtime.Registry, chatSvc ChatService, sessions SessionService, tracker presence.Tracker, cfg Config, log *slog.Logger) *Hub {
	h := &Hub{
		ctx:      ctx,
		registry: registry,
		chat:     chatSvc,
		sessions: sessions,
		presence: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
	h.chatChannel = &channel{name: "chat", hub: h, commands: map[string]commandFunc{
		ActionSendMessage: h.sendMessage,
		ActionJoinChat:    h.joinChat,
		ActionLeaveChat:   h.leaveChat,
	}}
	h.sessionChannel = &channel{name: "session", hub: h, commands: map[string]commandFunc{
		ActionJoinSession:  h.joinSession,
		ActionLeaveSession: h.leaveSession,
	}}
	return h
}

// originChecker keeps gorilla's same-origin default when no allow-list is set.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := lo.SliceToMap(allowed, func(o string) (string, struct{}) { return o, struct{}{} })
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	h.serve(h.chatChannel, w, r)
}

func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	h.serve(h.sessionChannel, w, r)
}

func (h *Hub) serve(ch *channel, w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "channel", ch.name, "subject", id.SubjectID, "error", err)
		return
	}

	var limiter *rate.Limiter
	if h.cfg.SendRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.SendRatePerSecond), max(h.cfg.SendBurst, 1))
	}
	client := realtime.NewClient(uuid.NewString(), id, conn, ch, realtime.ClientOptions{
		ReadLimit: h.cfg.ReadLimit,
		Limiter:   limiter,
	}, h.log)

	if err := h.registry.Register(client.ID(), id, client); err != nil {
		h.log.Error("register connection", "conn_id", client.ID(), "error", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"))
		conn.Close()
		return
	}
	h.markConnected(client)
	h.log.Info("client connected", "channel", ch.name, "conn_id", client.ID(), "subject", id.SubjectID, "role", id.Role)

	go client.WritePump()
	go client.ReadPump(h.ctx)
}

func (h *Hub) disconnected(c *realtime.Client) {
	h.registry.Unregister(c.ID())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), presenceTimeout)
	defer cancel()
	if err := h.presence.Disconnected(ctx, c.Identity().SubjectID, c.ID()); err != nil {
		h.log.Warn("presence update failed", "conn_id", c.ID(), "error", err)
	}
	h.log.Info("client disconnected", "conn_id", c.ID(), "subject", c.Identity().SubjectID)
}

func (h *Hub) markConnected(c *realtime.Client) {
	ctx, cancel := context.WithTimeout(h.ctx, presenceTimeout)
	defer cancel()
	if err := h.presence.Connected(ctx, c.Identity().SubjectID, c.ID()); err != nil {
		h.log.Warn("presence update failed", "conn_id", c.ID(), "error", err)
	}
}
