package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"clinic-realtime/internal/auth"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Handler struct {
	service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// GetChatHistory lets a reconnecting participant fetch what it missed.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := strconv.Atoi(chi.URLParam(r, "conversationID"))
	if err != nil || conversationID <= 0 {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	msgs, err := h.service.History(r.Context(), id, conversationID, limit)
	switch {
	case errors.Is(err, ErrConversationNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrNotParticipant):
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case err != nil:
		h.log.Error("load chat history", "conversation_id", conversationID, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	if msgs == nil {
		msgs = []Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}
