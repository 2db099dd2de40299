package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type notifyRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

type notifyResponse struct {
	Delivered int `json:"delivered"`
}

type Handler struct {
	service  *Service
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{service: s, validate: validator.New(), log: log}
}

// Notify is called by the booking/session layer after its commit.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil || sessionID <= 0 {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := ParseEventKind(req.Kind)
	if !ok {
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	delivered, err := h.service.Notify(r.Context(), sessionID, kind, req.Payload)
	if err != nil {
		if errors.Is(err, ErrUnknownEventKind) || errors.Is(err, ErrInvalidSession) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("notify session", "session_id", sessionID, "error", err)
		http.Error(w, "notify failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(notifyResponse{Delivered: delivered})
}
