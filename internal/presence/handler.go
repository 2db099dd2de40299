package presence

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type status struct {
	SubjectID string `json:"subjectId"`
	Online    bool   `json:"online"`
}

type Handler struct {
	tracker Tracker
	log     *slog.Logger
}

func NewHandler(t Tracker, log *slog.Logger) *Handler {
	return &Handler{tracker: t, log: log}
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(chi.URLParam(r, "subjectID"))
	if subjectID == "" {
		http.Error(w, "missing subject id", http.StatusBadRequest)
		return
	}

	online, err := h.tracker.IsOnline(r.Context(), subjectID)
	if err != nil {
		h.log.Error("presence lookup", "subject", subjectID, "error", err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status{SubjectID: subjectID, Online: online})
}
