package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/realtime"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated connection")
	ErrUnknownEventKind = errors.New("unknown session event kind")
	ErrInvalidSession   = errors.New("invalid session id")
)

type Groups interface {
	IdentityOf(connID string) (auth.Identity, error)
	Join(connID, group string, requester auth.Identity) error
	Leave(connID, group string)
	SendToGroup(group, event string, payload any) int
}

// Service fans session and queue state changes out to session groups.
// Any authenticated connection may observe any session.
type Service struct {
	groups Groups
	log    *slog.Logger
	now    func() time.Time
}

func NewService(groups Groups, log *slog.Logger) *Service {
	return &Service{groups: groups, log: log, now: time.Now}
}

func (s *Service) JoinSession(_ context.Context, connID string, sessionID int) error {
	if sessionID <= 0 {
		return ErrInvalidSession
	}
	id, err := s.groups.IdentityOf(connID)
	if err != nil {
		return err
	}
	if id.IsZero() {
		return ErrUnauthenticated
	}
	return s.groups.Join(connID, realtime.SessionGroup(sessionID), id)
}

func (s *Service) LeaveSession(_ context.Context, connID string, sessionID int) error {
	s.groups.Leave(connID, realtime.SessionGroup(sessionID))
	return nil
}

// Notify must be called only after the triggering write has committed.
// It never blocks on subscribers and returns how many accepted the event.
func (s *Service) Notify(_ context.Context, sessionID int, kind EventKind, payload json.RawMessage) (int, error) {
	if sessionID <= 0 {
		return 0, ErrInvalidSession
	}
	if _, ok := ParseEventKind(string(kind)); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	delivered := s.groups.SendToGroup(realtime.SessionGroup(sessionID), string(kind), Event{
		SessionID:  sessionID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	})
	s.log.Debug("session event fanned out", "session_id", sessionID, "kind", kind, "delivered", delivered)
	return delivered, nil
}
