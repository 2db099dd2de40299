package session

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind doubles as the push event name on the session channel.
type EventKind string

const (
	BookingAdded    EventKind = "BookingAdded"
	QueueUpdated    EventKind = "QueueUpdated"
	SessionStarted  EventKind = "SessionStarted"
	SessionOngoing  EventKind = "SessionOngoing"
	SessionEnded    EventKind = "SessionEnded"
	SessionCanceled EventKind = "SessionCanceled"
)

var kinds = []EventKind{BookingAdded, QueueUpdated, SessionStarted, SessionOngoing, SessionEnded, SessionCanceled}

func ParseEventKind(s string) (EventKind, bool) {
	s = strings.TrimSpace(s)
	for _, k := range kinds {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return "", false
}

// Event is what subscribers of session-{id} receive. It is never stored.
type Event struct {
	SessionID  int             `json:"sessionId"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}
