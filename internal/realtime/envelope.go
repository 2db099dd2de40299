package realtime

import "encoding/json"

// Server-to-client events that are not owned by a domain service.
const (
	EventJoined = "Joined"
	EventLeft   = "Left"
	EventError  = "Error"
)

// Envelope is the frame pushed to every client.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ErrorData is the payload of an Error event.
type ErrorData struct {
	Action string `json:"action,omitempty"`
	Error  string `json:"error"`
}

// GroupData is the payload of Joined/Left acknowledgements.
type GroupData struct {
	Group string `json:"group"`
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: payload})
}
