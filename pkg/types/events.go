package types

import (
	"encoding/json"
	"time"
)

// Event is the wire envelope for every message crossing the WebSocket.
// Data stays raw until the event name selects a payload type, so one
// malformed payload never poisons the envelope decode.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an envelope. Marshal failures are reported
// to the caller rather than producing a half-built event.
func NewEvent(name string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return &Event{Name: name, Data: data}, nil
}

// PresenceSnapshot is the payload of EventGetOnlineUsers: the identifiers of
// every currently registered user.
type PresenceSnapshot struct {
	OnlineUsers []string  `json:"onlineUsers"`
	At          time.Time `json:"at"`
}
