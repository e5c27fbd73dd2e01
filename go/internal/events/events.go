package events

import (
	"encoding/json"
	"time"
)

// GameEvent is the envelope for every message on a session's channel.
// Payloads are carried as raw JSON and decoded by type.
type GameEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Session UUID
	Type      EventType       `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// EventType represents the kind of game event.
type EventType string

const (
	EventTypeStateUpdate   EventType = "StateUpdate"
	EventTypePlayerJoined  EventType = "PlayerJoined"
	EventTypePlayerUpdated EventType = "PlayerUpdated"
	EventTypePlayerLeft    EventType = "PlayerLeft"
)

// ParseEventPayload parses event data into the payload struct for its type.
func ParseEventPayload(event *GameEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeStateUpdate:
		var payload StateUpdatePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePlayerJoined:
		var payload PlayerJoinedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePlayerUpdated:
		var payload PlayerUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePlayerLeft:
		var payload PlayerLeftPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
