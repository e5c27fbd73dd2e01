package events

import (
	"time"
)

// Event payload types shared between the core packages and the gateway.

// StateUpdatePayload is broadcast whenever the host advances the session.
type StateUpdatePayload struct {
	SessionID         string     `json:"session_id"`
	Phase             string     `json:"phase"`
	CurrentQuestion   int        `json:"current_question"`
	QuestionStartedAt *time.Time `json:"question_started_at,omitempty"`
	Options           []string   `json:"options,omitempty"`
	CorrectIndex      *int       `json:"correct_index,omitempty"`
	Version           int64      `json:"version"`
	PlayerCount       int        `json:"player_count"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PlayerJoinedPayload is broadcast when a player joins the roster.
type PlayerJoinedPayload struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	JoinedAt   time.Time `json:"joined_at"`
}

// PlayerUpdatedPayload is broadcast when a player's score or submission
// flag changes.
type PlayerUpdatedPayload struct {
	PlayerID        string    `json:"player_id"`
	PlayerName      string    `json:"player_name"`
	Score           int       `json:"score"`
	HasSubmitted    bool      `json:"has_submitted"`
	CurrentQuestion int       `json:"current_question"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlayerLeftPayload is broadcast when a player is removed from the roster.
type PlayerLeftPayload struct {
	PlayerID string    `json:"player_id"`
	LeftAt   time.Time `json:"left_at"`
}
