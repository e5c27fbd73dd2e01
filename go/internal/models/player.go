package models

import (
	"time"

	"github.com/google/uuid"
)

// Player represents one participant in a session. At most one row exists
// per (session, name) pair; join is idempotent on name collision.
type Player struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	Name            string    `json:"name"`
	Score           int       `json:"score"`
	Phase           GamePhase `json:"phase"`
	CurrentQuestion int       `json:"current_question"`
	HasSubmitted    bool      `json:"has_submitted"`
	JoinedAt        time.Time `json:"joined_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
