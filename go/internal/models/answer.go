package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer represents one accepted submission. At most one row exists per
// (player, session, question) triple; rows are never mutated after insert.
type Answer struct {
	PlayerID       uuid.UUID `json:"player_id"`
	SessionID      uuid.UUID `json:"session_id"`
	QuestionIndex  int       `json:"question_index"`
	Answer         string    `json:"answer"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	PointsEarned   int       `json:"points_earned"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// QuestionResults is the derived outcome of one question: the
// correct/wrong partitions and the fastest/slowest responders, where
// fastest/slowest are the first and last entries in ascending
// response-time order.
type QuestionResults struct {
	QuestionIndex int      `json:"question_index"`
	Correct       []Answer `json:"correct"`
	Wrong         []Answer `json:"wrong"`
	Fastest       *Answer  `json:"fastest,omitempty"`
	Slowest       *Answer  `json:"slowest,omitempty"`
}
