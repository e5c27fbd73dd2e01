package models

import (
	"time"

	"github.com/google/uuid"
)

// GamePhase defines the stage of game flow a session is in.
type GamePhase string

const (
	PhaseWelcome       GamePhase = "welcome"
	PhaseWaiting       GamePhase = "waiting"
	PhaseQuestionSetup GamePhase = "question_setup"
	PhaseSponsor1      GamePhase = "sponsor1"
	PhaseQuestion      GamePhase = "question"
	PhaseResults       GamePhase = "results"
	PhaseSponsor2      GamePhase = "sponsor2"
	PhasePodium        GamePhase = "podium"
	PhaseFinal         GamePhase = "final"
	PhaseUnknown       GamePhase = "unknown"
)

// phaseOrder is the host-driven forward progression. Restart is the only
// transition that moves backwards (back to welcome/waiting).
var phaseOrder = map[GamePhase]int{
	PhaseWelcome:       0,
	PhaseWaiting:       1,
	PhaseQuestionSetup: 2,
	PhaseSponsor1:      3,
	PhaseQuestion:      4,
	PhaseResults:       5,
	PhaseSponsor2:      6,
	PhasePodium:        7,
	PhaseFinal:         8,
}

// ParsePhase maps a raw phase string to a GamePhase.
// Unrecognized values return PhaseUnknown and false.
func ParsePhase(s string) (GamePhase, bool) {
	p := GamePhase(s)
	if _, ok := phaseOrder[p]; !ok {
		return PhaseUnknown, false
	}
	return p, true
}

// Order returns the position of the phase in the forward progression,
// or -1 for unknown phases.
func (p GamePhase) Order() int {
	o, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return o
}

// Valid reports whether the phase is one of the enumerated states.
func (p GamePhase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// ShuffledOptions is the per-question snapshot of answer options in the
// order they are presented, plus the index of the correct option within
// that order.
type ShuffledOptions struct {
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// Session represents one running game, owned by a host.
type Session struct {
	ID                uuid.UUID        `json:"id"`
	Phase             GamePhase        `json:"phase"`
	CurrentQuestion   int              `json:"current_question"`
	QuestionStartedAt *time.Time       `json:"question_started_at,omitempty"`
	ShuffledOptions   *ShuffledOptions `json:"shuffled_options,omitempty"`
	NumSponsorBreaks  int              `json:"num_sponsor_breaks"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
}
