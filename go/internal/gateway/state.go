package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/nycdan-n2p/trivia-live/go/internal/session"
)

// SessionStore defines what the gateway needs from the session state machine.
type SessionStore interface {
	CreateSession(ctx context.Context, numSponsorBreaks int) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	AdvancePhase(ctx context.Context, sessionID uuid.UUID, req session.AdvancePhaseRequest) (*models.Session, error)
	Restart(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	ApplyRemoteState(sessionID uuid.UUID, payload events.StateUpdatePayload)
}

// RosterStore defines what the gateway needs from the player roster.
type RosterStore interface {
	Join(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error)
	Snapshot(sessionID uuid.UUID) []models.Player
	Reload(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error)
	OnPlayerJoin(sessionID uuid.UUID, event events.PlayerJoinedPayload)
	OnPlayerUpdate(sessionID uuid.UUID, event events.PlayerUpdatedPayload)
	OnPlayerLeave(sessionID uuid.UUID, event events.PlayerLeftPayload)
}

// GameStateResponse is the full snapshot a screen uses to resynchronize after
// a reload or reconnect.
type GameStateResponse struct {
	SessionID         string       `json:"session_id"`
	Phase             string       `json:"phase"`
	CurrentQuestion   int          `json:"current_question"`
	QuestionStartedAt *time.Time   `json:"question_started_at,omitempty"`
	Options           []string     `json:"options,omitempty"`
	CorrectIndex      *int         `json:"correct_index,omitempty"`
	NumSponsorBreaks  int          `json:"num_sponsor_breaks"`
	Version           int64        `json:"version"`
	Players           []PlayerInfo `json:"players"`
	PlayerCount       int          `json:"player_count"`
}

// PlayerInfo is one roster entry in a state or players response.
type PlayerInfo struct {
	PlayerID     string    `json:"player_id"`
	Name         string    `json:"name"`
	Score        int       `json:"score"`
	HasSubmitted bool      `json:"has_submitted"`
	JoinedAt     time.Time `json:"joined_at"`
}

// AnswerInfo is one submitted answer in a results response.
type AnswerInfo struct {
	PlayerID       string `json:"player_id"`
	Answer         string `json:"answer"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	PointsEarned   int    `json:"points_earned"`
}

// ResultsResponse is the aggregate for one finished question.
type ResultsResponse struct {
	SessionID     string       `json:"session_id"`
	QuestionIndex int          `json:"question_index"`
	Correct       []AnswerInfo `json:"correct"`
	Wrong         []AnswerInfo `json:"wrong"`
	Fastest       *AnswerInfo  `json:"fastest,omitempty"`
	Slowest       *AnswerInfo  `json:"slowest,omitempty"`
}

// ConnectionHealthResponse reports the gateway's channel health for a session.
type ConnectionHealthResponse struct {
	SessionID         string `json:"session_id"`
	State             string `json:"state"`
	Connected         bool   `json:"connected"`
	Healthy           bool   `json:"healthy"`
	FallbackPolling   bool   `json:"fallback_polling"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// GameStateProvider assembles resync snapshots from the session and roster
// apps.
type GameStateProvider struct {
	sessions SessionStore
	roster   RosterStore
}

// NewGameStateProvider creates a provider over the given apps.
func NewGameStateProvider(sessions SessionStore, roster RosterStore) *GameStateProvider {
	return &GameStateProvider{
		sessions: sessions,
		roster:   roster,
	}
}

// GetGameState returns the complete snapshot for one session.
func (p *GameStateProvider) GetGameState(ctx context.Context, sessionID uuid.UUID) (*GameStateResponse, error) {
	sess, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	players := p.roster.Snapshot(sessionID)
	resp := &GameStateResponse{
		SessionID:         sess.ID.String(),
		Phase:             string(sess.Phase),
		CurrentQuestion:   sess.CurrentQuestion,
		QuestionStartedAt: sess.QuestionStartedAt,
		NumSponsorBreaks:  sess.NumSponsorBreaks,
		Version:           sess.Version,
		Players:           toPlayerInfos(players),
		PlayerCount:       len(players),
	}
	if sess.ShuffledOptions != nil {
		idx := sess.ShuffledOptions.CorrectIndex
		resp.Options = sess.ShuffledOptions.Options
		resp.CorrectIndex = &idx
	}
	return resp, nil
}

func toPlayerInfos(players []models.Player) []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, PlayerInfo{
			PlayerID:     p.ID.String(),
			Name:         p.Name,
			Score:        p.Score,
			HasSubmitted: p.HasSubmitted,
			JoinedAt:     p.JoinedAt,
		})
	}
	return infos
}

func toAnswerInfo(a *models.Answer) *AnswerInfo {
	if a == nil {
		return nil
	}
	return &AnswerInfo{
		PlayerID:       a.PlayerID.String(),
		Answer:         a.Answer,
		Correct:        a.Correct,
		ResponseTimeMs: a.ResponseTimeMs,
		PointsEarned:   a.PointsEarned,
	}
}

func toAnswerInfos(answers []models.Answer) []AnswerInfo {
	infos := make([]AnswerInfo, 0, len(answers))
	for i := range answers {
		infos = append(infos, *toAnswerInfo(&answers[i]))
	}
	return infos
}
