package answers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Scoring constants: a correct answer starts at MaxPoints and loses
// DecayPerSecond for every full second of response time, floored at
// MinPoints.
const (
	MaxPoints      = 1000
	MinPoints      = 200
	DecayPerSecond = 10
)

// AnswerRepository defines what the submission guard needs from the store.
type AnswerRepository interface {
	FindAnswers(ctx context.Context, playerID, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error)
	SubmitAnswerAtomic(ctx context.Context, req InsertAnswerRequest) error
	InsertAnswer(ctx context.Context, req InsertAnswerRequest) error
	IncrementPlayerScore(ctx context.Context, playerID uuid.UUID, points int) error
}

// PlayerReader resolves a player so the accepted submission can be
// broadcast with its updated score.
type PlayerReader interface {
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// Broadcaster publishes player updates on the session's pub/sub channel.
type Broadcaster interface {
	BroadcastPlayerUpdate(ctx context.Context, sessionID uuid.UUID, payload events.PlayerUpdatedPayload) error
}

// App enforces at-most-one accepted answer per (player, question) pair.
// The duplicate pre-check is the fast path; the store's uniqueness
// constraint on the triple is the final backstop for concurrent submits.
type App struct {
	repo    AnswerRepository
	players PlayerReader
	channel Broadcaster
}

// NewApp creates a new answer submission App.
func NewApp(repo AnswerRepository, players PlayerReader, channel Broadcaster) *App {
	return &App{
		repo:    repo,
		players: players,
		channel: channel,
	}
}

// SubmitRequest carries one answer submission.
type SubmitRequest struct {
	PlayerID       uuid.UUID `json:"player_id"`
	SessionID      uuid.UUID `json:"session_id"`
	QuestionIndex  int       `json:"question_index"`
	Answer         string    `json:"answer"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// ComputePoints applies the deterministic scoring rule: wrong answers earn
// nothing; correct answers earn max(200, 1000 - floor(ms/1000)*10).
func ComputePoints(correct bool, responseTimeMs int64) int {
	if !correct {
		return 0
	}
	points := MaxPoints - int(responseTimeMs/1000)*DecayPerSecond
	if points < MinPoints {
		return MinPoints
	}
	return points
}

// Submit records an answer with at-most-once semantics. The primary path
// persists the answer and the score credit atomically; if the atomic
// operation fails for any reason other than a uniqueness violation, the
// degraded two-step fallback runs instead. A failed score credit after a
// successful insert does not fail the submission; the inconsistency is
// logged for out-of-band reconciliation.
func (a *App) Submit(ctx context.Context, req SubmitRequest) (*models.Answer, error) {
	if req.QuestionIndex < 0 {
		return nil, fmt.Errorf("%w: question index must be >= 0, got %d", ErrInvalidRequest, req.QuestionIndex)
	}
	if req.ResponseTimeMs < 0 {
		return nil, fmt.Errorf("%w: response time must be >= 0, got %d", ErrInvalidRequest, req.ResponseTimeMs)
	}

	existing, err := a.repo.FindAnswers(ctx, req.PlayerID, req.SessionID, req.QuestionIndex)
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrDuplicateSubmission
	}

	points := ComputePoints(req.Correct, req.ResponseTimeMs)
	insert := InsertAnswerRequest{
		PlayerID:       req.PlayerID,
		SessionID:      req.SessionID,
		QuestionIndex:  req.QuestionIndex,
		Answer:         req.Answer,
		Correct:        req.Correct,
		ResponseTimeMs: req.ResponseTimeMs,
		PointsEarned:   points,
	}

	if err := a.persist(ctx, insert); err != nil {
		return nil, err
	}

	answer := &models.Answer{
		PlayerID:       req.PlayerID,
		SessionID:      req.SessionID,
		QuestionIndex:  req.QuestionIndex,
		Answer:         req.Answer,
		Correct:        req.Correct,
		ResponseTimeMs: req.ResponseTimeMs,
		PointsEarned:   points,
	}

	a.broadcastUpdate(ctx, req)

	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("player_id", req.PlayerID.String()).
		Int("question_index", req.QuestionIndex).
		Bool("correct", req.Correct).
		Int("points", points).
		Msg("answer accepted")

	return answer, nil
}

func (a *App) persist(ctx context.Context, req InsertAnswerRequest) error {
	atomicErr := a.repo.SubmitAnswerAtomic(ctx, req)
	if atomicErr == nil {
		return nil
	}
	if errors.Is(atomicErr, ErrDuplicateSubmission) {
		return ErrDuplicateSubmission
	}

	log.Warn().
		Err(atomicErr).
		Str("player_id", req.PlayerID.String()).
		Int("question_index", req.QuestionIndex).
		Msg("atomic answer submission failed, falling back to two-step path")

	if err := a.repo.InsertAnswer(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("%w: atomic: %v, fallback insert: %v", ErrSubmissionFailed, atomicErr, err)
	}

	if err := a.repo.IncrementPlayerScore(ctx, req.PlayerID, req.PointsEarned); err != nil {
		// Answer is durably recorded, only the score credit is missing.
		// The submission stands; log the gap for reconciliation.
		log.Error().
			Err(err).
			Str("player_id", req.PlayerID.String()).
			Str("session_id", req.SessionID.String()).
			Int("question_index", req.QuestionIndex).
			Int("points", req.PointsEarned).
			Msg("answer recorded but score credit failed; needs reconciliation")
	}
	return nil
}

func (a *App) broadcastUpdate(ctx context.Context, req SubmitRequest) {
	player, err := a.players.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		log.Warn().Err(err).Str("player_id", req.PlayerID.String()).Msg("could not load player for update broadcast")
		return
	}

	payload := events.PlayerUpdatedPayload{
		PlayerID:        player.ID.String(),
		PlayerName:      player.Name,
		Score:           player.Score,
		HasSubmitted:    player.HasSubmitted,
		CurrentQuestion: player.CurrentQuestion,
		UpdatedAt:       player.UpdatedAt,
	}
	if err := a.channel.BroadcastPlayerUpdate(ctx, req.SessionID, payload); err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID.String()).Msg("failed to broadcast player update")
	}
}
