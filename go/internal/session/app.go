package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultStaleRetention is how long an idle player row survives before the
// staleness sweep on question entry removes it.
const DefaultStaleRetention = time.Hour

// SessionRepository defines what the session app layer needs from the store.
type SessionRepository interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateSessionFull(ctx context.Context, id uuid.UUID, req FullUpdateRequest) (*models.Session, error)
	UpdateSessionReduced(ctx context.Context, id uuid.UUID, req ReducedUpdateRequest) (*models.Session, error)
}

// Roster defines what the session app needs from the player roster.
type Roster interface {
	ClearAll(ctx context.Context, sessionID uuid.UUID) error
	CleanupStale(ctx context.Context, sessionID uuid.UUID, retention time.Duration) error
	Size(sessionID uuid.UUID) int
}

// Broadcaster publishes state updates on the session's pub/sub channel.
type Broadcaster interface {
	BroadcastStateUpdate(ctx context.Context, sessionID uuid.UUID, payload events.StateUpdatePayload) error
}

// App owns the authoritative session phase state machine. The store is the
// source of truth: in-memory copies change only after a successful persist.
type App struct {
	repo      SessionRepository
	roster    Roster
	channel   Broadcaster
	clock     clockwork.Clock
	retention time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

// NewApp creates a new session App.
func NewApp(repo SessionRepository, roster Roster, channel Broadcaster) *App {
	return &App{
		repo:      repo,
		roster:    roster,
		channel:   channel,
		clock:     clockwork.NewRealClock(),
		retention: DefaultStaleRetention,
		sessions:  make(map[uuid.UUID]*models.Session),
	}
}

// WithClock replaces the clock. For tests.
func (a *App) WithClock(clock clockwork.Clock) *App {
	a.clock = clock
	return a
}

// WithStaleRetention overrides the staleness window used on question entry.
func (a *App) WithStaleRetention(retention time.Duration) *App {
	a.retention = retention
	return a
}

// AdvancePhaseRequest carries one host-driven phase transition. Nil optional
// fields are not updated that round.
type AdvancePhaseRequest struct {
	Phase             models.GamePhase        `json:"phase"`
	QuestionIndex     *int                    `json:"question_index,omitempty"`
	QuestionStartedAt *time.Time              `json:"question_started_at,omitempty"`
	ShuffledOptions   *models.ShuffledOptions `json:"shuffled_options,omitempty"`
	NumSponsorBreaks  *int                    `json:"num_sponsor_breaks,omitempty"`
}

// CreateSession inserts a new session in the welcome phase.
func (a *App) CreateSession(ctx context.Context, numSponsorBreaks int) (*models.Session, error) {
	if numSponsorBreaks < 0 {
		return nil, fmt.Errorf("%w: num sponsor breaks must be >= 0, got %d", ErrInvalidRequest, numSponsorBreaks)
	}

	session, err := a.repo.CreateSession(ctx, CreateSessionRequest{
		ID:               uuid.New(),
		Phase:            models.PhaseWelcome,
		NumSponsorBreaks: numSponsorBreaks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	a.mu.Lock()
	a.sessions[session.ID] = session
	a.mu.Unlock()

	log.Info().Str("session_id", session.ID.String()).Msg("session created")
	return session, nil
}

// GetSession fetches a session from the store and refreshes the local copy.
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessions[id] = session
	a.mu.Unlock()

	return session, nil
}

// ApplyRemoteState merges a state-update event published elsewhere into the
// local copy. Stale versions are ignored; the version counter is the tie
// breaker for out-of-order delivery.
func (a *App) ApplyRemoteState(sessionID uuid.UUID, payload events.StateUpdatePayload) {
	phase, ok := models.ParsePhase(payload.Phase)
	if !ok {
		log.Warn().Str("phase", payload.Phase).Msg("ignoring state update with unknown phase")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, held := a.sessions[sessionID]
	if held && current.Version >= payload.Version {
		return
	}

	updated := models.Session{
		ID:                sessionID,
		Phase:             phase,
		CurrentQuestion:   payload.CurrentQuestion,
		QuestionStartedAt: payload.QuestionStartedAt,
		Version:           payload.Version,
	}
	if held {
		updated.NumSponsorBreaks = current.NumSponsorBreaks
		updated.CreatedAt = current.CreatedAt
		updated.ShuffledOptions = current.ShuffledOptions
	}
	if len(payload.Options) > 0 && payload.CorrectIndex != nil {
		updated.ShuffledOptions = &models.ShuffledOptions{
			Options:      payload.Options,
			CorrectIndex: *payload.CorrectIndex,
		}
	}
	a.sessions[sessionID] = &updated
}

// Current returns the in-memory copy of a session, if one is held.
func (a *App) Current(id uuid.UUID) (*models.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	return s, ok
}

// AdvancePhase applies a host-driven phase transition: validate, persist
// (full field set first, reduced retry on schema rejection), refresh the
// in-memory copy, run the roster side effects for the entered phase, and
// broadcast the new state. On persistence failure the in-memory copy is
// left unchanged.
func (a *App) AdvancePhase(ctx context.Context, sessionID uuid.UUID, req AdvancePhaseRequest) (*models.Session, error) {
	current, err := a.currentOrFetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := a.validateAdvance(current, &req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	updated, err := a.persistAdvance(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessions[sessionID] = updated
	a.mu.Unlock()

	switch updated.Phase {
	case models.PhaseWelcome:
		// A fresh game must not inherit players from the previous one.
		if err := a.roster.ClearAll(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("failed to clear roster on restart: %w", err)
		}
	case models.PhaseQuestion:
		if err := a.roster.CleanupStale(ctx, sessionID, a.retention); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("stale player cleanup failed")
		}
	}

	a.broadcastState(ctx, updated)

	log.Info().
		Str("session_id", sessionID.String()).
		Str("phase", string(updated.Phase)).
		Int("question_index", updated.CurrentQuestion).
		Int64("version", updated.Version).
		Msg("session phase advanced")

	return updated, nil
}

// Restart resets a session to the start of a new game: welcome (which
// clears the roster) followed by waiting, with the question pointer back
// at zero.
func (a *App) Restart(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	zero := 0
	if _, err := a.AdvancePhase(ctx, sessionID, AdvancePhaseRequest{
		Phase:         models.PhaseWelcome,
		QuestionIndex: &zero,
	}); err != nil {
		return nil, fmt.Errorf("restart failed: %w", err)
	}

	session, err := a.AdvancePhase(ctx, sessionID, AdvancePhaseRequest{Phase: models.PhaseWaiting})
	if err != nil {
		return nil, fmt.Errorf("restart failed: %w", err)
	}
	return session, nil
}

func (a *App) currentOrFetch(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	a.mu.RLock()
	current, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if ok {
		return current, nil
	}
	return a.GetSession(ctx, sessionID)
}

func (a *App) validateAdvance(current *models.Session, req *AdvancePhaseRequest) error {
	if !req.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidRequest, req.Phase)
	}
	if req.QuestionIndex != nil && *req.QuestionIndex < 0 {
		return fmt.Errorf("%w: question index must be >= 0, got %d", ErrInvalidRequest, *req.QuestionIndex)
	}

	if req.Phase == models.PhaseQuestion && req.ShuffledOptions == nil && current.ShuffledOptions == nil {
		return fmt.Errorf("%w: entering question phase requires a shuffled-options snapshot", ErrInvalidRequest)
	}

	if req.Phase == models.PhaseSponsor1 || req.Phase == models.PhaseSponsor2 {
		breaks := current.NumSponsorBreaks
		if req.NumSponsorBreaks != nil {
			breaks = *req.NumSponsorBreaks
		}
		if breaks == 0 {
			return fmt.Errorf("%w: session has no sponsor breaks configured", ErrInvalidRequest)
		}
	}

	// The question pointer only moves forward; the sole way back is the
	// explicit restart through welcome/waiting.
	restart := req.Phase == models.PhaseWelcome || req.Phase == models.PhaseWaiting
	if req.QuestionIndex != nil && *req.QuestionIndex < current.CurrentQuestion && !restart {
		return fmt.Errorf("%w: question index cannot decrease from %d to %d", ErrInvalidRequest, current.CurrentQuestion, *req.QuestionIndex)
	}

	return nil
}

func (a *App) persistAdvance(ctx context.Context, sessionID uuid.UUID, req AdvancePhaseRequest) (*models.Session, error) {
	full := FullUpdateRequest{
		Phase:             req.Phase,
		CurrentQuestion:   req.QuestionIndex,
		QuestionStartedAt: req.QuestionStartedAt,
		ShuffledOptions:   req.ShuffledOptions,
		NumSponsorBreaks:  req.NumSponsorBreaks,
	}
	if req.Phase == models.PhaseWelcome && req.ShuffledOptions == nil {
		// Restart discards the previous game's question snapshot.
		full.ClearOptions = true
	}

	updated, fullErr := a.repo.UpdateSessionFull(ctx, sessionID, full)
	if fullErr == nil {
		return updated, nil
	}
	if IsValueError(fullErr) {
		return nil, fmt.Errorf("session update rejected: %w", fullErr)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, fullErr)
	}

	// Older store schemas reject the optional columns. Retry with the
	// reduced field set; omitted fields simply are not updated this round.
	log.Warn().
		Err(fullErr).
		Str("session_id", sessionID.String()).
		Msg("full session update failed, retrying with reduced field set")

	updated, reducedErr := a.repo.UpdateSessionReduced(ctx, sessionID, ReducedUpdateRequest{
		Phase:             req.Phase,
		CurrentQuestion:   req.QuestionIndex,
		QuestionStartedAt: req.QuestionStartedAt,
	})
	if reducedErr != nil {
		return nil, fmt.Errorf("%w: full update: %v, reduced update: %v", ErrPersistenceFailed, fullErr, reducedErr)
	}
	return updated, nil
}

func (a *App) broadcastState(ctx context.Context, session *models.Session) {
	payload := events.StateUpdatePayload{
		SessionID:         session.ID.String(),
		Phase:             string(session.Phase),
		CurrentQuestion:   session.CurrentQuestion,
		QuestionStartedAt: session.QuestionStartedAt,
		Version:           session.Version,
		PlayerCount:       a.roster.Size(session.ID),
		UpdatedAt:         a.clock.Now(),
	}
	if session.ShuffledOptions != nil {
		payload.Options = session.ShuffledOptions.Options
		correct := session.ShuffledOptions.CorrectIndex
		payload.CorrectIndex = &correct
	}

	if err := a.channel.BroadcastStateUpdate(ctx, session.ID, payload); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to broadcast state update")
	}
}
