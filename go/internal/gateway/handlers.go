package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nycdan-n2p/trivia-live/go/internal/answers"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/nycdan-n2p/trivia-live/go/internal/realtime"
	"github.com/nycdan-n2p/trivia-live/go/internal/roster"
	"github.com/nycdan-n2p/trivia-live/go/internal/session"
)

// AnswerSubmitter defines what the gateway needs from the answer app.
type AnswerSubmitter interface {
	Submit(ctx context.Context, req answers.SubmitRequest) (*models.Answer, error)
}

// ResultsComputer defines what the gateway needs from the results app.
type ResultsComputer interface {
	ComputeResults(ctx context.Context, sessionID uuid.UUID, questionIndex int) (*models.QuestionResults, error)
}

// SupervisorRegistry tracks the gateway's channel subscription per session.
type SupervisorRegistry interface {
	EnsureSupervisor(sessionID uuid.UUID)
	SupervisorState(sessionID uuid.UUID) (realtime.ConnectionState, bool)
}

// APIHandler serves the REST surface of the gateway.
type APIHandler struct {
	provider    *GameStateProvider
	sessions    SessionStore
	roster      RosterStore
	answers     AnswerSubmitter
	results     ResultsComputer
	supervisors SupervisorRegistry
}

// NewAPIHandler creates the REST handler over the game apps.
func NewAPIHandler(provider *GameStateProvider, sessions SessionStore, rosterStore RosterStore, submitter AnswerSubmitter, results ResultsComputer, supervisors SupervisorRegistry) *APIHandler {
	return &APIHandler{
		provider:    provider,
		sessions:    sessions,
		roster:      rosterStore,
		answers:     submitter,
		results:     results,
		supervisors: supervisors,
	}
}

// RegisterRoutes registers the REST routes with an HTTP mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}/state", h.handleGetState)
	mux.HandleFunc("POST /api/sessions/{id}/phase", h.handleAdvancePhase)
	mux.HandleFunc("POST /api/sessions/{id}/restart", h.handleRestart)
	mux.HandleFunc("POST /api/sessions/{id}/join", h.handleJoin)
	mux.HandleFunc("POST /api/sessions/{id}/answers", h.handleSubmitAnswer)
	mux.HandleFunc("GET /api/sessions/{id}/players", h.handleGetPlayers)
	mux.HandleFunc("GET /api/sessions/{id}/results/{question}", h.handleGetResults)
	mux.HandleFunc("GET /api/sessions/{id}/health", h.handleGetHealth)
}

type createSessionBody struct {
	NumSponsorBreaks int `json:"num_sponsor_breaks"`
}

type createSessionResponse struct {
	SessionID        string `json:"session_id"`
	Phase            string `json:"phase"`
	NumSponsorBreaks int    `json:"num_sponsor_breaks"`
	Version          int64  `json:"version"`
	HostToken        string `json:"host_token"`
}

func (h *APIHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), body.NumSponsorBreaks)
	if err != nil {
		h.writeError(w, err, "failed to create session")
		return
	}

	token, err := SignHostToken(sess.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("failed to sign host token")
		http.Error(w, "failed to issue host token", http.StatusInternalServerError)
		return
	}

	h.supervisors.EnsureSupervisor(sess.ID)

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:        sess.ID.String(),
		Phase:            string(sess.Phase),
		NumSponsorBreaks: sess.NumSponsorBreaks,
		Version:          sess.Version,
		HostToken:        token,
	})
}

func (h *APIHandler) handleGetState(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	state, err := h.provider.GetGameState(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err, "failed to get game state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type advancePhaseBody struct {
	Phase             string     `json:"phase"`
	QuestionIndex     *int       `json:"question_index,omitempty"`
	QuestionStartedAt *time.Time `json:"question_started_at,omitempty"`
	Options           []string   `json:"options,omitempty"`
	CorrectIndex      *int       `json:"correct_index,omitempty"`
	NumSponsorBreaks  *int       `json:"num_sponsor_breaks,omitempty"`
}

func (h *APIHandler) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := RequireHost(r, sessionID); err != nil {
		h.writeError(w, err, "host check failed")
		return
	}

	var body advancePhaseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	phase, valid := models.ParsePhase(body.Phase)
	if !valid {
		http.Error(w, "unknown phase", http.StatusBadRequest)
		return
	}

	req := session.AdvancePhaseRequest{
		Phase:             phase,
		QuestionIndex:     body.QuestionIndex,
		QuestionStartedAt: body.QuestionStartedAt,
		NumSponsorBreaks:  body.NumSponsorBreaks,
	}
	if len(body.Options) > 0 {
		if body.CorrectIndex == nil {
			http.Error(w, "correct_index is required with options", http.StatusBadRequest)
			return
		}
		req.ShuffledOptions = &models.ShuffledOptions{
			Options:      body.Options,
			CorrectIndex: *body.CorrectIndex,
		}
	}

	updated, err := h.sessions.AdvancePhase(r.Context(), sessionID, req)
	if err != nil {
		h.writeError(w, err, "failed to advance phase")
		return
	}

	writeJSON(w, http.StatusOK, h.snapshotFor(updated))
}

func (h *APIHandler) handleRestart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := RequireHost(r, sessionID); err != nil {
		h.writeError(w, err, "host check failed")
		return
	}

	updated, err := h.sessions.Restart(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err, "failed to restart session")
		return
	}

	writeJSON(w, http.StatusOK, h.snapshotFor(updated))
}

type joinBody struct {
	Name string `json:"name"`
}

func (h *APIHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var body joinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	player, err := h.roster.Join(r.Context(), sessionID, body.Name)
	if err != nil {
		h.writeError(w, err, "failed to join session")
		return
	}

	h.supervisors.EnsureSupervisor(sessionID)

	writeJSON(w, http.StatusCreated, PlayerInfo{
		PlayerID:     player.ID.String(),
		Name:         player.Name,
		Score:        player.Score,
		HasSubmitted: player.HasSubmitted,
		JoinedAt:     player.JoinedAt,
	})
}

type submitAnswerBody struct {
	PlayerID       string `json:"player_id"`
	QuestionIndex  int    `json:"question_index"`
	Answer         string `json:"answer"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

func (h *APIHandler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var body submitAnswerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	playerID, err := uuid.Parse(body.PlayerID)
	if err != nil {
		http.Error(w, "invalid player_id format", http.StatusBadRequest)
		return
	}

	answer, err := h.answers.Submit(r.Context(), answers.SubmitRequest{
		PlayerID:       playerID,
		SessionID:      sessionID,
		QuestionIndex:  body.QuestionIndex,
		Answer:         body.Answer,
		Correct:        body.Correct,
		ResponseTimeMs: body.ResponseTimeMs,
	})
	if err != nil {
		h.writeError(w, err, "failed to submit answer")
		return
	}

	writeJSON(w, http.StatusCreated, toAnswerInfo(answer))
}

func (h *APIHandler) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	players, err := h.roster.Reload(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err, "failed to list players")
		return
	}
	writeJSON(w, http.StatusOK, toPlayerInfos(players))
}

func (h *APIHandler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	questionIndex, err := strconv.Atoi(r.PathValue("question"))
	if err != nil || questionIndex < 0 {
		http.Error(w, "invalid question index", http.StatusBadRequest)
		return
	}

	results, err := h.results.ComputeResults(r.Context(), sessionID, questionIndex)
	if err != nil {
		h.writeError(w, err, "failed to compute results")
		return
	}

	writeJSON(w, http.StatusOK, ResultsResponse{
		SessionID:     sessionID.String(),
		QuestionIndex: results.QuestionIndex,
		Correct:       toAnswerInfos(results.Correct),
		Wrong:         toAnswerInfos(results.Wrong),
		Fastest:       toAnswerInfo(results.Fastest),
		Slowest:       toAnswerInfo(results.Slowest),
	})
}

func (h *APIHandler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	state, found := h.supervisors.SupervisorState(sessionID)
	if !found {
		http.Error(w, "no channel subscription for session", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, ConnectionHealthResponse{
		SessionID:         sessionID.String(),
		State:             string(state.State),
		Connected:         state.Connected,
		Healthy:           state.Healthy,
		FallbackPolling:   state.FallbackPolling,
		ReconnectAttempts: state.ReconnectAttempts,
	})
}

// snapshotFor builds a state response after a phase change without a second
// store round trip for the session row.
func (h *APIHandler) snapshotFor(sess *models.Session) *GameStateResponse {
	players := h.roster.Snapshot(sess.ID)
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
	return resp
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error, msg string) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
	} else {
		log.Debug().Err(err).Msg(msg)
	}
	http.Error(w, err.Error(), status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, roster.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, answers.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, session.ErrPersistenceFailed), errors.Is(err, answers.ErrSubmissionFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, roster.ErrInvalidRequest),
		errors.Is(err, answers.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		// Anything unclassified is an infrastructure failure, not caller
		// input.
		return http.StatusInternalServerError
	}
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return sessionID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
