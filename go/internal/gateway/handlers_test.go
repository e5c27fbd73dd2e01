package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/nycdan-n2p/trivia-live/go/internal/answers"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/nycdan-n2p/trivia-live/go/internal/realtime"
	"github.com/nycdan-n2p/trivia-live/go/internal/session"
)

type stubSessions struct {
	session    *models.Session
	getErr     error
	advanceErr error
}

func (s *stubSessions) CreateSession(ctx context.Context, numSponsorBreaks int) (*models.Session, error) {
	return s.session, nil
}

func (s *stubSessions) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.session, nil
}

func (s *stubSessions) AdvancePhase(ctx context.Context, sessionID uuid.UUID, req session.AdvancePhaseRequest) (*models.Session, error) {
	if s.advanceErr != nil {
		return nil, s.advanceErr
	}
	updated := *s.session
	updated.Phase = req.Phase
	return &updated, nil
}

func (s *stubSessions) Restart(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	updated := *s.session
	updated.Phase = models.PhaseWaiting
	updated.CurrentQuestion = 0
	return &updated, nil
}

func (s *stubSessions) ApplyRemoteState(sessionID uuid.UUID, payload events.StateUpdatePayload) {}

type stubRoster struct {
	players []models.Player
	joinErr error
}

func (s *stubRoster) Join(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error) {
	if s.joinErr != nil {
		return nil, s.joinErr
	}
	return &models.Player{ID: uuid.New(), SessionID: sessionID, Name: name}, nil
}

func (s *stubRoster) Snapshot(sessionID uuid.UUID) []models.Player { return s.players }

func (s *stubRoster) Reload(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error) {
	return s.players, nil
}

func (s *stubRoster) OnPlayerJoin(sessionID uuid.UUID, event events.PlayerJoinedPayload)    {}
func (s *stubRoster) OnPlayerUpdate(sessionID uuid.UUID, event events.PlayerUpdatedPayload) {}
func (s *stubRoster) OnPlayerLeave(sessionID uuid.UUID, event events.PlayerLeftPayload)     {}

type stubSubmitter struct {
	answer *models.Answer
	err    error
}

func (s *stubSubmitter) Submit(ctx context.Context, req answers.SubmitRequest) (*models.Answer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.answer, nil
}

type stubResults struct {
	results *models.QuestionResults
	err     error
}

func (s *stubResults) ComputeResults(ctx context.Context, sessionID uuid.UUID, questionIndex int) (*models.QuestionResults, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubRegistry struct {
	ensured []uuid.UUID
	state   realtime.ConnectionState
	found   bool
}

func (s *stubRegistry) EnsureSupervisor(sessionID uuid.UUID) {
	s.ensured = append(s.ensured, sessionID)
}

func (s *stubRegistry) SupervisorState(sessionID uuid.UUID) (realtime.ConnectionState, bool) {
	return s.state, s.found
}

func newTestMux(sessions *stubSessions, roster *stubRoster, submitter *stubSubmitter, results *stubResults, registry *stubRegistry) *http.ServeMux {
	provider := NewGameStateProvider(sessions, roster)
	handler := NewAPIHandler(provider, sessions, roster, submitter, results, registry)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func testSession() *models.Session {
	return &models.Session{
		ID:               uuid.New(),
		Phase:            models.PhaseWelcome,
		NumSponsorBreaks: 1,
		Version:          1,
	}
}

func TestCreateSessionReturnsHostToken(t *testing.T) {
	sess := testSession()
	registry := &stubRegistry{}
	mux := newTestMux(&stubSessions{session: sess}, &stubRoster{}, &stubSubmitter{}, &stubResults{}, registry)

	body := bytes.NewBufferString(`{"num_sponsor_breaks":1}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sessions", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != sess.ID.String() || resp.HostToken == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(registry.ensured) != 1 || registry.ensured[0] != sess.ID {
		t.Fatalf("supervisor not attached on create: %+v", registry.ensured)
	}
}

func TestGetStateIncludesRoster(t *testing.T) {
	sess := testSession()
	sess.ShuffledOptions = &models.ShuffledOptions{Options: []string{"a", "b"}, CorrectIndex: 1}
	roster := &stubRoster{players: []models.Player{
		{ID: uuid.New(), Name: "Dana", Score: 500},
		{ID: uuid.New(), Name: "Marcus", Score: 200},
	}}
	mux := newTestMux(&stubSessions{session: sess}, roster, &stubSubmitter{}, &stubResults{}, &stubRegistry{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+sess.ID.String()+"/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var state GameStateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.PlayerCount != 2 || len(state.Players) != 2 {
		t.Fatalf("roster missing from state: %+v", state)
	}
	if state.CorrectIndex == nil || *state.CorrectIndex != 1 {
		t.Fatalf("options snapshot missing: %+v", state)
	}
}

func TestAdvancePhaseRequiresHostToken(t *testing.T) {
	sess := testSession()
	mux := newTestMux(&stubSessions{session: sess}, &stubRoster{}, &stubSubmitter{}, &stubResults{}, &stubRegistry{})

	body := bytes.NewBufferString(`{"phase":"waiting"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sessions/"+sess.ID.String()+"/phase", body))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}

	token, err := SignHostToken(sess.ID)
	if err != nil {
		t.Fatalf("SignHostToken: %v", err)
	}
	body = bytes.NewBufferString(`{"phase":"waiting"}`)
	req := httptest.NewRequest("POST", "/api/sessions/"+sess.ID.String()+"/phase", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with host token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	sess := testSession()
	token, err := SignHostToken(sess.ID)
	if err != nil {
		t.Fatalf("SignHostToken: %v", err)
	}

	cases := []struct {
		name       string
		sessions   *stubSessions
		submitter  *stubSubmitter
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "unknown session is 404",
			sessions:   &stubSessions{session: sess, getErr: session.ErrNotFound},
			method:     "GET",
			path:       "/api/sessions/" + sess.ID.String() + "/state",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "duplicate answer is 409",
			sessions:   &stubSessions{session: sess},
			submitter:  &stubSubmitter{err: answers.ErrDuplicateSubmission},
			method:     "POST",
			path:       "/api/sessions/" + sess.ID.String() + "/answers",
			body:       `{"player_id":"` + uuid.NewString() + `","question_index":0,"answer":"a","correct":true,"response_time_ms":100}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "persistence failure is 502",
			sessions:   &stubSessions{session: sess, advanceErr: session.ErrPersistenceFailed},
			method:     "POST",
			path:       "/api/sessions/" + sess.ID.String() + "/phase",
			body:       `{"phase":"waiting"}`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unknown phase is 400",
			sessions:   &stubSessions{session: sess},
			method:     "POST",
			path:       "/api/sessions/" + sess.ID.String() + "/phase",
			body:       `{"phase":"halftime"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad session id is 400",
			sessions:   &stubSessions{session: sess},
			method:     "GET",
			path:       "/api/sessions/not-a-uuid/state",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rejected transition is 400",
			sessions:   &stubSessions{session: sess, advanceErr: fmt.Errorf("%w: no sponsor breaks configured", session.ErrInvalidRequest)},
			method:     "POST",
			path:       "/api/sessions/" + sess.ID.String() + "/phase",
			body:       `{"phase":"sponsor1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unclassified store failure is 500",
			sessions:   &stubSessions{session: sess, getErr: errors.New("connection refused")},
			method:     "GET",
			path:       "/api/sessions/" + sess.ID.String() + "/state",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			submitter := c.submitter
			if submitter == nil {
				submitter = &stubSubmitter{answer: &models.Answer{}}
			}
			mux := newTestMux(c.sessions, &stubRoster{}, submitter, &stubResults{}, &stubRegistry{})

			var req *http.Request
			if c.body != "" {
				req = httptest.NewRequest(c.method, c.path, bytes.NewBufferString(c.body))
			} else {
				req = httptest.NewRequest(c.method, c.path, nil)
			}
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != c.wantStatus {
				t.Fatalf("status %d, want %d; body %s", rec.Code, c.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSubmitAnswerReturnsAcceptedAnswer(t *testing.T) {
	sess := testSession()
	submitted := &models.Answer{
		PlayerID:       uuid.New(),
		SessionID:      sess.ID,
		QuestionIndex:  1,
		Answer:         "b",
		Correct:        true,
		ResponseTimeMs: 4200,
		PointsEarned:   960,
	}
	mux := newTestMux(&stubSessions{session: sess}, &stubRoster{}, &stubSubmitter{answer: submitted}, &stubResults{}, &stubRegistry{})

	body := `{"player_id":"` + submitted.PlayerID.String() + `","question_index":1,"answer":"b","correct":true,"response_time_ms":4200}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sessions/"+sess.ID.String()+"/answers", bytes.NewBufferString(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp AnswerInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PointsEarned != 960 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetResultsAndHealth(t *testing.T) {
	sess := testSession()
	fastest := models.Answer{PlayerID: uuid.New(), Correct: true, ResponseTimeMs: 700}
	results := &stubResults{results: &models.QuestionResults{
		QuestionIndex: 2,
		Correct:       []models.Answer{fastest},
		Wrong:         []models.Answer{},
		Fastest:       &fastest,
		Slowest:       &fastest,
	}}
	registry := &stubRegistry{
		state: realtime.ConnectionState{State: realtime.StateDegraded, Connected: true, FallbackPolling: true},
		found: true,
	}
	mux := newTestMux(&stubSessions{session: sess}, &stubRoster{}, &stubSubmitter{}, results, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+sess.ID.String()+"/results/2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("results status %d, body %s", rec.Code, rec.Body.String())
	}
	var resultsResp ResultsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resultsResp); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(resultsResp.Correct) != 1 || resultsResp.Fastest == nil {
		t.Fatalf("unexpected results: %+v", resultsResp)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+sess.ID.String()+"/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d, body %s", rec.Code, rec.Body.String())
	}
	var health ConnectionHealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.State != string(realtime.StateDegraded) || !health.FallbackPolling {
		t.Fatalf("unexpected health: %+v", health)
	}

	// No supervisor attached yet means no health to report.
	mux = newTestMux(&stubSessions{session: sess}, &stubRoster{}, &stubSubmitter{}, results, &stubRegistry{})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+sess.ID.String()+"/health", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without supervisor, got %d", rec.Code)
	}
}
