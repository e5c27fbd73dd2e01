package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
)

type fakeAnswerRepo struct {
	existing []models.Answer
	findErr  error

	atomicErr    error
	insertErr    error
	incrementErr error

	atomicCalls    int
	insertCalls    int
	incrementCalls int
	credited       int
}

func (r *fakeAnswerRepo) FindAnswers(ctx context.Context, playerID, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.existing, nil
}

func (r *fakeAnswerRepo) SubmitAnswerAtomic(ctx context.Context, req InsertAnswerRequest) error {
	r.atomicCalls++
	if r.atomicErr != nil {
		return r.atomicErr
	}
	r.credited += req.PointsEarned
	return nil
}

func (r *fakeAnswerRepo) InsertAnswer(ctx context.Context, req InsertAnswerRequest) error {
	r.insertCalls++
	return r.insertErr
}

func (r *fakeAnswerRepo) IncrementPlayerScore(ctx context.Context, playerID uuid.UUID, points int) error {
	r.incrementCalls++
	if r.incrementErr != nil {
		return r.incrementErr
	}
	r.credited += points
	return nil
}

type fakePlayerReader struct {
	player *models.Player
	err    error
}

func (f *fakePlayerReader) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.player, nil
}

type fakeUpdateBroadcaster struct {
	payloads []events.PlayerUpdatedPayload
	err      error
}

func (b *fakeUpdateBroadcaster) BroadcastPlayerUpdate(ctx context.Context, sessionID uuid.UUID, payload events.PlayerUpdatedPayload) error {
	b.payloads = append(b.payloads, payload)
	return b.err
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		PlayerID:       uuid.New(),
		SessionID:      uuid.New(),
		QuestionIndex:  0,
		Answer:         "B",
		Correct:        true,
		ResponseTimeMs: 500,
	}
}

func TestComputePoints(t *testing.T) {
	cases := []struct {
		correct bool
		ms      int64
		want    int
	}{
		{true, 0, 1000},
		{true, 500, 1000},
		{true, 999, 1000},
		{true, 1000, 990},
		{true, 5000, 950},
		{true, 79999, 210},
		{true, 80000, 200},
		{true, 90000, 200},
		{true, 600000, 200},
		{false, 0, 0},
		{false, 90000, 0},
	}
	for _, c := range cases {
		if got := ComputePoints(c.correct, c.ms); got != c.want {
			t.Fatalf("ComputePoints(%v,%d)=%d, want %d", c.correct, c.ms, got, c.want)
		}
	}
}

func TestSubmitAcceptsAndBroadcasts(t *testing.T) {
	repo := &fakeAnswerRepo{}
	req := submitReq()
	player := &models.Player{ID: req.PlayerID, Name: "Dana", Score: 1000, HasSubmitted: true}
	channel := &fakeUpdateBroadcaster{}
	app := NewApp(repo, &fakePlayerReader{player: player}, channel)

	answer, err := app.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if answer.PointsEarned != 1000 {
		t.Fatalf("expected 1000 points, got %d", answer.PointsEarned)
	}
	if repo.atomicCalls != 1 || repo.insertCalls != 0 {
		t.Fatalf("expected single atomic persist, got atomic=%d insert=%d", repo.atomicCalls, repo.insertCalls)
	}
	if len(channel.payloads) != 1 || channel.payloads[0].Score != 1000 {
		t.Fatalf("unexpected broadcast payloads: %+v", channel.payloads)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	app := NewApp(&fakeAnswerRepo{}, &fakePlayerReader{}, &fakeUpdateBroadcaster{})

	req := submitReq()
	req.QuestionIndex = -1
	if _, err := app.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("negative question index: got %v, want ErrInvalidRequest", err)
	}

	req = submitReq()
	req.ResponseTimeMs = -5
	if _, err := app.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("negative response time: got %v, want ErrInvalidRequest", err)
	}
}

func TestSubmitDuplicateFromPreCheck(t *testing.T) {
	repo := &fakeAnswerRepo{existing: []models.Answer{{}}}
	app := NewApp(repo, &fakePlayerReader{}, &fakeUpdateBroadcaster{})

	_, err := app.Submit(context.Background(), submitReq())
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if repo.atomicCalls != 0 {
		t.Fatalf("duplicate pre-check must short-circuit persistence, got %d calls", repo.atomicCalls)
	}
}

// constraintRepo arbitrates concurrent inserts the way the store's primary
// key does: first writer of a (player, session, question) triple wins.
type constraintRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *constraintRepo) FindAnswers(ctx context.Context, playerID, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error) {
	return nil, nil
}

func (r *constraintRepo) SubmitAnswerAtomic(ctx context.Context, req InsertAnswerRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", req.PlayerID, req.SessionID, req.QuestionIndex)
	if r.seen[key] {
		return ErrDuplicateSubmission
	}
	r.seen[key] = true
	return nil
}

func (r *constraintRepo) InsertAnswer(ctx context.Context, req InsertAnswerRequest) error {
	return errors.New("fallback path must not run")
}

func (r *constraintRepo) IncrementPlayerScore(ctx context.Context, playerID uuid.UUID, points int) error {
	return nil
}

func TestSubmitConcurrentDuplicatesAcceptExactlyOne(t *testing.T) {
	repo := &constraintRepo{seen: make(map[string]bool)}
	req := submitReq()
	app := NewApp(repo, &fakePlayerReader{player: &models.Player{ID: req.PlayerID, Name: "Dana"}}, &fakeUpdateBroadcaster{})

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := app.Submit(context.Background(), req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var accepted, duplicates int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrDuplicateSubmission):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 || duplicates != workers-1 {
		t.Fatalf("accepted=%d duplicates=%d, want exactly 1 accepted", accepted, duplicates)
	}
}

func TestSubmitDuplicateFromStoreConstraint(t *testing.T) {
	repo := &fakeAnswerRepo{atomicErr: ErrDuplicateSubmission}
	app := NewApp(repo, &fakePlayerReader{}, &fakeUpdateBroadcaster{})

	_, err := app.Submit(context.Background(), submitReq())
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if repo.insertCalls != 0 {
		t.Fatal("a store-arbitrated duplicate must not run the fallback path")
	}
}

func TestSubmitFallbackIncrementsScore(t *testing.T) {
	repo := &fakeAnswerRepo{atomicErr: errors.New("transactions unavailable")}
	req := submitReq()
	req.ResponseTimeMs = 5000
	player := &models.Player{ID: req.PlayerID, Name: "Dana", Score: 950}
	app := NewApp(repo, &fakePlayerReader{player: player}, &fakeUpdateBroadcaster{})

	answer, err := app.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit via fallback: %v", err)
	}
	if repo.insertCalls != 1 || repo.incrementCalls != 1 {
		t.Fatalf("expected insert+increment, got insert=%d increment=%d", repo.insertCalls, repo.incrementCalls)
	}
	if repo.credited != 950 {
		t.Fatalf("expected 950 points credited, got %d", repo.credited)
	}
	if answer.PointsEarned != 950 {
		t.Fatalf("expected 950 points on answer, got %d", answer.PointsEarned)
	}
}

func TestSubmitFallbackInsertDuplicate(t *testing.T) {
	repo := &fakeAnswerRepo{
		atomicErr: errors.New("transactions unavailable"),
		insertErr: ErrDuplicateSubmission,
	}
	app := NewApp(repo, &fakePlayerReader{}, &fakeUpdateBroadcaster{})

	_, err := app.Submit(context.Background(), submitReq())
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if repo.incrementCalls != 0 {
		t.Fatal("no score credit after a duplicate insert")
	}
}

func TestSubmitFailsWhenBothPathsFail(t *testing.T) {
	repo := &fakeAnswerRepo{
		atomicErr: errors.New("transactions unavailable"),
		insertErr: errors.New("connection refused"),
	}
	channel := &fakeUpdateBroadcaster{}
	app := NewApp(repo, &fakePlayerReader{}, channel)

	_, err := app.Submit(context.Background(), submitReq())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if len(channel.payloads) != 0 {
		t.Fatal("no broadcast for a failed submission")
	}
}

func TestSubmitSurvivesScoreCreditFailure(t *testing.T) {
	// The answer row is durable; a missing credit is reconciled later and
	// must not surface as a submission failure.
	repo := &fakeAnswerRepo{
		atomicErr:    errors.New("transactions unavailable"),
		incrementErr: errors.New("connection reset"),
	}
	req := submitReq()
	player := &models.Player{ID: req.PlayerID, Name: "Dana"}
	app := NewApp(repo, &fakePlayerReader{player: player}, &fakeUpdateBroadcaster{})

	if _, err := app.Submit(context.Background(), req); err != nil {
		t.Fatalf("score credit failure must not fail the submission: %v", err)
	}
}

func TestSubmitBroadcastFailuresAreNotFatal(t *testing.T) {
	req := submitReq()
	app := NewApp(&fakeAnswerRepo{}, &fakePlayerReader{err: errors.New("not found")}, &fakeUpdateBroadcaster{})
	if _, err := app.Submit(context.Background(), req); err != nil {
		t.Fatalf("player lookup failure must not fail the submission: %v", err)
	}

	player := &models.Player{ID: req.PlayerID, Name: "Dana"}
	app = NewApp(&fakeAnswerRepo{}, &fakePlayerReader{player: player}, &fakeUpdateBroadcaster{err: errors.New("channel down")})
	if _, err := app.Submit(context.Background(), req); err != nil {
		t.Fatalf("broadcast failure must not fail the submission: %v", err)
	}
}
