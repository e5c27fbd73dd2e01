package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
)

type fakePlayerRepo struct {
	byName map[string]*models.Player

	createErr       error
	listErr         error
	deleteAllErr    error
	staleIDs        []uuid.UUID
	missFirstLookup bool

	creates    int
	deleteAlls int
	listed     int
}

func newFakePlayerRepo() *fakePlayerRepo {
	return &fakePlayerRepo{byName: make(map[string]*models.Player)}
}

func (r *fakePlayerRepo) GetPlayerByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error) {
	if r.missFirstLookup {
		r.missFirstLookup = false
		return nil, ErrPlayerNotFound
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakePlayerRepo) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	for _, p := range r.byName {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPlayerNotFound
}

func (r *fakePlayerRepo) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error) {
	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	p := &models.Player{
		ID:        req.ID,
		SessionID: req.SessionID,
		Name:      req.Name,
		Phase:     req.Phase,
		JoinedAt:  time.Now(),
		UpdatedAt: time.Now(),
	}
	r.byName[req.Name] = p
	copied := *p
	return &copied, nil
}

func (r *fakePlayerRepo) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error) {
	r.listed++
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]models.Player, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, *p)
	}
	sortByScore(out)
	return out, nil
}

func (r *fakePlayerRepo) UpdatePlayer(ctx context.Context, id uuid.UUID, req UpdatePlayerRequest) (*models.Player, error) {
	return nil, errors.New("not used in these tests")
}

func (r *fakePlayerRepo) DeleteAllPlayers(ctx context.Context, sessionID uuid.UUID) error {
	r.deleteAlls++
	if r.deleteAllErr != nil {
		return r.deleteAllErr
	}
	r.byName = make(map[string]*models.Player)
	return nil
}

func (r *fakePlayerRepo) DeletePlayersOlderThan(ctx context.Context, sessionID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	return r.staleIDs, nil
}

type fakeSessions struct {
	err error
}

func (s *fakeSessions) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: id, Phase: models.PhaseWaiting}, nil
}

type fakeJoinBroadcaster struct {
	payloads []events.PlayerJoinedPayload
	err      error
}

func (b *fakeJoinBroadcaster) BroadcastPlayerJoin(ctx context.Context, sessionID uuid.UUID, payload events.PlayerJoinedPayload) error {
	b.payloads = append(b.payloads, payload)
	return b.err
}

func TestJoinCreatesPlayerOnce(t *testing.T) {
	repo := newFakePlayerRepo()
	channel := &fakeJoinBroadcaster{}
	app := NewApp(repo, &fakeSessions{}, channel)
	sessionID := uuid.New()

	first, err := app.Join(context.Background(), sessionID, "  Dana ")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if first.Name != "Dana" {
		t.Fatalf("name not trimmed: %q", first.Name)
	}
	if len(channel.payloads) != 1 {
		t.Fatalf("expected 1 join broadcast, got %d", len(channel.payloads))
	}

	// Same name joins again: no new row, no new broadcast.
	second, err := app.Join(context.Background(), sessionID, "Dana")
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("rejoin returned a different player: %s vs %s", second.ID, first.ID)
	}
	if repo.creates != 1 {
		t.Fatalf("expected 1 create, got %d", repo.creates)
	}
	if len(channel.payloads) != 1 {
		t.Fatalf("rejoin must not broadcast, got %d payloads", len(channel.payloads))
	}
	if app.Size(sessionID) != 1 {
		t.Fatalf("expected roster size 1, got %d", app.Size(sessionID))
	}
}

func TestJoinRejectsEmptyNameAndUnknownSession(t *testing.T) {
	app := NewApp(newFakePlayerRepo(), &fakeSessions{}, &fakeJoinBroadcaster{})
	if _, err := app.Join(context.Background(), uuid.New(), "   "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank name: got %v, want ErrInvalidRequest", err)
	}

	app = NewApp(newFakePlayerRepo(), &fakeSessions{err: errors.New("not found")}, &fakeJoinBroadcaster{})
	if _, err := app.Join(context.Background(), uuid.New(), "Dana"); err == nil {
		t.Fatal("expected error for unresolvable session")
	}
}

func TestJoinLosingUniqueRaceReturnsWinner(t *testing.T) {
	repo := newFakePlayerRepo()
	app := NewApp(repo, &fakeSessions{}, &fakeJoinBroadcaster{})
	sessionID := uuid.New()

	// The winner's row lands between our name lookup and our insert: the
	// first lookup misses, the insert hits the unique constraint, and the
	// post-conflict lookup finds the winner.
	winner := &models.Player{ID: uuid.New(), SessionID: sessionID, Name: "Dana"}
	repo.byName["Dana"] = winner
	repo.missFirstLookup = true
	repo.createErr = &pq.Error{Code: "23505"}

	got, err := app.Join(context.Background(), sessionID, "Dana")
	if err != nil {
		t.Fatalf("Join after lost race: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("expected the winner's row, got %s", got.ID)
	}
}

func TestJoinBroadcastFailureIsNotFatal(t *testing.T) {
	channel := &fakeJoinBroadcaster{err: errors.New("channel down")}
	app := NewApp(newFakePlayerRepo(), &fakeSessions{}, channel)

	if _, err := app.Join(context.Background(), uuid.New(), "Dana"); err != nil {
		t.Fatalf("broadcast failure must not fail the join: %v", err)
	}
}

func TestOnPlayerUpdateMergesAndResorts(t *testing.T) {
	app := NewApp(newFakePlayerRepo(), &fakeSessions{}, &fakeJoinBroadcaster{}).
		WithClock(clockwork.NewFakeClock())
	sessionID := uuid.New()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	alice := models.Player{ID: uuid.New(), SessionID: sessionID, Name: "Alice", Score: 100, JoinedAt: base}
	bob := models.Player{ID: uuid.New(), SessionID: sessionID, Name: "Bob", Score: 50, JoinedAt: base.Add(time.Minute)}
	app.mergePlayer(sessionID, alice)
	app.mergePlayer(sessionID, bob)

	app.OnPlayerUpdate(sessionID, events.PlayerUpdatedPayload{
		PlayerID:     bob.ID.String(),
		PlayerName:   "Bob",
		Score:        300,
		HasSubmitted: true,
	})

	players := app.Snapshot(sessionID)
	if len(players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(players))
	}
	if players[0].ID != bob.ID || players[0].Score != 300 || !players[0].HasSubmitted {
		t.Fatalf("expected Bob first with updated score, got %+v", players[0])
	}
}

func TestOnPlayerUpdateForUnknownPlayerSchedulesReload(t *testing.T) {
	repo := newFakePlayerRepo()
	clock := clockwork.NewFakeClock()
	app := NewApp(repo, &fakeSessions{}, &fakeJoinBroadcaster{}).WithClock(clock)
	sessionID := uuid.New()

	app.OnPlayerUpdate(sessionID, events.PlayerUpdatedPayload{
		PlayerID: uuid.NewString(),
		Score:    10,
	})
	// A second event inside the window must not arm another reload.
	app.OnPlayerUpdate(sessionID, events.PlayerUpdatedPayload{
		PlayerID: uuid.NewString(),
		Score:    20,
	})

	if repo.listed != 0 {
		t.Fatalf("reload ran before the delay elapsed: %d", repo.listed)
	}

	clock.Advance(DefaultReloadDelay)
	waitFor(t, func() bool { return repo.listed == 1 })

	// The pending flag is cleared, so a later event arms a fresh reload.
	app.OnPlayerUpdate(sessionID, events.PlayerUpdatedPayload{
		PlayerID: uuid.NewString(),
		Score:    30,
	})
	clock.Advance(DefaultReloadDelay)
	waitFor(t, func() bool { return repo.listed == 2 })
}

func TestOnPlayerJoinAndLeaveMaintainSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app := NewApp(newFakePlayerRepo(), &fakeSessions{}, &fakeJoinBroadcaster{}).WithClock(clock)
	sessionID := uuid.New()

	playerID := uuid.New()
	app.OnPlayerJoin(sessionID, events.PlayerJoinedPayload{
		PlayerID:   playerID.String(),
		PlayerName: "Dana",
		JoinedAt:   time.Now(),
	})
	if app.Size(sessionID) != 1 {
		t.Fatalf("expected size 1 after join event, got %d", app.Size(sessionID))
	}

	// Duplicate join event is idempotent.
	app.OnPlayerJoin(sessionID, events.PlayerJoinedPayload{
		PlayerID:   playerID.String(),
		PlayerName: "Dana",
		JoinedAt:   time.Now(),
	})
	if app.Size(sessionID) != 1 {
		t.Fatalf("duplicate join event grew the roster: %d", app.Size(sessionID))
	}

	app.OnPlayerLeave(sessionID, events.PlayerLeftPayload{PlayerID: playerID.String()})
	if app.Size(sessionID) != 0 {
		t.Fatalf("expected empty roster after leave, got %d", app.Size(sessionID))
	}

	// Malformed ids are dropped, not applied.
	app.OnPlayerJoin(sessionID, events.PlayerJoinedPayload{PlayerID: "not-a-uuid"})
	if app.Size(sessionID) != 0 {
		t.Fatalf("malformed join event applied: %d", app.Size(sessionID))
	}
}

func TestClearAllRemovesStoreAndLocalState(t *testing.T) {
	repo := newFakePlayerRepo()
	app := NewApp(repo, &fakeSessions{}, &fakeJoinBroadcaster{})
	sessionID := uuid.New()

	if _, err := app.Join(context.Background(), sessionID, "Dana"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := app.ClearAll(context.Background(), sessionID); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if app.Size(sessionID) != 0 {
		t.Fatalf("local roster not cleared: %d", app.Size(sessionID))
	}
	if repo.deleteAlls != 1 {
		t.Fatalf("store not cleared: %d", repo.deleteAlls)
	}

	repo.deleteAllErr = errors.New("store down")
	if err := app.ClearAll(context.Background(), sessionID); err == nil {
		t.Fatal("expected error when store delete fails")
	}
}

func TestCleanupStalePrunesReturnedIDs(t *testing.T) {
	repo := newFakePlayerRepo()
	clock := clockwork.NewFakeClock()
	app := NewApp(repo, &fakeSessions{}, &fakeJoinBroadcaster{}).WithClock(clock)
	sessionID := uuid.New()

	stale := models.Player{ID: uuid.New(), SessionID: sessionID, Name: "Idle"}
	fresh := models.Player{ID: uuid.New(), SessionID: sessionID, Name: "Active"}
	app.mergePlayer(sessionID, stale)
	app.mergePlayer(sessionID, fresh)

	repo.staleIDs = []uuid.UUID{stale.ID}
	if err := app.CleanupStale(context.Background(), sessionID, time.Hour); err != nil {
		t.Fatalf("CleanupStale: %v", err)
	}

	players := app.Snapshot(sessionID)
	if len(players) != 1 || players[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh player to remain, got %+v", players)
	}
}

func TestSnapshotOrdersByScoreThenJoinTime(t *testing.T) {
	app := NewApp(newFakePlayerRepo(), &fakeSessions{}, &fakeJoinBroadcaster{})
	sessionID := uuid.New()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	early := models.Player{ID: uuid.New(), Name: "Early", Score: 100, JoinedAt: base}
	late := models.Player{ID: uuid.New(), Name: "Late", Score: 100, JoinedAt: base.Add(time.Second)}
	top := models.Player{ID: uuid.New(), Name: "Top", Score: 500, JoinedAt: base.Add(time.Hour)}
	app.mergePlayer(sessionID, late)
	app.mergePlayer(sessionID, early)
	app.mergePlayer(sessionID, top)

	players := app.Snapshot(sessionID)
	want := []string{"Top", "Early", "Late"}
	for i, name := range want {
		if players[i].Name != name {
			t.Fatalf("position %d: want %s, got %s", i, name, players[i].Name)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
