package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/nycdan-n2p/trivia-live/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// DefaultReloadDelay is how long after a realtime join event the roster
// waits before running the authoritative reload backstop.
const DefaultReloadDelay = 2 * time.Second

// PlayerRepository defines what the roster app layer needs from the store.
type PlayerRepository interface {
	GetPlayerByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error)
	UpdatePlayer(ctx context.Context, id uuid.UUID, req UpdatePlayerRequest) (*models.Player, error)
	DeleteAllPlayers(ctx context.Context, sessionID uuid.UUID) error
	DeletePlayersOlderThan(ctx context.Context, sessionID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error)
}

// SessionGetter resolves session ids so join can reject unknown sessions.
type SessionGetter interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Broadcaster publishes roster events on the session's pub/sub channel.
type Broadcaster interface {
	BroadcastPlayerJoin(ctx context.Context, sessionID uuid.UUID, payload events.PlayerJoinedPayload) error
}

// App maintains the live roster for each session. The in-memory snapshot is
// a latency optimization fed by realtime merge events; the delayed
// authoritative reload is the correctness backstop for missed or reordered
// deliveries.
type App struct {
	repo        PlayerRepository
	sessions    SessionGetter
	channel     Broadcaster
	clock       clockwork.Clock
	reloadDelay time.Duration

	mu            sync.RWMutex
	rosters       map[uuid.UUID][]models.Player
	reloadPending map[uuid.UUID]bool
}

// NewApp creates a new roster App.
func NewApp(repo PlayerRepository, sessions SessionGetter, channel Broadcaster) *App {
	return &App{
		repo:          repo,
		sessions:      sessions,
		channel:       channel,
		clock:         clockwork.NewRealClock(),
		reloadDelay:   DefaultReloadDelay,
		rosters:       make(map[uuid.UUID][]models.Player),
		reloadPending: make(map[uuid.UUID]bool),
	}
}

// WithClock replaces the clock. For tests.
func (a *App) WithClock(clock clockwork.Clock) *App {
	a.clock = clock
	return a
}

// WithReloadDelay overrides the delayed-reload interval.
func (a *App) WithReloadDelay(d time.Duration) *App {
	a.reloadDelay = d
	return a
}

// Join adds a player to a session, idempotently: rejoining with the same
// name (page refresh) returns the existing player instead of creating a
// duplicate.
func (a *App) Join(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: player name must not be empty", ErrInvalidRequest)
	}

	if _, err := a.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	existing, err := a.repo.GetPlayerByName(ctx, sessionID, name)
	if err == nil {
		log.Debug().
			Str("session_id", sessionID.String()).
			Str("player_id", existing.ID.String()).
			Str("name", name).
			Msg("player rejoined")
		a.mergePlayer(sessionID, *existing)
		return existing, nil
	}
	if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}

	player, err := a.repo.CreatePlayer(ctx, CreatePlayerRequest{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      name,
		Phase:     models.PhaseWaiting,
	})
	if err != nil {
		if sqlutil.IsUniqueViolation(err) {
			// Lost a concurrent join race for the same name; the store's
			// (session, name) constraint arbitrated. Return the winner.
			return a.repo.GetPlayerByName(ctx, sessionID, name)
		}
		return nil, err
	}

	a.mergePlayer(sessionID, *player)

	payload := events.PlayerJoinedPayload{
		PlayerID:   player.ID.String(),
		PlayerName: player.Name,
		JoinedAt:   player.JoinedAt,
	}
	if err := a.channel.BroadcastPlayerJoin(ctx, sessionID, payload); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to broadcast player join")
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("player_id", player.ID.String()).
		Str("name", player.Name).
		Msg("player joined")

	return player, nil
}

// Reload replaces the local snapshot with an authoritative fetch, ordered
// by descending score.
func (a *App) Reload(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error) {
	players, err := a.repo.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload roster: %w", err)
	}

	a.mu.Lock()
	a.rosters[sessionID] = players
	a.mu.Unlock()

	return a.Snapshot(sessionID), nil
}

// OnPlayerJoin applies a realtime join event: insert-if-absent, then
// schedule the delayed authoritative reload that repairs any concurrent
// events this client missed.
func (a *App) OnPlayerJoin(sessionID uuid.UUID, event events.PlayerJoinedPayload) {
	playerID, err := uuid.Parse(event.PlayerID)
	if err != nil {
		log.Warn().Str("player_id", event.PlayerID).Msg("ignoring join event with bad player id")
		return
	}

	a.mergePlayer(sessionID, models.Player{
		ID:        playerID,
		SessionID: sessionID,
		Name:      event.PlayerName,
		Phase:     models.PhaseWaiting,
		JoinedAt:  event.JoinedAt,
		UpdatedAt: event.JoinedAt,
	})

	a.scheduleReload(sessionID)
}

// OnPlayerUpdate merges a realtime player patch by id.
func (a *App) OnPlayerUpdate(sessionID uuid.UUID, event events.PlayerUpdatedPayload) {
	playerID, err := uuid.Parse(event.PlayerID)
	if err != nil {
		log.Warn().Str("player_id", event.PlayerID).Msg("ignoring update event with bad player id")
		return
	}

	a.mu.Lock()
	players := a.rosters[sessionID]
	found := false
	for i := range players {
		if players[i].ID == playerID {
			players[i].Score = event.Score
			players[i].HasSubmitted = event.HasSubmitted
			players[i].CurrentQuestion = event.CurrentQuestion
			players[i].UpdatedAt = event.UpdatedAt
			found = true
			break
		}
	}
	sortByScore(players)
	a.mu.Unlock()

	if !found {
		// Update for a player this client never saw join; reload repairs it.
		a.scheduleReload(sessionID)
	}
}

// OnPlayerLeave removes a player from the local snapshot by id.
func (a *App) OnPlayerLeave(sessionID uuid.UUID, event events.PlayerLeftPayload) {
	playerID, err := uuid.Parse(event.PlayerID)
	if err != nil {
		log.Warn().Str("player_id", event.PlayerID).Msg("ignoring leave event with bad player id")
		return
	}

	a.mu.Lock()
	players := a.rosters[sessionID]
	for i := range players {
		if players[i].ID == playerID {
			a.rosters[sessionID] = append(players[:i], players[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
}

// ClearAll deletes every player for the session, store and local state both.
func (a *App) ClearAll(ctx context.Context, sessionID uuid.UUID) error {
	if err := a.repo.DeleteAllPlayers(ctx, sessionID); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.rosters, sessionID)
	a.mu.Unlock()

	log.Info().Str("session_id", sessionID.String()).Msg("roster cleared")
	return nil
}

// CleanupStale removes players whose join timestamp is older than
// now - retention. The retention window far exceeds a single question's
// duration, so in-progress players are never swept.
func (a *App) CleanupStale(ctx context.Context, sessionID uuid.UUID, retention time.Duration) error {
	cutoff := a.clock.Now().Add(-retention)
	ids, err := a.repo.DeletePlayersOlderThan(ctx, sessionID, cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	removed := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}

	a.mu.Lock()
	players := a.rosters[sessionID]
	kept := players[:0]
	for _, p := range players {
		if !removed[p.ID] {
			kept = append(kept, p)
		}
	}
	a.rosters[sessionID] = kept
	a.mu.Unlock()

	log.Info().
		Str("session_id", sessionID.String()).
		Int("removed", len(ids)).
		Msg("stale players removed")
	return nil
}

// Snapshot returns a copy of the current roster, highest score first.
func (a *App) Snapshot(sessionID uuid.UUID) []models.Player {
	a.mu.RLock()
	defer a.mu.RUnlock()

	players := a.rosters[sessionID]
	out := make([]models.Player, len(players))
	copy(out, players)
	return out
}

// Size returns the number of players currently in the local roster.
func (a *App) Size(sessionID uuid.UUID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rosters[sessionID])
}

func (a *App) mergePlayer(sessionID uuid.UUID, player models.Player) {
	a.mu.Lock()
	defer a.mu.Unlock()

	players := a.rosters[sessionID]
	for i := range players {
		if players[i].ID == player.ID {
			players[i] = player
			sortByScore(players)
			return
		}
	}
	a.rosters[sessionID] = append(players, player)
	sortByScore(a.rosters[sessionID])
}

// scheduleReload arms at most one delayed reload per session at a time.
func (a *App) scheduleReload(sessionID uuid.UUID) {
	a.mu.Lock()
	if a.reloadPending[sessionID] {
		a.mu.Unlock()
		return
	}
	a.reloadPending[sessionID] = true
	a.mu.Unlock()

	a.clock.AfterFunc(a.reloadDelay, func() {
		a.mu.Lock()
		delete(a.reloadPending, sessionID)
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.Reload(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("delayed roster reload failed")
		}
	})
}

func sortByScore(players []models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
}
