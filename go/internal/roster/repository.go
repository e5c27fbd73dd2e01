package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
)

// ErrPlayerNotFound is returned when a player lookup matches no row.
var ErrPlayerNotFound = errors.New("player not found")

// ErrInvalidRequest wraps request-validation failures so transports can
// distinguish caller mistakes from store failures.
var ErrInvalidRequest = errors.New("invalid request")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

type CreatePlayerRequest struct {
	ID        uuid.UUID        `json:"id"`
	SessionID uuid.UUID        `json:"session_id"`
	Name      string           `json:"name"`
	Phase     models.GamePhase `json:"phase"`
}

type UpdatePlayerRequest struct {
	Score           *int              `json:"score,omitempty"`
	Phase           *models.GamePhase `json:"phase,omitempty"`
	CurrentQuestion *int              `json:"current_question,omitempty"`
	HasSubmitted    *bool             `json:"has_submitted,omitempty"`
}

const playerColumns = `id, session_id, name, score, phase, current_question, has_submitted, joined_at, updated_at`

// GetPlayerByName looks up a player by its per-session unique name.
func (r *Repository) GetPlayerByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+`
		FROM players
		WHERE session_id = $1 AND name = $2`,
		sessionID, name,
	)

	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player by name: %w", err)
	}
	return player, nil
}

func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+`
		FROM players
		WHERE id = $1`,
		id,
	)

	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

func (r *Repository) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO players (id, session_id, name, phase, current_question)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING `+playerColumns,
		req.ID, req.SessionID, req.Name, string(req.Phase),
	)

	player, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

// ListPlayers returns every player in the session, highest score first.
func (r *Repository) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+playerColumns+`
		FROM players
		WHERE session_id = $1
		ORDER BY score DESC, joined_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}

func (r *Repository) UpdatePlayer(ctx context.Context, id uuid.UUID, req UpdatePlayerRequest) (*models.Player, error) {
	set := "updated_at = now()"
	args := []interface{}{id}

	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}
	if req.Score != nil {
		appendSet("score", *req.Score)
	}
	if req.Phase != nil {
		appendSet("phase", string(*req.Phase))
	}
	if req.CurrentQuestion != nil {
		appendSet("current_question", *req.CurrentQuestion)
	}
	if req.HasSubmitted != nil {
		appendSet("has_submitted", *req.HasSubmitted)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE players
		SET `+set+`
		WHERE id = $1
		RETURNING `+playerColumns,
		args...,
	)

	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to update player: %w", err)
	}
	return player, nil
}

// DeleteAllPlayers removes every player row for the session.
func (r *Repository) DeleteAllPlayers(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete players: %w", err)
	}
	return nil
}

// DeletePlayersOlderThan removes players that joined before the cutoff and
// returns their ids so callers can prune local state.
func (r *Repository) DeletePlayersOlderThan(ctx context.Context, sessionID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		DELETE FROM players
		WHERE session_id = $1 AND joined_at < $2
		RETURNING id`,
		sessionID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale players: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted player id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deleted players: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	var (
		p               models.Player
		phase           sql.NullString
		currentQuestion sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &phase, &currentQuestion, &p.HasSubmitted, &p.JoinedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	// Rows written before the column defaults existed can carry NULLs;
	// read them as a fresh waiting player.
	p.Phase = models.PhaseWaiting
	if phase.Valid {
		if parsed, ok := models.ParsePhase(phase.String); ok {
			p.Phase = parsed
		}
	}
	p.CurrentQuestion = int(currentQuestion.Int64)
	return &p, nil
}
