package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

type CreateSessionRequest struct {
	ID               uuid.UUID        `json:"id"`
	Phase            models.GamePhase `json:"phase"`
	NumSponsorBreaks int              `json:"num_sponsor_breaks"`
}

// FullUpdateRequest carries every field the host may update in one phase
// transition. Nil pointers are omitted from the UPDATE entirely.
type FullUpdateRequest struct {
	Phase             models.GamePhase        `json:"phase"`
	CurrentQuestion   *int                    `json:"current_question,omitempty"`
	QuestionStartedAt *time.Time              `json:"question_started_at,omitempty"`
	ShuffledOptions   *models.ShuffledOptions `json:"shuffled_options,omitempty"`
	ClearOptions      bool                    `json:"clear_options,omitempty"`
	NumSponsorBreaks  *int                    `json:"num_sponsor_breaks,omitempty"`
}

// ReducedUpdateRequest is the schema-compatibility fallback: only the
// columns every deployed store version has. Fields omitted here simply
// are not updated that round; in particular the shuffled-options column
// is left untouched, never nulled.
type ReducedUpdateRequest struct {
	Phase             models.GamePhase `json:"phase"`
	CurrentQuestion   *int             `json:"current_question,omitempty"`
	QuestionStartedAt *time.Time       `json:"question_started_at,omitempty"`
}

const sessionColumns = `id, phase, current_question, question_started_at, current_question_options_shuffled, num_sponsor_breaks, version, created_at`

func (r *Repository) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, phase, num_sponsor_breaks)
		VALUES ($1, $2, $3)
		RETURNING `+sessionColumns,
		req.ID, string(req.Phase), req.NumSponsorBreaks,
	)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1`,
		id,
	)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSessionFull applies the full field set in one conditional update.
func (r *Repository) UpdateSessionFull(ctx context.Context, id uuid.UUID, req FullUpdateRequest) (*models.Session, error) {
	set := []string{"phase = $2", "version = version + 1"}
	args := []interface{}{id, string(req.Phase)}

	if req.CurrentQuestion != nil {
		args = append(args, *req.CurrentQuestion)
		set = append(set, fmt.Sprintf("current_question = $%d", len(args)))
	}
	if req.QuestionStartedAt != nil {
		args = append(args, *req.QuestionStartedAt)
		set = append(set, fmt.Sprintf("question_started_at = $%d", len(args)))
	}
	if req.ShuffledOptions != nil {
		optionsBytes, err := json.Marshal(req.ShuffledOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal shuffled options: %w", err)
		}
		args = append(args, optionsBytes)
		set = append(set, fmt.Sprintf("current_question_options_shuffled = $%d", len(args)))
	} else if req.ClearOptions {
		set = append(set, "current_question_options_shuffled = NULL")
	}
	if req.NumSponsorBreaks != nil {
		args = append(args, *req.NumSponsorBreaks)
		set = append(set, fmt.Sprintf("num_sponsor_breaks = $%d", len(args)))
	}

	return r.updateSession(ctx, id, set, args)
}

// UpdateSessionReduced applies only the phase/question-index/start-time
// columns. Used as the backward-compatibility retry when the full update
// is rejected by an older store schema.
func (r *Repository) UpdateSessionReduced(ctx context.Context, id uuid.UUID, req ReducedUpdateRequest) (*models.Session, error) {
	set := []string{"phase = $2", "version = version + 1"}
	args := []interface{}{id, string(req.Phase)}

	if req.CurrentQuestion != nil {
		args = append(args, *req.CurrentQuestion)
		set = append(set, fmt.Sprintf("current_question = $%d", len(args)))
	}
	if req.QuestionStartedAt != nil {
		args = append(args, *req.QuestionStartedAt)
		set = append(set, fmt.Sprintf("question_started_at = $%d", len(args)))
	}

	return r.updateSession(ctx, id, set, args)
}

func (r *Repository) updateSession(ctx context.Context, id uuid.UUID, set []string, args []interface{}) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET `+strings.Join(set, ", ")+`
		WHERE id = $1
		RETURNING `+sessionColumns,
		args...,
	)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// IsValueError reports whether err is a data or constraint violation, as
// opposed to a schema/connectivity failure. Value errors do not qualify
// for the reduced-field retry.
func IsValueError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "22" || class == "23"
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		s            models.Session
		phase        string
		startedAt    sql.NullTime
		optionsBytes []byte
	)

	if err := row.Scan(&s.ID, &phase, &s.CurrentQuestion, &startedAt, &optionsBytes, &s.NumSponsorBreaks, &s.Version, &s.CreatedAt); err != nil {
		return nil, err
	}

	s.Phase, _ = models.ParsePhase(phase)
	if startedAt.Valid {
		t := startedAt.Time
		s.QuestionStartedAt = &t
	}
	if len(optionsBytes) > 0 {
		var options models.ShuffledOptions
		if err := json.Unmarshal(optionsBytes, &options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shuffled options: %w", err)
		}
		s.ShuffledOptions = &options
	}

	return &s, nil
}
