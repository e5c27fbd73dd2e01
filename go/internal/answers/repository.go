package answers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
	"github.com/nycdan-n2p/trivia-live/go/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

type InsertAnswerRequest struct {
	PlayerID       uuid.UUID `json:"player_id"`
	SessionID      uuid.UUID `json:"session_id"`
	QuestionIndex  int       `json:"question_index"`
	Answer         string    `json:"answer"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	PointsEarned   int       `json:"points_earned"`
}

const answerColumns = `player_id, session_id, question_index, answer, correct, response_time_ms, points_earned, submitted_at`

const insertAnswerSQL = `
	INSERT INTO answers (player_id, session_id, question_index, answer, correct, response_time_ms, points_earned)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Answers are cumulative on the player row: the score is incremented, never
// assigned, so the degraded two-step path cannot clobber prior points.
const creditPlayerSQL = `
	UPDATE players
	SET score = score + $2, has_submitted = TRUE, updated_at = now()
	WHERE id = $1`

// FindAnswers returns any existing answers for the exact triple. Used as
// the duplicate pre-check before persisting.
func (r *Repository) FindAnswers(ctx context.Context, playerID, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers
		WHERE player_id = $1 AND session_id = $2 AND question_index = $3`,
		playerID, sessionID, questionIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find answers: %w", err)
	}
	defer rows.Close()

	return scanAnswers(rows)
}

// SubmitAnswerAtomic inserts the answer and credits the player's score in
// one transaction, so partial failure cannot leave an answer without its
// score update or vice versa. Unique-constraint violations surface as
// ErrDuplicateSubmission.
func (r *Repository) SubmitAnswerAtomic(ctx context.Context, req InsertAnswerRequest) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertAnswerSQL,
			req.PlayerID, req.SessionID, req.QuestionIndex, req.Answer, req.Correct, req.ResponseTimeMs, req.PointsEarned,
		); err != nil {
			return fmt.Errorf("failed to insert answer: %w", err)
		}

		if _, err := tx.ExecContext(ctx, creditPlayerSQL, req.PlayerID, req.PointsEarned); err != nil {
			return fmt.Errorf("failed to credit player: %w", err)
		}
		return nil
	})
	if err != nil {
		if sqlutil.IsUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return err
	}
	return nil
}

// InsertAnswer is the first half of the degraded non-atomic fallback.
func (r *Repository) InsertAnswer(ctx context.Context, req InsertAnswerRequest) error {
	if _, err := r.db.ExecContext(ctx, insertAnswerSQL,
		req.PlayerID, req.SessionID, req.QuestionIndex, req.Answer, req.Correct, req.ResponseTimeMs, req.PointsEarned,
	); err != nil {
		if sqlutil.IsUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("failed to insert answer: %w", err)
	}
	return nil
}

// IncrementPlayerScore is the second half of the degraded fallback: adds
// points to the player's cumulative score and sets the submission flag.
func (r *Repository) IncrementPlayerScore(ctx context.Context, playerID uuid.UUID, points int) error {
	if _, err := r.db.ExecContext(ctx, creditPlayerSQL, playerID, points); err != nil {
		return fmt.Errorf("failed to increment player score: %w", err)
	}
	return nil
}

// ListAnswersForQuestion returns every answer for the question, fastest
// responder first.
func (r *Repository) ListAnswersForQuestion(ctx context.Context, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers
		WHERE session_id = $1 AND question_index = $2
		ORDER BY response_time_ms ASC`,
		sessionID, questionIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	return scanAnswers(rows)
}

func scanAnswers(rows *sql.Rows) ([]models.Answer, error) {
	var answers []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.PlayerID, &a.SessionID, &a.QuestionIndex, &a.Answer, &a.Correct, &a.ResponseTimeMs, &a.PointsEarned, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answers: %w", err)
	}
	return answers, nil
}
