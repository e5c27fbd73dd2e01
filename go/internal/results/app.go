package results

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nycdan-n2p/trivia-live/go/internal/models"
)

// AnswerReader fetches persisted answers, fastest responder first.
type AnswerReader interface {
	ListAnswersForQuestion(ctx context.Context, sessionID uuid.UUID, questionIndex int) ([]models.Answer, error)
}

// SessionGetter resolves session ids before aggregation.
type SessionGetter interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// App computes per-question outcomes from the persisted answer set.
type App struct {
	answers  AnswerReader
	sessions SessionGetter
}

// NewApp creates a new results App.
func NewApp(answers AnswerReader, sessions SessionGetter) *App {
	return &App{
		answers:  answers,
		sessions: sessions,
	}
}

// ComputeResults partitions a question's answers into correct/wrong and
// designates the fastest and slowest responders: the first and last entry
// in ascending response-time order, ties broken by store order. A question
// with no answers yields empty partitions and nil fastest/slowest, not an
// error.
func (a *App) ComputeResults(ctx context.Context, sessionID uuid.UUID, questionIndex int) (*models.QuestionResults, error) {
	if questionIndex < 0 {
		return nil, fmt.Errorf("question index must be >= 0, got %d", questionIndex)
	}

	if _, err := a.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	answers, err := a.answers.ListAnswersForQuestion(ctx, sessionID, questionIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch answers: %w", err)
	}

	results := &models.QuestionResults{
		QuestionIndex: questionIndex,
		Correct:       []models.Answer{},
		Wrong:         []models.Answer{},
	}
	if len(answers) == 0 {
		return results, nil
	}

	for _, answer := range answers {
		if answer.Correct {
			results.Correct = append(results.Correct, answer)
		} else {
			results.Wrong = append(results.Wrong, answer)
		}
	}

	fastest := answers[0]
	slowest := answers[len(answers)-1]
	results.Fastest = &fastest
	results.Slowest = &slowest

	return results, nil
}
