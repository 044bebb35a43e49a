package postgres

import (
	"context"
	"fmt"
	"slices"

	"quiz-room-service/internal/domain"

	"github.com/uptrace/bun"
)

// CatalogWriter publishes quizzes into the catalog tables.
type CatalogWriter struct {
	db *bun.DB
}

func NewCatalogWriter(db *bun.DB) *CatalogWriter {
	return &CatalogWriter{db: db}
}

// ImportQuiz validates quiz and publishes it with its questions and answers
// in one transaction. Published quizzes are immutable: importing an existing
// quiz id fails with domain.ErrInvalidQuiz. Questions already in the catalog
// are reused as long as their answer ids match.
func (w *CatalogWriter) ImportQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	return w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(&quizModel{
			ID:               quiz.ID,
			Title:            quiz.Title,
			Description:      quiz.Description,
			Subject:          quiz.Subject,
			Level:            quiz.Level,
			TimeLimitSeconds: int(quiz.TimeLimit.Seconds()),
		}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return storeErr("insert quiz", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: quiz %s already published", domain.ErrInvalidQuiz, quiz.ID)
		}

		for _, qq := range quiz.Questions {
			if err := publishQuestion(ctx, tx, qq.Question); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(&quizQuestionModel{
				ID:         qq.ID,
				QuizID:     quiz.ID,
				QuestionID: qq.Question.ID,
				Position:   qq.Order,
				Points:     qq.Points,
			}).Exec(ctx)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: quiz question %s already belongs to another quiz", domain.ErrInvalidQuiz, qq.ID)
				}
				return storeErr("insert quiz question", err)
			}
		}
		return nil
	})
}

func publishQuestion(ctx context.Context, tx bun.Tx, q domain.Question) error {
	res, err := tx.NewInsert().Model(&questionModel{
		ID:         q.ID,
		Text:       q.Text,
		Kind:       string(q.Kind),
		Difficulty: q.Difficulty,
	}).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return storeErr("insert question", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var stored []string
		err := tx.NewSelect().Model((*answerModel)(nil)).
			Column("id").
			Where("question_id = ?", q.ID).
			Order("position").
			Scan(ctx, &stored)
		if err != nil {
			return storeErr("load answers", err)
		}
		given := make([]string, 0, len(q.Answers))
		for _, a := range q.Answers {
			given = append(given, a.ID)
		}
		if !slices.Equal(stored, given) {
			return fmt.Errorf("%w: question %s already published with different answers", domain.ErrInvalidQuiz, q.ID)
		}
		return nil
	}

	answers := make([]answerModel, 0, len(q.Answers))
	for i, a := range q.Answers {
		answers = append(answers, answerModel{
			ID:          a.ID,
			QuestionID:  q.ID,
			Text:        a.Text,
			IsCorrect:   a.IsCorrect,
			Explanation: a.Explanation,
			Position:    i,
		})
	}
	if _, err := tx.NewInsert().Model(&answers).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: answer of question %s already published", domain.ErrInvalidQuiz, q.ID)
		}
		return storeErr("insert answers", err)
	}
	return nil
}
