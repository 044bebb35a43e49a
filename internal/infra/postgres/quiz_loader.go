package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quiz-room-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads published quizzes from the relational catalog tables.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var (
		quiz         domain.Quiz
		limitSeconds int
	)
	err := l.pool.QueryRow(ctx,
		`SELECT id, title, description, subject, level, time_limit_seconds FROM quizzes WHERE id = $1`,
		quizID,
	).Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.Subject, &quiz.Level, &limitSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, domain.Unavailable("load quiz", err)
	}
	quiz.TimeLimit = time.Duration(limitSeconds) * time.Second

	rows, err := l.pool.Query(ctx, `
		SELECT qq.id, qq.position, qq.points,
		       q.id, q.text, q.kind, q.difficulty,
		       a.id, a.text, a.is_correct, a.explanation
		  FROM quiz_questions qq
		  JOIN questions q ON q.id = qq.question_id
		  JOIN answers a ON a.question_id = q.id
		 WHERE qq.quiz_id = $1
		 ORDER BY qq.position, a.position, a.id`, quizID)
	if err != nil {
		return domain.Quiz{}, domain.Unavailable("load quiz questions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			qq   domain.QuizQuestion
			kind string
			ans  domain.Answer
		)
		if err := rows.Scan(&qq.ID, &qq.Order, &qq.Points,
			&qq.Question.ID, &qq.Question.Text, &kind, &qq.Question.Difficulty,
			&ans.ID, &ans.Text, &ans.IsCorrect, &ans.Explanation); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan quiz question: %w", err)
		}
		ans.QuestionID = qq.Question.ID

		// rows arrive grouped by quiz question
		last := len(quiz.Questions) - 1
		if last < 0 || quiz.Questions[last].ID != qq.ID {
			qq.Question.Kind = domain.QuestionKind(kind)
			quiz.Questions = append(quiz.Questions, qq)
			last++
		}
		quiz.Questions[last].Question.Answers = append(quiz.Questions[last].Question.Answers, ans)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, domain.Unavailable("load quiz questions", err)
	}
	return quiz, nil
}
