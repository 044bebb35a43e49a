package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// submittableTx checks that the participant is active and its room open at now.
func submittableTx(ctx context.Context, tx *sql.Tx, participantID string, now time.Time) error {
	var (
		roomID string
		leftAt sql.NullInt64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT room_id, left_at FROM participants WHERE id = ?`, participantID).Scan(&roomID, &leftAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRoomNotOpen
		}
		return storeErr("load participant", err)
	}
	if leftAt.Valid {
		return domain.ErrRoomNotOpen
	}
	_, err = openRoomTx(ctx, tx, roomID, now)
	return err
}

func (s *Store) InsertResponse(ctx context.Context, r domain.Response, now time.Time) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	answers, err := json.Marshal(r.AnswerIDs)
	if err != nil {
		return domain.Response{}, fmt.Errorf("encode answer ids: %w", err)
	}
	err = s.inTx(ctx, "insert response", func(tx *sql.Tx) error {
		if err := submittableTx(ctx, tx, r.ParticipantID, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO responses (id, participant_id, quiz_question_id, answer_ids, first_responded_at, last_modified_at, time_taken_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (participant_id, quiz_question_id) DO NOTHING`,
			r.ID, r.ParticipantID, r.QuizQuestionID, string(answers),
			toMillis(r.FirstRespondedAt), toMillis(r.LastModifiedAt), r.TimeTakenMS,
		)
		if err != nil {
			return storeErr("insert response", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr("insert response", err)
		}
		if n == 0 {
			return domain.ErrResponseExists
		}
		return nil
	})
	if err != nil {
		return domain.Response{}, err
	}
	// Stored timestamps have millisecond precision.
	r.FirstRespondedAt = fromMillis(toMillis(r.FirstRespondedAt))
	r.LastModifiedAt = fromMillis(toMillis(r.LastModifiedAt))
	return r, nil
}

const responseColumns = `id, participant_id, quiz_question_id, answer_ids, first_responded_at, last_modified_at, time_taken_ms`

func scanResponse(row rowScanner) (domain.Response, error) {
	var (
		r                     domain.Response
		answers               string
		firstAt, lastModified int64
	)
	if err := row.Scan(&r.ID, &r.ParticipantID, &r.QuizQuestionID, &answers, &firstAt, &lastModified, &r.TimeTakenMS); err != nil {
		return domain.Response{}, err
	}
	if err := json.Unmarshal([]byte(answers), &r.AnswerIDs); err != nil {
		return domain.Response{}, fmt.Errorf("decode answer ids: %w", err)
	}
	r.FirstRespondedAt = fromMillis(firstAt)
	r.LastModifiedAt = fromMillis(lastModified)
	return r, nil
}

func (s *Store) ReviseResponse(ctx context.Context, participantID, quizQuestionID string, answerIDs []string, now time.Time) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	answers, err := json.Marshal(answerIDs)
	if err != nil {
		return domain.Response{}, fmt.Errorf("encode answer ids: %w", err)
	}
	var revised domain.Response
	err = s.inTx(ctx, "revise response", func(tx *sql.Tx) error {
		if err := submittableTx(ctx, tx, participantID, now); err != nil {
			return err
		}
		current, err := scanResponse(tx.QueryRowContext(ctx,
			`SELECT `+responseColumns+` FROM responses WHERE participant_id = ? AND quiz_question_id = ?`,
			participantID, quizQuestionID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrParticipantNotFound
			}
			return storeErr("load response", err)
		}

		current.AnswerIDs = append([]string(nil), answerIDs...)
		current.LastModifiedAt = fromMillis(toMillis(now))
		current.TimeTakenMS = app.ElapsedMS(current.FirstRespondedAt, current.LastModifiedAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE responses SET answer_ids = ?, last_modified_at = ?, time_taken_ms = ? WHERE id = ?`,
			string(answers), toMillis(current.LastModifiedAt), current.TimeTakenMS, current.ID); err != nil {
			return storeErr("revise response", err)
		}
		revised = current
		return nil
	})
	return revised, err
}

func (s *Store) ListResponses(ctx context.Context, participantID string) ([]domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE participant_id = ? ORDER BY quiz_question_id`, participantID)
	if err != nil {
		return nil, storeErr("list responses", err)
	}
	defer rows.Close()

	var out []domain.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, storeErr("scan response", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list responses", err)
	}
	return out, nil
}

func (s *Store) PutScore(ctx context.Context, score domain.Score) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO scores (participant_id, total_possible_points, earned_points, percentage, as_of)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (participant_id) DO UPDATE SET
		   total_possible_points = excluded.total_possible_points,
		   earned_points = excluded.earned_points,
		   percentage = excluded.percentage,
		   as_of = excluded.as_of`,
		score.ParticipantID, score.TotalPossiblePoints, score.EarnedPoints, score.Percentage.StringFixed(2), toMillis(score.AsOf),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrParticipantNotFound
		}
		return storeErr("put score", err)
	}
	return nil
}

const scoreColumns = `s.participant_id, s.total_possible_points, s.earned_points, s.percentage, s.as_of`

func scanScore(row rowScanner) (domain.Score, error) {
	var (
		score domain.Score
		asOf  int64
	)
	if err := row.Scan(&score.ParticipantID, &score.TotalPossiblePoints, &score.EarnedPoints, &score.Percentage, &asOf); err != nil {
		return domain.Score{}, err
	}
	score.AsOf = fromMillis(asOf)
	return score, nil
}

func (s *Store) GetScore(ctx context.Context, participantID string) (domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return domain.Score{}, err
	}
	score, err := scanScore(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s WHERE s.participant_id = ?`, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Score{}, domain.ErrScoreNotFound
		}
		return domain.Score{}, storeErr("get score", err)
	}
	return score, nil
}

func (s *Store) ListScores(ctx context.Context, roomID string) ([]domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM scores s
		   JOIN participants p ON p.id = s.participant_id
		  WHERE p.room_id = ?
		  ORDER BY s.participant_id`, roomID)
	if err != nil {
		return nil, storeErr("list scores", err)
	}
	defer rows.Close()

	var out []domain.Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, storeErr("scan score", err)
		}
		out = append(out, score)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list scores", err)
	}
	return out, nil
}

var _ app.Store = (*Store)(nil)
