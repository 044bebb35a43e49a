package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"

	"github.com/uptrace/bun"
)

// gateSubmission checks the participant is active and share-locks its room,
// so a concurrent CloseRoom waits for the submission to commit.
func gateSubmission(ctx context.Context, tx bun.Tx, participantID string, now time.Time) error {
	var p participantModel
	if err := tx.NewSelect().Model(&p).Where("id = ?", participantID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRoomNotOpen
		}
		return storeErr("load participant", err)
	}
	if p.LeftAt != nil {
		return domain.ErrRoomNotOpen
	}
	_, err := lockOpenRoom(ctx, tx, p.RoomID, "SHARE", now)
	return err
}

func (s *Store) InsertResponse(ctx context.Context, r domain.Response, now time.Time) (domain.Response, error) {
	// Postgres keeps microseconds; return what a later read will see.
	m := &responseModel{
		ID:               r.ID,
		ParticipantID:    r.ParticipantID,
		QuizQuestionID:   r.QuizQuestionID,
		AnswerIDs:        r.AnswerIDs,
		FirstRespondedAt: r.FirstRespondedAt.Truncate(time.Microsecond),
		LastModifiedAt:   r.LastModifiedAt.Truncate(time.Microsecond),
		TimeTakenMS:      r.TimeTakenMS,
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := gateSubmission(ctx, tx, r.ParticipantID, now); err != nil {
			return err
		}
		res, err := tx.NewInsert().Model(m).
			On("CONFLICT (participant_id, quiz_question_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return storeErr("insert response", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrResponseExists
		}
		return nil
	})
	if err != nil {
		return domain.Response{}, err
	}
	return m.toDomain(), nil
}

func (s *Store) ReviseResponse(ctx context.Context, participantID, quizQuestionID string, answerIDs []string, now time.Time) (domain.Response, error) {
	var m responseModel
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := gateSubmission(ctx, tx, participantID, now); err != nil {
			return err
		}
		err := tx.NewSelect().Model(&m).
			Where("participant_id = ?", participantID).
			Where("quiz_question_id = ?", quizQuestionID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrParticipantNotFound
			}
			return storeErr("load response", err)
		}
		m.AnswerIDs = answerIDs
		m.LastModifiedAt = now.Truncate(time.Microsecond)
		m.TimeTakenMS = app.ElapsedMS(m.FirstRespondedAt, m.LastModifiedAt)
		if _, err := tx.NewUpdate().Model(&m).
			Column("answer_ids", "last_modified_at", "time_taken_ms").
			WherePK().
			Exec(ctx); err != nil {
			return storeErr("revise response", err)
		}
		return nil
	})
	if err != nil {
		return domain.Response{}, err
	}
	return m.toDomain(), nil
}

func (s *Store) ListResponses(ctx context.Context, participantID string) ([]domain.Response, error) {
	var models []responseModel
	err := s.db.NewSelect().Model(&models).
		Where("participant_id = ?", participantID).
		Order("quiz_question_id").
		Scan(ctx)
	if err != nil {
		return nil, storeErr("list responses", err)
	}
	out := make([]domain.Response, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) PutScore(ctx context.Context, score domain.Score) error {
	m := &scoreModel{
		ParticipantID:       score.ParticipantID,
		TotalPossiblePoints: score.TotalPossiblePoints,
		EarnedPoints:        score.EarnedPoints,
		Percentage:          score.Percentage,
		AsOf:                score.AsOf,
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (participant_id) DO UPDATE").
		Set("total_possible_points = EXCLUDED.total_possible_points").
		Set("earned_points = EXCLUDED.earned_points").
		Set("percentage = EXCLUDED.percentage").
		Set("as_of = EXCLUDED.as_of").
		Exec(ctx)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrParticipantNotFound
		}
		return storeErr("put score", err)
	}
	return nil
}

func (s *Store) GetScore(ctx context.Context, participantID string) (domain.Score, error) {
	var m scoreModel
	if err := s.db.NewSelect().Model(&m).Where("participant_id = ?", participantID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Score{}, domain.ErrScoreNotFound
		}
		return domain.Score{}, storeErr("get score", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListScores(ctx context.Context, roomID string) ([]domain.Score, error) {
	var models []scoreModel
	err := s.db.NewSelect().Model(&models).
		Join("JOIN participants AS p ON p.id = s.participant_id").
		Where("p.room_id = ?", roomID).
		Order("s.participant_id").
		Scan(ctx)
	if err != nil {
		return nil, storeErr("list scores", err)
	}
	out := make([]domain.Score, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}
