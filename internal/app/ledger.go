package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"quiz-room-service/internal/domain"

	"go.uber.org/zap"
)

// Submission is one answer attempt from a participant.
type Submission struct {
	ParticipantID  string
	QuizQuestionID string
	AnswerIDs      []string
}

// SubmitResult reports the stored response and whether it revised an earlier one.
type SubmitResult struct {
	Response domain.Response `json:"response"`
	Revision bool            `json:"revision"`
}

// Submit records an answer. The first write for (participant, question) wins
// the insert and fixes FirstRespondedAt; every later write, including racing
// first writes, becomes a revision of that row.
func (s *SessionService) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	participant, err := s.store.GetParticipant(ctx, sub.ParticipantID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !participant.Active() {
		return SubmitResult{}, domain.ErrParticipantNotFound
	}
	room, err := s.store.GetRoom(ctx, participant.RoomID)
	if err != nil {
		return SubmitResult{}, err
	}
	now := s.now()
	if domain.StateAt(room, now) != domain.RoomOpen {
		return SubmitResult{}, domain.ErrRoomNotOpen
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	qq, ok := quiz.QuizQuestion(sub.QuizQuestionID)
	if !ok {
		return SubmitResult{}, domain.ErrQuestionNotInQuiz
	}
	if err := qq.Question.CheckSelection(sub.AnswerIDs); err != nil {
		return SubmitResult{}, err
	}
	answers := append([]string(nil), sub.AnswerIDs...)
	sort.Strings(answers)

	resp, err := s.store.InsertResponse(ctx, domain.Response{
		ID:               s.newID(),
		ParticipantID:    participant.ID,
		QuizQuestionID:   qq.ID,
		AnswerIDs:        answers,
		FirstRespondedAt: now,
		LastModifiedAt:   now,
		TimeTakenMS:      ElapsedMS(room.StartsAt, now),
	}, now)
	if err == nil {
		s.logger.Debug("response recorded",
			zap.String("participant_id", participant.ID),
			zap.String("quiz_question_id", qq.ID),
			zap.Int64("time_taken_ms", resp.TimeTakenMS),
		)
		return SubmitResult{Response: resp}, nil
	}
	if !errors.Is(err, domain.ErrResponseExists) {
		return SubmitResult{}, err
	}

	resp, err = s.store.ReviseResponse(ctx, participant.ID, qq.ID, answers, now)
	if err != nil {
		return SubmitResult{}, err
	}
	s.logger.Debug("response revised",
		zap.String("participant_id", participant.ID),
		zap.String("quiz_question_id", qq.ID),
		zap.Time("first_responded_at", resp.FirstRespondedAt),
	)
	return SubmitResult{Response: resp, Revision: true}, nil
}

// ElapsedMS is the whole milliseconds from from to to, floored at zero.
func ElapsedMS(from, to time.Time) int64 {
	d := to.Sub(from).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
