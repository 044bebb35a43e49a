package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"quiz-room-service/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ComputeScore recomputes and stores the participant's score from their responses.
func (s *SessionService) ComputeScore(ctx context.Context, participantID string) (domain.Score, error) {
	participant, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.Score{}, err
	}
	room, err := s.store.GetRoom(ctx, participant.RoomID)
	if err != nil {
		return domain.Score{}, err
	}
	return s.scoreParticipant(ctx, room, participant)
}

// Score returns the last stored score without recomputing it.
func (s *SessionService) Score(ctx context.Context, participantID string) (domain.Score, error) {
	return s.store.GetScore(ctx, participantID)
}

// Leaderboard ranks the stored scores of a room: earned points desc, then who
// got there first, then name.
func (s *SessionService) Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, error) {
	scores, err := s.store.ListScores(ctx, roomID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	participants, err := s.store.ListParticipants(ctx, roomID, true)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	byID := make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, score := range scores {
		p := byID[score.ParticipantID]
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: score.ParticipantID,
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
			EarnedPoints:  score.EarnedPoints,
			Percentage:    score.Percentage,
			AsOf:          score.AsOf,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EarnedPoints != entries[j].EarnedPoints {
			return entries[i].EarnedPoints > entries[j].EarnedPoints
		}
		if !entries[i].AsOf.Equal(entries[j].AsOf) {
			return entries[i].AsOf.Before(entries[j].AsOf)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return domain.Leaderboard{RoomID: roomID, Entries: entries}, nil
}

func (s *SessionService) scoreParticipant(ctx context.Context, room domain.Room, participant domain.Participant) (domain.Score, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.Score{}, err
	}
	responses, err := s.store.ListResponses(ctx, participant.ID)
	if err != nil {
		return domain.Score{}, err
	}
	score := domain.ComputeScore(participant.ID, quiz, responses, room.StartsAt)
	if err := s.store.PutScore(ctx, score); err != nil {
		return domain.Score{}, err
	}
	return score, nil
}

// finalize scores every active participant. Each participant is retried on
// its own; one failure never stops the others.
func (s *SessionService) finalize(ctx context.Context, room domain.Room) ([]domain.Score, error) {
	participants, err := s.store.ListParticipants(ctx, room.ID, false)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		scores = make([]domain.Score, 0, len(participants))
		failed = make(map[string]error)
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.FinalizeConcurrency)
	for _, p := range participants {
		g.Go(func() error {
			score, err := s.scoreWithRetry(ctx, room, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[p.ID] = err
				s.logger.Error("participant not scored",
					zap.String("room_id", room.ID),
					zap.String("participant_id", p.ID),
					zap.Error(err),
				)
				return nil
			}
			scores = append(scores, score)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(scores, func(i, j int) bool { return scores[i].ParticipantID < scores[j].ParticipantID })
	if len(failed) > 0 {
		return scores, &domain.FinalizationError{RoomID: room.ID, Failed: failed}
	}
	s.logger.Info("room finalized", zap.String("room_id", room.ID), zap.Int("participants", len(scores)))
	return scores, nil
}

func (s *SessionService) scoreWithRetry(ctx context.Context, room domain.Room, p domain.Participant) (domain.Score, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.FinalizeBackoff
	bo.MaxInterval = 20 * s.opts.FinalizeBackoff

	var score domain.Score
	attempt := 0
	op := func() error {
		attempt++
		var err error
		score, err = s.scoreParticipant(ctx, room, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		if uint64(attempt) <= s.opts.FinalizeRetries {
			s.logger.Warn("retrying participant score",
				zap.String("participant_id", p.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.opts.FinalizeRetries), ctx)); err != nil {
		return domain.Score{}, err
	}
	return score, nil
}
