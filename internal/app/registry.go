package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quiz-room-service/internal/domain"

	"go.uber.org/zap"
)

// CreateRoomInput describes a room to open for a published quiz.
type CreateRoomInput struct {
	QuizID      string
	CreatorID   string
	CreatorName string
	StartsAt    time.Time
	// EndsAt defaults to StartsAt plus the quiz time limit when zero.
	EndsAt   time.Time
	Capacity int
}

// FinalizeReport summarizes a CloseRoom call.
type FinalizeReport struct {
	RoomID        string         `json:"roomId"`
	AlreadyClosed bool           `json:"alreadyClosed"`
	Scores        []domain.Score `json:"scores"`
}

// CreateRoom opens a room for the quiz and seats the creator as host.
func (s *SessionService) CreateRoom(ctx context.Context, in CreateRoomInput) (domain.Room, domain.Participant, error) {
	if in.Capacity < 1 {
		return domain.Room{}, domain.Participant{}, domain.ErrInvalidCapacity
	}
	quiz, err := s.quizzes.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return domain.Room{}, domain.Participant{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.Room{}, domain.Participant{}, err
	}

	endsAt := in.EndsAt
	if endsAt.IsZero() && quiz.TimeLimit > 0 {
		endsAt = in.StartsAt.Add(quiz.TimeLimit)
	}
	if err := domain.ValidateWindow(in.StartsAt, endsAt, in.Capacity); err != nil {
		return domain.Room{}, domain.Participant{}, err
	}

	now := s.now()
	ttl := endsAt.Sub(now) + s.opts.CodeRetention
	if ttl < s.opts.CodeRetention {
		ttl = s.opts.CodeRetention
	}

	for attempt := 1; attempt <= s.opts.CodeAttempts; attempt++ {
		code, err := GenerateCode(s.opts.CodeLength)
		if err != nil {
			return domain.Room{}, domain.Participant{}, err
		}
		if err := s.codes.Reserve(ctx, code, ttl); err != nil {
			if errors.Is(err, domain.ErrRoomCodeTaken) {
				s.logger.Debug("room code reserved elsewhere", zap.String("code", code), zap.Int("attempt", attempt))
				continue
			}
			return domain.Room{}, domain.Participant{}, err
		}

		room := domain.Room{
			ID:        s.newID(),
			Code:      code,
			QuizID:    quiz.ID,
			CreatedBy: in.CreatorID,
			StartsAt:  in.StartsAt,
			EndsAt:    endsAt,
			Capacity:  in.Capacity,
			IsActive:  true,
			CreatedAt: now,
		}
		host := domain.Participant{
			ID:          s.newID(),
			RoomID:      room.ID,
			UserID:      in.CreatorID,
			DisplayName: in.CreatorName,
			IsHost:      true,
			JoinedAt:    now,
		}
		if err := s.store.CreateRoom(ctx, room, host); err != nil {
			if errors.Is(err, domain.ErrRoomCodeTaken) {
				continue
			}
			if relErr := s.codes.Release(ctx, code); relErr != nil {
				s.logger.Warn("release room code", zap.String("code", code), zap.Error(relErr))
			}
			return domain.Room{}, domain.Participant{}, err
		}

		s.logger.Info("room created",
			zap.String("room_id", room.ID),
			zap.String("code", room.Code),
			zap.String("quiz_id", room.QuizID),
			zap.Time("starts_at", room.StartsAt),
			zap.Time("ends_at", room.EndsAt),
			zap.Int("capacity", room.Capacity),
		)
		return room, host, nil
	}
	return domain.Room{}, domain.Participant{}, fmt.Errorf("create room after %d attempts: %w", s.opts.CodeAttempts, domain.ErrRoomCodeTaken)
}

// Room loads a room by id.
func (s *SessionService) Room(ctx context.Context, roomID string) (domain.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// RoomByCode loads a room by its human-entered code.
func (s *SessionService) RoomByCode(ctx context.Context, code string) (domain.Room, error) {
	return s.store.GetRoomByCode(ctx, code)
}

// CloseRoom deactivates the room and scores its participants. Only the call
// that flips the active flag finalizes; later calls report AlreadyClosed.
func (s *SessionService) CloseRoom(ctx context.Context, roomID string) (FinalizeReport, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return FinalizeReport{}, err
	}
	closedAt := s.now()
	flipped, err := s.store.DeactivateRoom(ctx, roomID, closedAt)
	if err != nil {
		return FinalizeReport{}, err
	}
	if !flipped {
		return FinalizeReport{RoomID: roomID, AlreadyClosed: true}, nil
	}
	room.IsActive = false
	room.ClosedAt = &closedAt

	s.logger.Info("room closed", zap.String("room_id", roomID), zap.Time("closed_at", closedAt))
	scores, err := s.finalize(ctx, room)
	return FinalizeReport{RoomID: roomID, Scores: scores}, err
}

// DeleteRoom removes a room and everything it owns.
func (s *SessionService) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.logger.Info("room deleted", zap.String("room_id", roomID))
	return nil
}

// CloseExpired closes active rooms whose window has ended and returns how many it closed.
func (s *SessionService) CloseExpired(ctx context.Context) (int, error) {
	rooms, err := s.store.ListRoomsToClose(ctx, s.now(), s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, room := range rooms {
		report, err := s.CloseRoom(ctx, room.ID)
		if err != nil {
			s.logger.Warn("close expired room", zap.String("room_id", room.ID), zap.Error(err))
		}
		if !report.AlreadyClosed && report.RoomID != "" {
			closed++
		}
	}
	return closed, nil
}

// RunSweeper calls CloseExpired every interval until ctx is done.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CloseExpired(ctx)
			if err != nil {
				s.logger.Warn("room sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("room sweep closed rooms", zap.Int("count", n))
			}
		}
	}
}
