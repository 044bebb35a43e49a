package app

import (
	"context"
	"errors"

	"quiz-room-service/internal/domain"

	"go.uber.org/zap"
)

// Join admits userID to an open room. Repeating the call returns the same
// participant, so client retries are harmless.
func (s *SessionService) Join(ctx context.Context, roomID, userID, displayName string) (domain.Participant, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Participant{}, err
	}
	now := s.now()
	if domain.StateAt(room, now) != domain.RoomOpen {
		return domain.Participant{}, domain.ErrRoomNotOpen
	}

	participant, err := s.store.AddParticipant(ctx, domain.Participant{
		ID:          s.newID(),
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    now,
	}, now)
	if errors.Is(err, domain.ErrAlreadyJoined) {
		return s.store.FindParticipant(ctx, roomID, userID)
	}
	if err != nil {
		return domain.Participant{}, err
	}

	s.logger.Info("participant joined",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("participant_id", participant.ID),
	)
	return participant, nil
}

// Leave ends userID's membership. Responses already recorded are kept.
func (s *SessionService) Leave(ctx context.Context, roomID, userID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	now := s.now()
	if domain.StateAt(room, now) != domain.RoomOpen {
		return domain.ErrRoomNotOpen
	}
	if err := s.store.RemoveParticipant(ctx, roomID, userID, now); err != nil {
		return err
	}
	s.logger.Info("participant left", zap.String("room_id", roomID), zap.String("user_id", userID))
	return nil
}

// Participants lists a room's members; includeLeft adds those who left.
func (s *SessionService) Participants(ctx context.Context, roomID string, includeLeft bool) ([]domain.Participant, error) {
	return s.store.ListParticipants(ctx, roomID, includeLeft)
}
