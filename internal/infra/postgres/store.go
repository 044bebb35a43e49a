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

// Store implements app.Store on Postgres. Admission locks the room row, and
// response uniqueness rests on the (participant_id, quiz_question_id) constraint.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(newRoomModel(room)).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrRoomCodeTaken
			}
			return storeErr("create room", err)
		}
		if _, err := tx.NewInsert().Model(newParticipantModel(host)).Exec(ctx); err != nil {
			return storeErr("create host", err)
		}
		return nil
	})
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var m roomModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", roomID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("get room", err)
	}
	return m.toDomain(), nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	var m roomModel
	err := s.db.NewSelect().Model(&m).
		Where("code = ?", code).
		OrderExpr("is_active DESC, created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("get room by code", err)
	}
	return m.toDomain(), nil
}

func (s *Store) DeactivateRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*roomModel)(nil)).
		Set("is_active = FALSE").
		Set("closed_at = ?", at).
		Where("id = ?", roomID).
		Where("is_active").
		Exec(ctx)
	if err != nil {
		return false, storeErr("deactivate room", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	exists, err := s.db.NewSelect().Model((*roomModel)(nil)).Where("id = ?", roomID).Exists(ctx)
	if err != nil {
		return false, storeErr("deactivate room", err)
	}
	if !exists {
		return false, domain.ErrRoomNotFound
	}
	return false, nil
}

func (s *Store) ListRoomsToClose(ctx context.Context, now time.Time, limit int) ([]domain.Room, error) {
	var models []roomModel
	q := s.db.NewSelect().Model(&models).
		Where("is_active").
		Where("ends_at <= ?", now).
		Order("ends_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, storeErr("list rooms to close", err)
	}
	rooms := make([]domain.Room, 0, len(models))
	for _, m := range models {
		rooms = append(rooms, m.toDomain())
	}
	return rooms, nil
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := s.db.NewDelete().Model((*roomModel)(nil)).Where("id = ?", roomID).Exec(ctx)
	if err != nil {
		return storeErr("delete room", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// lockOpenRoom loads the room row with the given lock strength and checks it is open at now.
func lockOpenRoom(ctx context.Context, tx bun.Tx, roomID, lock string, now time.Time) (domain.Room, error) {
	var m roomModel
	if err := tx.NewSelect().Model(&m).Where("id = ?", roomID).For(lock).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("lock room", err)
	}
	room := m.toDomain()
	if domain.StateAt(room, now) != domain.RoomOpen {
		return domain.Room{}, domain.ErrRoomNotOpen
	}
	return room, nil
}

func activeCount(ctx context.Context, tx bun.Tx, roomID string) (int, error) {
	n, err := tx.NewSelect().Model((*participantModel)(nil)).
		Where("room_id = ?", roomID).
		Where("left_at IS NULL").
		Count(ctx)
	if err != nil {
		return 0, storeErr("count participants", err)
	}
	return n, nil
}

func findMember(ctx context.Context, db bun.IDB, roomID, userID string) (participantModel, error) {
	var m participantModel
	err := db.NewSelect().Model(&m).Where("room_id = ?", roomID).Where("user_id = ?", userID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return participantModel{}, domain.ErrParticipantNotFound
		}
		return participantModel{}, storeErr("find participant", err)
	}
	return m, nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant, now time.Time) (domain.Participant, error) {
	var admitted domain.Participant
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		room, err := lockOpenRoom(ctx, tx, p.RoomID, "UPDATE", now)
		if err != nil {
			return err
		}
		existing, err := findMember(ctx, tx, p.RoomID, p.UserID)
		found := err == nil
		switch {
		case found && existing.LeftAt == nil:
			return domain.ErrAlreadyJoined
		case !found && !errors.Is(err, domain.ErrParticipantNotFound):
			return err
		}
		active, err := activeCount(ctx, tx, p.RoomID)
		if err != nil {
			return err
		}
		if active >= room.Capacity {
			return domain.ErrRoomFull
		}

		if found {
			existing.LeftAt = nil
			existing.JoinedAt = p.JoinedAt
			if p.DisplayName != "" {
				existing.DisplayName = p.DisplayName
			}
			if _, err := tx.NewUpdate().Model(&existing).
				Column("left_at", "joined_at", "display_name").
				WherePK().
				Exec(ctx); err != nil {
				return storeErr("rejoin participant", err)
			}
			admitted = existing.toDomain()
			return nil
		}
		if _, err := tx.NewInsert().Model(newParticipantModel(p)).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyJoined
			}
			return storeErr("add participant", err)
		}
		admitted = p
		return nil
	})
	return admitted, err
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID string, now time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lockOpenRoom(ctx, tx, roomID, "UPDATE", now); err != nil {
			return err
		}
		m, err := findMember(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if m.LeftAt != nil {
			return domain.ErrParticipantNotFound
		}
		if m.IsHost {
			active, err := activeCount(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if active > 1 {
				return domain.ErrHostCannotLeave
			}
		}
		if _, err := tx.NewUpdate().Model((*participantModel)(nil)).
			Set("left_at = ?", now).
			Where("id = ?", m.ID).
			Exec(ctx); err != nil {
			return storeErr("remove participant", err)
		}
		return nil
	})
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var m participantModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", participantID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return domain.Participant{}, storeErr("get participant", err)
	}
	return m.toDomain(), nil
}

func (s *Store) FindParticipant(ctx context.Context, roomID, userID string) (domain.Participant, error) {
	m, err := findMember(ctx, s.db, roomID, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	return m.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID string, includeLeft bool) ([]domain.Participant, error) {
	var models []participantModel
	q := s.db.NewSelect().Model(&models).Where("room_id = ?", roomID)
	if !includeLeft {
		q = q.Where("left_at IS NULL")
	}
	if err := q.Order("joined_at", "id").Scan(ctx); err != nil {
		return nil, storeErr("list participants", err)
	}
	out := make([]domain.Participant, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

var _ app.Store = (*Store)(nil)
