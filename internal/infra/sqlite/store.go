// Package sqlite provides a single-node SQLite implementation of the room store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"quiz-room-service/internal/domain"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists rooms, participants, responses and scores in SQLite.
// It holds a single connection, so transactions are serialized.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

const roomColumns = `id, code, quiz_id, created_by, starts_at, ends_at, capacity, is_active, created_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var (
		room                        domain.Room
		startsAt, endsAt, createdAt int64
		closedAt                    sql.NullInt64
	)
	err := row.Scan(&room.ID, &room.Code, &room.QuizID, &room.CreatedBy,
		&startsAt, &endsAt, &room.Capacity, &room.IsActive, &createdAt, &closedAt)
	if err != nil {
		return domain.Room{}, err
	}
	room.StartsAt = fromMillis(startsAt)
	room.EndsAt = fromMillis(endsAt)
	room.CreatedAt = fromMillis(createdAt)
	room.ClosedAt = fromNullMillis(closedAt)
	return room, nil
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inTx(ctx, "create room", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			room.ID, room.Code, room.QuizID, room.CreatedBy,
			toMillis(room.StartsAt), toMillis(room.EndsAt), room.Capacity, room.IsActive,
			toMillis(room.CreatedAt), nullMillis(room.ClosedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrRoomCodeTaken
			}
			return storeErr("create room", err)
		}
		return insertParticipant(ctx, tx, host)
	})
}

func insertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO participants (id, room_id, user_id, display_name, is_host, joined_at, left_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RoomID, p.UserID, p.DisplayName, p.IsHost, toMillis(p.JoinedAt), nullMillis(p.LeftAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyJoined
		}
		return storeErr("insert participant", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}
	room, err := scanRoom(s.sqlDB.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("get room", err)
	}
	return room, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}
	room, err := scanRoom(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE code = ?
		  ORDER BY is_active DESC, created_at DESC
		  LIMIT 1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("get room by code", err)
	}
	return room, nil
}

func (s *Store) DeactivateRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var flipped bool
	err := s.inTx(ctx, "deactivate room", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rooms SET is_active = 0, closed_at = ? WHERE id = ? AND is_active = 1`,
			toMillis(at), roomID)
		if err != nil {
			return storeErr("deactivate room", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr("deactivate room", err)
		}
		if n == 1 {
			flipped = true
			return nil
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE id = ?`, roomID).Scan(&exists); err != nil {
			return storeErr("deactivate room", err)
		}
		if exists == 0 {
			return domain.ErrRoomNotFound
		}
		return nil
	})
	return flipped, err
}

func (s *Store) ListRoomsToClose(ctx context.Context, now time.Time, limit int) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms
		  WHERE is_active = 1 AND ends_at <= ?
		  ORDER BY ends_at
		  LIMIT ?`, toMillis(now), limit)
	if err != nil {
		return nil, storeErr("list rooms to close", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, storeErr("scan room", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rooms to close", err)
	}
	return rooms, nil
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID)
	if err != nil {
		return storeErr("delete room", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete room", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// openRoomTx loads the room inside tx and checks it is open at now.
func openRoomTx(ctx context.Context, tx *sql.Tx, roomID string, now time.Time) (domain.Room, error) {
	room, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, storeErr("load room", err)
	}
	if domain.StateAt(room, now) != domain.RoomOpen {
		return domain.Room{}, domain.ErrRoomNotOpen
	}
	return room, nil
}

func activeCountTx(ctx context.Context, tx *sql.Tx, roomID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM participants WHERE room_id = ? AND left_at IS NULL`, roomID).Scan(&n)
	if err != nil {
		return 0, storeErr("count participants", err)
	}
	return n, nil
}

const participantColumns = `id, room_id, user_id, display_name, is_host, joined_at, left_at`

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p        domain.Participant
		joinedAt int64
		leftAt   sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.RoomID, &p.UserID, &p.DisplayName, &p.IsHost, &joinedAt, &leftAt); err != nil {
		return domain.Participant{}, err
	}
	p.JoinedAt = fromMillis(joinedAt)
	p.LeftAt = fromNullMillis(leftAt)
	return p, nil
}

func findParticipantTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, roomID, userID string) (domain.Participant, error) {
	p, err := scanParticipant(q.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE room_id = ? AND user_id = ?`, roomID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return domain.Participant{}, storeErr("find participant", err)
	}
	return p, nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant, now time.Time) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	var admitted domain.Participant
	err := s.inTx(ctx, "add participant", func(tx *sql.Tx) error {
		room, err := openRoomTx(ctx, tx, p.RoomID, now)
		if err != nil {
			return err
		}
		existing, err := findParticipantTx(ctx, tx, p.RoomID, p.UserID)
		found := err == nil
		switch {
		case found && existing.Active():
			return domain.ErrAlreadyJoined
		case !found && !errors.Is(err, domain.ErrParticipantNotFound):
			return err
		}
		active, err := activeCountTx(ctx, tx, p.RoomID)
		if err != nil {
			return err
		}
		if active >= room.Capacity {
			return domain.ErrRoomFull
		}

		if found {
			// rejoin: reactivate the existing membership row
			existing.LeftAt = nil
			existing.JoinedAt = p.JoinedAt
			if p.DisplayName != "" {
				existing.DisplayName = p.DisplayName
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE participants SET left_at = NULL, joined_at = ?, display_name = ? WHERE id = ?`,
				toMillis(existing.JoinedAt), existing.DisplayName, existing.ID); err != nil {
				return storeErr("rejoin participant", err)
			}
			admitted = existing
			return nil
		}
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
		admitted = p
		return nil
	})
	return admitted, err
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inTx(ctx, "remove participant", func(tx *sql.Tx) error {
		if _, err := openRoomTx(ctx, tx, roomID, now); err != nil {
			return err
		}
		p, err := findParticipantTx(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if !p.Active() {
			return domain.ErrParticipantNotFound
		}
		if p.IsHost {
			active, err := activeCountTx(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if active > 1 {
				return domain.ErrHostCannotLeave
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET left_at = ? WHERE id = ?`, toMillis(now), p.ID); err != nil {
			return storeErr("remove participant", err)
		}
		return nil
	})
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	p, err := scanParticipant(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return domain.Participant{}, storeErr("get participant", err)
	}
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, roomID, userID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	return findParticipantTx(ctx, s.sqlDB, roomID, userID)
}

func (s *Store) ListParticipants(ctx context.Context, roomID string, includeLeft bool) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT ` + participantColumns + ` FROM participants WHERE room_id = ?`
	if !includeLeft {
		query += ` AND left_at IS NULL`
	}
	rows, err := s.sqlDB.QueryContext(ctx, query+` ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, storeErr("list participants", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, storeErr("scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list participants", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// storeErr marks busy and locked databases as transient so callers may retry.
func storeErr(op string, err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return domain.Unavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
