package domain

import "time"

// RoomState is the lifecycle stage of a room at a point in time.
type RoomState int

const (
	RoomScheduled RoomState = iota
	RoomOpen
	RoomClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomScheduled:
		return "scheduled"
	case RoomOpen:
		return "open"
	case RoomClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateAt derives the room state from the active flag and the wall clock.
// Deactivation wins over the window; the flag never flips back, so the result
// is monotonic in now.
func StateAt(room Room, now time.Time) RoomState {
	switch {
	case !room.IsActive:
		return RoomClosed
	case !now.Before(room.EndsAt):
		return RoomClosed
	case !now.Before(room.StartsAt):
		return RoomOpen
	default:
		return RoomScheduled
	}
}

// ValidateWindow checks the room invariants shared by every store.
func ValidateWindow(startsAt, endsAt time.Time, capacity int) error {
	if !startsAt.Before(endsAt) {
		return ErrInvalidWindow
	}
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	return nil
}
