package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStateAtFollowsWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := Room{StartsAt: start, EndsAt: start.Add(time.Hour), IsActive: true}

	cases := []struct {
		at   time.Time
		want RoomState
	}{
		{start.Add(-time.Second), RoomScheduled},
		{start, RoomOpen},
		{start.Add(59 * time.Minute), RoomOpen},
		{start.Add(time.Hour), RoomClosed},
		{start.Add(2 * time.Hour), RoomClosed},
	}
	for _, tc := range cases {
		if got := StateAt(room, tc.at); got != tc.want {
			t.Fatalf("StateAt(%s) = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestStateAtDeactivatedIsClosed(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := Room{StartsAt: start, EndsAt: start.Add(time.Hour), IsActive: false}

	for _, at := range []time.Time{start.Add(-time.Hour), start, start.Add(30 * time.Minute)} {
		if got := StateAt(room, at); got != RoomClosed {
			t.Fatalf("StateAt(%s) = %s, want closed", at, got)
		}
	}
}

func TestStateAtIsMonotonic(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rooms := []Room{
		{StartsAt: start, EndsAt: start.Add(time.Minute), IsActive: true},
		{StartsAt: start, EndsAt: start.Add(time.Minute), IsActive: false},
		{StartsAt: start.Add(time.Second), EndsAt: start.Add(2 * time.Second), IsActive: true},
	}
	for _, room := range rooms {
		prev := RoomScheduled
		for step := -5; step <= 180; step++ {
			at := start.Add(time.Duration(step) * time.Second)
			got := StateAt(room, at)
			if got < prev {
				t.Fatalf("state went from %s back to %s at %s", prev, got, at)
			}
			prev = got
		}
	}
}

func TestValidateWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := ValidateWindow(start, start, 1); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("equal bounds error = %v, want %v", err, ErrInvalidWindow)
	}
	if err := ValidateWindow(start.Add(time.Minute), start, 1); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("reversed bounds error = %v, want %v", err, ErrInvalidWindow)
	}
	if err := ValidateWindow(start, start.Add(time.Minute), 0); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("zero capacity error = %v, want %v", err, ErrInvalidCapacity)
	}
	if err := ValidateWindow(start, start.Add(time.Minute), 1); err != nil {
		t.Fatalf("valid window: %v", err)
	}
}
