package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

func TestCreateRoomSeatsHost(t *testing.T) {
	f := newFixture(t, nil)
	room, host := f.openRoom(t, 10)

	if len(room.Code) != 8 || !room.IsActive {
		t.Fatalf("unexpected room %+v", room)
	}
	if !room.EndsAt.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("expected end from quiz time limit, got %s", room.EndsAt)
	}
	if !host.IsHost || host.UserID != "teacher" || host.RoomID != room.ID {
		t.Fatalf("unexpected host %+v", host)
	}

	byCode, err := f.svc.RoomByCode(context.Background(), room.Code)
	if err != nil || byCode.ID != room.ID {
		t.Fatalf("room by code: %+v err=%v", byCode, err)
	}
	members, err := f.svc.Participants(context.Background(), room.ID, false)
	if err != nil || len(members) != 1 {
		t.Fatalf("expected host as only member, got %d err=%v", len(members), err)
	}
}

func TestCreateRoomRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		in   app.CreateRoomInput
		want error
	}{
		{"zero capacity", app.CreateRoomInput{QuizID: "quiz-1", StartsAt: t0}, domain.ErrInvalidCapacity},
		{"end before start", app.CreateRoomInput{QuizID: "quiz-1", StartsAt: t0, EndsAt: t0.Add(-time.Minute), Capacity: 2}, domain.ErrInvalidWindow},
		{"end equals start", app.CreateRoomInput{QuizID: "quiz-1", StartsAt: t0, EndsAt: t0, Capacity: 2}, domain.ErrInvalidWindow},
		{"unknown quiz", app.CreateRoomInput{QuizID: "nope", StartsAt: t0, Capacity: 2}, domain.ErrQuizNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.CreateRoom(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

type scriptedCodes struct {
	mu       sync.Mutex
	taken    int
	reserved []string
	released []string
}

func (c *scriptedCodes) Reserve(_ context.Context, code string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	if c.taken > 0 {
		c.taken--
		return domain.ErrRoomCodeTaken
	}
	c.reserved = append(c.reserved, code)
	return nil
}

func (c *scriptedCodes) Release(_ context.Context, code string) error {
	c.mu.Lock()
	c.released = append(c.released, code)
	c.mu.Unlock()
	return nil
}

func TestCreateRoomRetriesTakenCodes(t *testing.T) {
	codes := &scriptedCodes{taken: 2}
	f := newFixture(t, nil, app.WithCodeRegistry(codes))

	room, _ := f.openRoom(t, 3)
	if len(codes.reserved) != 1 || codes.reserved[0] != room.Code {
		t.Fatalf("expected the third code to be used, reserved %v", codes.reserved)
	}

	exhausted := &scriptedCodes{taken: 100}
	f = newFixture(t, nil, app.WithCodeRegistry(exhausted))
	_, _, err := f.svc.CreateRoom(context.Background(), app.CreateRoomInput{QuizID: "quiz-1", StartsAt: t0, Capacity: 2})
	if !errors.Is(err, domain.ErrRoomCodeTaken) {
		t.Fatalf("expected code taken after attempts, got %v", err)
	}
}

type failingCreate struct {
	*memory.Store
}

func (failingCreate) CreateRoom(context.Context, domain.Room, domain.Participant) error {
	return domain.Unavailable("create room", errors.New("connection refused"))
}

func TestCreateRoomReleasesCodeOnStoreFailure(t *testing.T) {
	codes := &scriptedCodes{}
	f := newFixture(t, func(s *memory.Store) app.Store { return failingCreate{s} }, app.WithCodeRegistry(codes))

	_, _, err := f.svc.CreateRoom(context.Background(), app.CreateRoomInput{QuizID: "quiz-1", StartsAt: t0, Capacity: 2})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if len(codes.released) != 1 || codes.released[0] != codes.reserved[0] {
		t.Fatalf("expected reserved code released, reserved=%v released=%v", codes.reserved, codes.released)
	}
}

func TestCloseRoomFinalizesOnce(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 10)
	f.join(t, room, "alice")
	f.join(t, room, "bob")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []app.FinalizeReport
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.svc.CloseRoom(context.Background(), room.ID)
			if err != nil {
				t.Errorf("close room: %v", err)
				return
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}()
	}
	wg.Wait()

	finalized := 0
	for _, r := range reports {
		if !r.AlreadyClosed {
			finalized++
			if len(r.Scores) != 3 {
				t.Fatalf("expected 3 scores, got %d", len(r.Scores))
			}
		}
	}
	if finalized != 1 {
		t.Fatalf("expected exactly one finalizing close, got %d", finalized)
	}

	closed, err := f.svc.Room(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if closed.IsActive || closed.ClosedAt == nil || f.svc.Transition(closed) != domain.RoomClosed {
		t.Fatalf("room should be closed: %+v", closed)
	}
	if _, err := f.svc.Join(context.Background(), room.ID, "carol", "Carol"); !errors.Is(err, domain.ErrRoomNotOpen) {
		t.Fatalf("expected join after close to fail, got %v", err)
	}
}

func TestCloseExpiredRooms(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 5)
	f.join(t, room, "alice")

	if n, err := f.svc.CloseExpired(context.Background()); err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: n=%d err=%v", n, err)
	}

	f.clock.Set(room.EndsAt)
	n, err := f.svc.CloseExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one expired room, n=%d err=%v", n, err)
	}
	board, err := f.svc.Leaderboard(context.Background(), room.ID)
	if err != nil || len(board.Entries) != 2 {
		t.Fatalf("expected finalized scores, got %+v err=%v", board, err)
	}
	if n, _ := f.svc.CloseExpired(context.Background()); n != 0 {
		t.Fatalf("sweep must not close twice, got %d", n)
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 5)
	f.clock.Set(room.EndsAt.Add(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := f.svc.Room(context.Background(), room.ID)
		if err != nil {
			t.Fatalf("get room: %v", err)
		}
		if !got.IsActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not close the room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t, nil)
	room, host := f.openRoom(t, 5)

	if err := f.svc.DeleteRoom(context.Background(), room.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Room(context.Background(), room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
	if _, err := f.store.GetParticipant(context.Background(), host.ID); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected host gone, got %v", err)
	}
}
