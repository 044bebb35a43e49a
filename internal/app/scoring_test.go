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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestComputeScorePartialAnswers(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")
	f.clock.Set(t0.Add(20 * time.Second))
	f.submit(t, alice.ID, "qq2", "b1", "b2")

	score, err := f.svc.ComputeScore(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if score.TotalPossiblePoints != 3 || score.EarnedPoints != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", score.EarnedPoints, score.TotalPossiblePoints)
	}
	if !score.Percentage.Equal(decimal.RequireFromString("66.67")) {
		t.Fatalf("expected 66.67%%, got %s", score.Percentage)
	}
	if !score.AsOf.Equal(t0.Add(20 * time.Second)) {
		t.Fatalf("expected as-of at last response, got %s", score.AsOf)
	}

	stored, err := f.svc.Score(context.Background(), alice.ID)
	if err != nil || !stored.Equal(score) {
		t.Fatalf("stored score %+v differs from %+v (err=%v)", stored, score, err)
	}
}

func TestComputeScoreIsRepeatable(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")
	f.submit(t, alice.ID, "qq1", "a2")
	f.submit(t, alice.ID, "qq2", "b1")

	first, err := f.svc.ComputeScore(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	f.clock.Set(t0.Add(5 * time.Minute))
	second, err := f.svc.ComputeScore(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("compute again: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("scores differ: %+v vs %+v", first, second)
	}
	if first.EarnedPoints > first.TotalPossiblePoints {
		t.Fatalf("earned exceeds total: %+v", first)
	}
}

func TestScoreBeforeCompute(t *testing.T) {
	f := newFixture(t, nil)
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")

	if _, err := f.svc.Score(context.Background(), alice.ID); !errors.Is(err, domain.ErrScoreNotFound) {
		t.Fatalf("expected no score yet, got %v", err)
	}
	if _, err := f.svc.ComputeScore(context.Background(), "missing"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")
	bob := f.join(t, room, "bob")
	carol := f.join(t, room, "carol")

	f.clock.Set(t0.Add(time.Minute))
	f.submit(t, bob.ID, "qq2", "b1", "b2")
	f.clock.Set(t0.Add(2 * time.Minute))
	f.submit(t, alice.ID, "qq2", "b1", "b2")
	f.submit(t, carol.ID, "qq1", "a2")

	if _, err := f.svc.CloseRoom(ctx, room.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	board, err := f.svc.Leaderboard(ctx, room.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	var order []string
	for _, e := range board.Entries {
		order = append(order, e.UserID)
	}
	want := []string{"bob", "alice", "carol", "teacher"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

// flakyScores fails PutScore for chosen participants a set number of times.
type flakyScores struct {
	*memory.Store
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (s *flakyScores) PutScore(ctx context.Context, score domain.Score) error {
	s.mu.Lock()
	s.calls[score.ParticipantID]++
	remaining := s.failures[score.ParticipantID]
	if remaining > 0 {
		s.failures[score.ParticipantID] = remaining - 1
	}
	s.mu.Unlock()
	if remaining > 0 {
		return domain.Unavailable("put score", errors.New("connection reset"))
	}
	return s.Store.PutScore(ctx, score)
}

func TestFinalizeRetriesTransientFailures(t *testing.T) {
	var flaky *flakyScores
	f := newFixture(t, func(s *memory.Store) app.Store {
		flaky = &flakyScores{Store: s, failures: make(map[string]int), calls: make(map[string]int)}
		return flaky
	})
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")
	bob := f.join(t, room, "bob")

	flaky.mu.Lock()
	flaky.failures[alice.ID] = 2
	flaky.failures[bob.ID] = 100
	flaky.mu.Unlock()

	report, err := f.svc.CloseRoom(context.Background(), room.ID)
	var ferr *domain.FinalizationError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected finalization error, got %v", err)
	}
	if !errors.Is(err, domain.ErrFinalizationIncomplete) || !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("finalization error should match both sentinels: %v", err)
	}
	if ids := ferr.ParticipantIDs(); len(ids) != 1 || ids[0] != bob.ID {
		t.Fatalf("expected only bob to fail, got %v", ids)
	}
	if len(report.Scores) != 2 {
		t.Fatalf("expected host and alice scored, got %d", len(report.Scores))
	}

	flaky.mu.Lock()
	defer flaky.mu.Unlock()
	if flaky.calls[alice.ID] != 3 {
		t.Fatalf("alice should succeed on the third attempt, got %d calls", flaky.calls[alice.ID])
	}
	if flaky.calls[bob.ID] != 4 {
		t.Fatalf("bob should get one try plus 3 retries, got %d calls", flaky.calls[bob.ID])
	}
	if _, err := f.store.GetScore(context.Background(), alice.ID); err != nil {
		t.Fatalf("alice score missing: %v", err)
	}
}

func newFlakyFixture(t *testing.T, opts ...app.Option) (*fixture, *flakyScores) {
	t.Helper()
	var flaky *flakyScores
	f := newFixture(t, func(s *memory.Store) app.Store {
		flaky = &flakyScores{Store: s, failures: make(map[string]int), calls: make(map[string]int)}
		return flaky
	}, opts...)
	return f, flaky
}

func TestFinalizeRetriesWithUnsetOptions(t *testing.T) {
	// Zero options, as produced from a config without a rooms section.
	f, flaky := newFlakyFixture(t, app.WithOptions(app.Options{FinalizeBackoff: time.Millisecond}))
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")

	flaky.mu.Lock()
	flaky.failures[alice.ID] = 1
	flaky.mu.Unlock()

	if _, err := f.svc.CloseRoom(context.Background(), room.ID); err != nil {
		t.Fatalf("close should retry the transient failure: %v", err)
	}
	flaky.mu.Lock()
	defer flaky.mu.Unlock()
	if flaky.calls[alice.ID] != 2 {
		t.Fatalf("expected alice scored on the second attempt, got %d calls", flaky.calls[alice.ID])
	}
}

func TestFinalizeLogsOnlyRealRetries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f, flaky := newFlakyFixture(t, app.WithLogger(zap.New(core)))
	room, _ := f.openRoom(t, 5)
	bob := f.join(t, room, "bob")

	flaky.mu.Lock()
	flaky.failures[bob.ID] = 100
	flaky.mu.Unlock()

	if _, err := f.svc.CloseRoom(context.Background(), room.ID); !errors.Is(err, domain.ErrFinalizationIncomplete) {
		t.Fatalf("expected finalization error, got %v", err)
	}
	retries := logs.FilterMessage("retrying participant score").Len()
	if retries != 3 {
		t.Fatalf("expected 3 retry warnings for 4 attempts, got %d", retries)
	}
}

func TestFinalizeSkipsParticipantsWhoLeft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	room, _ := f.openRoom(t, 5)
	alice := f.join(t, room, "alice")
	f.submit(t, alice.ID, "qq1", "a2")
	if err := f.svc.Leave(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	report, err := f.svc.CloseRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(report.Scores) != 1 {
		t.Fatalf("expected only the host scored, got %d", len(report.Scores))
	}
	if _, err := f.svc.Score(ctx, alice.ID); !errors.Is(err, domain.ErrScoreNotFound) {
		t.Fatalf("departed participant should not be scored, got %v", err)
	}
}
