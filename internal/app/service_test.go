package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"

	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	svc   *app.SessionService
	store *memory.Store
	clock *fakeClock
	quiz  domain.Quiz
}

// newFixture wires a service over the memory store. The store argument may
// wrap memory.Store to inject faults; nil uses the plain store.
func newFixture(t *testing.T, wrap func(*memory.Store) app.Store, opts ...app.Option) *fixture {
	t.Helper()
	quiz := testQuiz()
	store := memory.NewStore()
	var backing app.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	clock := &fakeClock{now: t0}
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(quiz), time.Minute)

	all := append([]app.Option{
		app.WithLogger(zaptest.NewLogger(t)),
		app.WithClock(clock.Now),
		app.WithCodeRegistry(memory.NewCodeRegistry()),
		app.WithOptions(app.Options{FinalizeRetries: 3, FinalizeBackoff: time.Millisecond}),
	}, opts...)
	return &fixture{
		svc:   app.NewSessionService(backing, repo, all...),
		store: store,
		clock: clock,
		quiz:  quiz,
	}
}

// openRoom creates a room that opens at t0 and lasts the quiz time limit.
func (f *fixture) openRoom(t *testing.T, capacity int) (domain.Room, domain.Participant) {
	t.Helper()
	room, host, err := f.svc.CreateRoom(context.Background(), app.CreateRoomInput{
		QuizID:      f.quiz.ID,
		CreatorID:   "teacher",
		CreatorName: "Teacher",
		StartsAt:    t0,
		Capacity:    capacity,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room, host
}

func (f *fixture) join(t *testing.T, room domain.Room, userID string) domain.Participant {
	t.Helper()
	p, err := f.svc.Join(context.Background(), room.ID, userID, userID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return p
}

// testQuiz has a 1 point single choice question and a 2 point multiple choice one.
func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Mixed",
		TimeLimit: 30 * time.Minute,
		Questions: []domain.QuizQuestion{
			{
				ID: "qq1", Order: 1, Points: 1,
				Question: domain.Question{
					ID: "q1", Text: "2 + 2?", Kind: domain.QuestionSingle,
					Answers: []domain.Answer{
						{ID: "a1", QuestionID: "q1", Text: "3"},
						{ID: "a2", QuestionID: "q1", Text: "4", IsCorrect: true},
					},
				},
			},
			{
				ID: "qq2", Order: 2, Points: 2,
				Question: domain.Question{
					ID: "q2", Text: "Pick the primes", Kind: domain.QuestionMultiple,
					Answers: []domain.Answer{
						{ID: "b1", QuestionID: "q2", Text: "2", IsCorrect: true},
						{ID: "b2", QuestionID: "q2", Text: "3", IsCorrect: true},
						{ID: "b3", QuestionID: "q2", Text: "4"},
					},
				},
			},
		},
	}
}

func TestTransitionIsMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	room, _, err := f.svc.CreateRoom(context.Background(), app.CreateRoomInput{
		QuizID: f.quiz.ID, CreatorID: "teacher", StartsAt: t0.Add(time.Minute), Capacity: 5,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	prev := domain.RoomScheduled
	for offset := time.Duration(0); offset <= 40*time.Minute; offset += 30 * time.Second {
		f.clock.Set(t0.Add(offset))
		state := f.svc.Transition(room)
		if state < prev {
			t.Fatalf("state went back from %s to %s at %s", prev, state, offset)
		}
		prev = state
	}
	if prev != domain.RoomClosed {
		t.Fatalf("expected closed after window, got %s", prev)
	}
}
