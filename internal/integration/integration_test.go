package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/postgres"
	pgmigrations "quiz-room-service/internal/infra/postgres/migrations"
	infraredis "quiz-room-service/internal/infra/redis"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestRoomLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL := startPostgres(t, ctx)
	redisClient := startRedis(t, ctx)

	db := postgres.Connect(pgURL)
	defer db.Close()
	applyMigrations(t, ctx, db)
	writer := postgres.NewCatalogWriter(db)
	if err := writer.ImportQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("import quiz: %v", err)
	}
	republished := sampleQuiz()
	republished.Questions = republished.Questions[:1]
	republished.Questions[0].ID = "qq1-renamed"
	if err := writer.ImportQuiz(ctx, republished); !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("re-import of a published quiz should fail with ErrInvalidQuiz, got %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	clk := &clock{now: t0}
	quizRepo := infraredis.NewQuizRepository(redisClient, postgres.NewQuizLoader(pool), 5*time.Minute)
	service := app.NewSessionService(postgres.NewStore(db), quizRepo,
		app.WithLogger(zaptest.NewLogger(t)),
		app.WithClock(clk.Now),
		app.WithCodeRegistry(infraredis.NewCodeRegistry(redisClient)),
		app.WithOptions(app.Options{FinalizeRetries: 2, FinalizeBackoff: 10 * time.Millisecond}),
	)

	room, host, err := service.CreateRoom(ctx, app.CreateRoomInput{
		QuizID:      "quiz-1",
		CreatorID:   "teacher",
		CreatorName: "Teacher",
		StartsAt:    t0,
		Capacity:    3,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !host.IsHost || host.UserID != "teacher" {
		t.Fatalf("creator should be seated as host: %+v", host)
	}
	if !room.EndsAt.Equal(t0.Add(20 * time.Minute)) {
		t.Fatalf("ends at = %s, want quiz time limit after start", room.EndsAt)
	}
	byCode, err := service.RoomByCode(ctx, room.Code)
	if err != nil || byCode.ID != room.ID {
		t.Fatalf("room by code = %+v, %v", byCode, err)
	}

	alice, err := service.Join(ctx, room.ID, "alice", "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, err := service.Join(ctx, room.ID, "bob", "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := service.Join(ctx, room.ID, "carol", "Carol"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	again, err := service.Join(ctx, room.ID, "alice", "Alice")
	if err != nil || again.ID != alice.ID {
		t.Fatalf("rejoin should return the same participant: %+v, %v", again, err)
	}

	// Sub-microsecond timestamps must round-trip through revisions unchanged.
	clk.Set(t0.Add(10*time.Second + 1234567*time.Nanosecond))
	var (
		wg      sync.WaitGroup
		inserts atomic.Int32
		firstMu sync.Mutex
		first   domain.Response
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := service.Submit(ctx, app.Submission{ParticipantID: bob.ID, QuizQuestionID: "qq1", AnswerIDs: []string{"a2"}})
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			if !res.Revision {
				inserts.Add(1)
				firstMu.Lock()
				first = res.Response
				firstMu.Unlock()
			}
		}()
	}
	wg.Wait()
	if got := inserts.Load(); got != 1 {
		t.Fatalf("expected exactly one first response, got %d", got)
	}
	revised, err := service.Submit(ctx, app.Submission{ParticipantID: bob.ID, QuizQuestionID: "qq1", AnswerIDs: []string{"a2"}})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if !revised.Revision || !revised.Response.FirstRespondedAt.Equal(first.FirstRespondedAt) {
		t.Fatalf("revision first_responded_at = %s, want %s", revised.Response.FirstRespondedAt, first.FirstRespondedAt)
	}

	clk.Set(t0.Add(30 * time.Second))
	if _, err := service.Submit(ctx, app.Submission{ParticipantID: bob.ID, QuizQuestionID: "qq2", AnswerIDs: []string{"b1"}}); err != nil {
		t.Fatalf("submit qq2: %v", err)
	}
	if _, err := service.Submit(ctx, app.Submission{ParticipantID: alice.ID, QuizQuestionID: "qq1", AnswerIDs: []string{"a1"}}); err != nil {
		t.Fatalf("submit alice: %v", err)
	}

	report, err := service.CloseRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("close room: %v", err)
	}
	if len(report.Scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(report.Scores))
	}
	if _, err := service.Submit(ctx, app.Submission{ParticipantID: bob.ID, QuizQuestionID: "qq2", AnswerIDs: []string{"b1", "b2"}}); !errors.Is(err, domain.ErrRoomNotOpen) {
		t.Fatalf("expected ErrRoomNotOpen after close, got %v", err)
	}
	if again, err := service.CloseRoom(ctx, room.ID); err != nil || !again.AlreadyClosed {
		t.Fatalf("second close = %+v, %v", again, err)
	}

	score, err := service.Score(ctx, bob.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.EarnedPoints != 1 || score.TotalPossiblePoints != 3 || score.Percentage.StringFixed(2) != "33.33" {
		t.Fatalf("unexpected bob score %+v", score)
	}

	lb, err := service.Leaderboard(ctx, room.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 3 || lb.Entries[0].UserID != "bob" {
		t.Fatalf("expected bob leading, got %+v", lb.Entries)
	}

	if err := service.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if _, err := service.Score(ctx, bob.ID); !errors.Is(err, domain.ErrScoreNotFound) {
		t.Fatalf("expected scores removed with room, got %v", err)
	}
}

func applyMigrations(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// startContainer runs req and returns the host:port mapped to port. The
// container is terminated when the test ends.
func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, port string) string {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s port: %v", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func startPostgres(t *testing.T, ctx context.Context) string {
	addr := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "rooms"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return "postgres://quiz:quizpass@" + addr + "/rooms?sslmode=disable"
}

func startRedis(t *testing.T, ctx context.Context) *goredis.Client {
	addr := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Arithmetic",
		TimeLimit: 20 * time.Minute,
		Questions: []domain.QuizQuestion{
			{
				ID: "qq1", Order: 1, Points: 1,
				Question: domain.Question{
					ID: "q1", Text: "What is 2 + 2?", Kind: domain.QuestionSingle,
					Answers: []domain.Answer{
						{ID: "a1", Text: "3"},
						{ID: "a2", Text: "4", IsCorrect: true},
					},
				},
			},
			{
				ID: "qq2", Order: 2, Points: 2,
				Question: domain.Question{
					ID: "q2", Text: "Pick the even numbers", Kind: domain.QuestionMultiple,
					Answers: []domain.Answer{
						{ID: "b1", Text: "2", IsCorrect: true},
						{ID: "b2", Text: "4", IsCorrect: true},
						{ID: "b3", Text: "5"},
					},
				},
			},
		},
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
