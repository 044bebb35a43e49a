package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/infra/postgres"
	redisinfra "quiz-room-service/internal/infra/redis"
	"quiz-room-service/internal/infra/sqlite"
	transport "quiz-room-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		store  app.Store
		loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes()...)
	)
	switch {
	case cfg.Postgres.URL != "":
		db := postgres.Connect(cfg.Postgres.URL)
		defer db.Close()
		if err := runMigrations(ctx, db, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect catalog pool: %w", err)
		}
		defer pool.Close()
		store = postgres.NewStore(db)
		loader = postgres.NewQuizLoader(pool)
		logger.Info("using postgres store")
	case cfg.SQLite.Path != "":
		sq, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer sq.Close()
		store = sq
		logger.Info("using sqlite store", zap.String("path", cfg.SQLite.Path))
	default:
		store = memory.NewStore()
		logger.Warn("using in-memory store; state is lost on restart")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var (
		quizRepo app.QuizRepository
		codes    app.CodeRegistry
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
		codes = redisinfra.NewCodeRegistry(redisClient)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		codes = memory.NewCodeRegistry()
	}

	service := app.NewSessionService(store, quizRepo,
		app.WithLogger(logger.Named("session")),
		app.WithCodeRegistry(codes),
		app.WithOptions(serviceOptions(cfg)),
	)

	runCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go service.RunSweeper(runCtx, config.TTLDuration(cfg.Rooms.SweepInterval, 15*time.Second))

	mux := http.NewServeMux()
	transport.NewRESTHandler(service, logger.Named("http")).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(service, logger.Named("ws")).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting quiz room service", zap.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server")
	}
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func serviceOptions(cfg config.Config) app.Options {
	return app.Options{
		CodeLength:          cfg.Rooms.CodeLength,
		CodeRetention:       config.TTLDuration(cfg.Rooms.CodeRetention, 0),
		FinalizeRetries:     uint64(cfg.Rooms.FinalizeRetries),
		FinalizeConcurrency: cfg.Rooms.FinalizeConcurrency,
	}
}

// sampleQuizzes seeds the static loader when no catalog database is configured.
func sampleQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			ID:        "quiz-1",
			Title:     "Warm-up",
			TimeLimit: 10 * time.Minute,
			Questions: []domain.QuizQuestion{
				{
					ID: "quiz-1-q1", Order: 1, Points: 1,
					Question: domain.Question{
						ID:   "q1",
						Text: "What is 2 + 2?",
						Kind: domain.QuestionSingle,
						Answers: []domain.Answer{
							{ID: "o1", Text: "3"},
							{ID: "o2", Text: "4", IsCorrect: true},
							{ID: "o3", Text: "5"},
						},
					},
				},
				{
					ID: "quiz-1-q2", Order: 2, Points: 2,
					Question: domain.Question{
						ID:   "q2",
						Text: "Which of these are primes?",
						Kind: domain.QuestionMultiple,
						Answers: []domain.Answer{
							{ID: "p1", Text: "2", IsCorrect: true},
							{ID: "p2", Text: "4"},
							{ID: "p3", Text: "7", IsCorrect: true},
						},
					},
				},
			},
		},
	}
}
