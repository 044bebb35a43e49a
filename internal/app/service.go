package app

import (
	"context"
	"time"

	"quiz-room-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// CodeRegistry reserves room codes across processes for a retention period.
// Reserve returns domain.ErrRoomCodeTaken when the code is held.
type CodeRegistry interface {
	Reserve(ctx context.Context, code string, ttl time.Duration) error
	// Release drops a reservation whose room was never stored.
	Release(ctx context.Context, code string) error
}

// RoomStore persists rooms.
type RoomStore interface {
	// CreateRoom inserts the room and its host participant atomically.
	// A code clash with another active room yields domain.ErrRoomCodeTaken.
	CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	// GetRoomByCode prefers the active room holding the code, then the most recent one.
	GetRoomByCode(ctx context.Context, code string) (domain.Room, error)
	// DeactivateRoom flips is_active from true to false and reports whether this call did it.
	DeactivateRoom(ctx context.Context, roomID string, at time.Time) (bool, error)
	// ListRoomsToClose returns active rooms whose window ended at or before now.
	ListRoomsToClose(ctx context.Context, now time.Time, limit int) ([]domain.Room, error)
	// DeleteRoom removes the room with its participants, responses and scores.
	DeleteRoom(ctx context.Context, roomID string) error
}

// ParticipantStore persists room membership.
type ParticipantStore interface {
	// AddParticipant admits p while the room is open at now and below capacity.
	// An active (room, user) pair yields domain.ErrAlreadyJoined; a user who
	// left is re-admitted on the same row.
	AddParticipant(ctx context.Context, p domain.Participant, now time.Time) (domain.Participant, error)
	// RemoveParticipant marks the membership as left while the room is open at now.
	RemoveParticipant(ctx context.Context, roomID, userID string, now time.Time) error
	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
	FindParticipant(ctx context.Context, roomID, userID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, roomID string, includeLeft bool) ([]domain.Participant, error)
}

// ResponseStore is the append-only answer ledger.
type ResponseStore interface {
	// InsertResponse writes r if no row exists for (participant, quiz question)
	// and the room is open at now. A lost race yields domain.ErrResponseExists.
	InsertResponse(ctx context.Context, r domain.Response, now time.Time) (domain.Response, error)
	// ReviseResponse replaces the answers of an existing row, keeping FirstRespondedAt.
	ReviseResponse(ctx context.Context, participantID, quizQuestionID string, answerIDs []string, now time.Time) (domain.Response, error)
	ListResponses(ctx context.Context, participantID string) ([]domain.Response, error)
}

// ScoreStore persists derived scores; PutScore always overwrites.
type ScoreStore interface {
	PutScore(ctx context.Context, score domain.Score) error
	GetScore(ctx context.Context, participantID string) (domain.Score, error)
	ListScores(ctx context.Context, roomID string) ([]domain.Score, error)
}

// Store abstracts how live session state is stored (in-memory, SQLite, Postgres).
type Store interface {
	RoomStore
	ParticipantStore
	ResponseStore
	ScoreStore
}

// Options tunes room creation and finalization.
type Options struct {
	CodeLength          int
	CodeAttempts        int
	CodeRetention       time.Duration
	FinalizeRetries     uint64
	FinalizeBackoff     time.Duration
	FinalizeConcurrency int
	SweepBatch          int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		CodeLength:          8,
		CodeAttempts:        5,
		CodeRetention:       24 * time.Hour,
		FinalizeRetries:     3,
		FinalizeBackoff:     200 * time.Millisecond,
		FinalizeConcurrency: 8,
		SweepBatch:          50,
	}
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithCodeRegistry sets where room codes are reserved.
func WithCodeRegistry(codes CodeRegistry) Option {
	return func(s *SessionService) {
		if codes != nil {
			s.codes = codes
		}
	}
}

// WithOptions overrides the tuning defaults; zero fields keep their default.
func WithOptions(o Options) Option {
	return func(s *SessionService) {
		d := DefaultOptions()
		if o.CodeLength == 0 {
			o.CodeLength = d.CodeLength
		}
		if o.CodeAttempts == 0 {
			o.CodeAttempts = d.CodeAttempts
		}
		if o.CodeRetention == 0 {
			o.CodeRetention = d.CodeRetention
		}
		if o.FinalizeRetries == 0 {
			o.FinalizeRetries = d.FinalizeRetries
		}
		if o.FinalizeBackoff == 0 {
			o.FinalizeBackoff = d.FinalizeBackoff
		}
		if o.FinalizeConcurrency == 0 {
			o.FinalizeConcurrency = d.FinalizeConcurrency
		}
		if o.SweepBatch == 0 {
			o.SweepBatch = d.SweepBatch
		}
		s.opts = o
	}
}

// SessionService contains the live quiz session use cases.
type SessionService struct {
	store   Store
	quizzes QuizRepository
	codes   CodeRegistry
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	opts    Options
}

func NewSessionService(store Store, quizzes QuizRepository, opts ...Option) *SessionService {
	s := &SessionService{
		store:   store,
		quizzes: quizzes,
		codes:   storeOnlyCodes{},
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
		opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition reports the state of room at the service clock.
func (s *SessionService) Transition(room domain.Room) domain.RoomState {
	return domain.StateAt(room, s.now())
}

// storeOnlyCodes leaves uniqueness to the store's active-code constraint.
type storeOnlyCodes struct{}

func (storeOnlyCodes) Reserve(context.Context, string, time.Duration) error { return nil }

func (storeOnlyCodes) Release(context.Context, string) error { return nil }
