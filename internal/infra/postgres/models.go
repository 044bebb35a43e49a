package postgres

import (
	"time"

	"quiz-room-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type roomModel struct {
	bun.BaseModel `bun:"table:rooms,alias:r"`

	ID        string     `bun:"id,pk"`
	Code      string     `bun:"code"`
	QuizID    string     `bun:"quiz_id"`
	CreatedBy string     `bun:"created_by"`
	StartsAt  time.Time  `bun:"starts_at"`
	EndsAt    time.Time  `bun:"ends_at"`
	Capacity  int        `bun:"capacity"`
	IsActive  bool       `bun:"is_active"`
	CreatedAt time.Time  `bun:"created_at"`
	ClosedAt  *time.Time `bun:"closed_at"`
}

func newRoomModel(r domain.Room) *roomModel {
	return &roomModel{
		ID: r.ID, Code: r.Code, QuizID: r.QuizID, CreatedBy: r.CreatedBy,
		StartsAt: r.StartsAt, EndsAt: r.EndsAt, Capacity: r.Capacity,
		IsActive: r.IsActive, CreatedAt: r.CreatedAt, ClosedAt: r.ClosedAt,
	}
}

func (m roomModel) toDomain() domain.Room {
	return domain.Room{
		ID: m.ID, Code: m.Code, QuizID: m.QuizID, CreatedBy: m.CreatedBy,
		StartsAt: m.StartsAt.UTC(), EndsAt: m.EndsAt.UTC(), Capacity: m.Capacity,
		IsActive: m.IsActive, CreatedAt: m.CreatedAt.UTC(), ClosedAt: utcPtr(m.ClosedAt),
	}
}

type participantModel struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID          string     `bun:"id,pk"`
	RoomID      string     `bun:"room_id"`
	UserID      string     `bun:"user_id"`
	DisplayName string     `bun:"display_name"`
	IsHost      bool       `bun:"is_host"`
	JoinedAt    time.Time  `bun:"joined_at"`
	LeftAt      *time.Time `bun:"left_at"`
}

func newParticipantModel(p domain.Participant) *participantModel {
	return &participantModel{
		ID: p.ID, RoomID: p.RoomID, UserID: p.UserID, DisplayName: p.DisplayName,
		IsHost: p.IsHost, JoinedAt: p.JoinedAt, LeftAt: p.LeftAt,
	}
}

func (m participantModel) toDomain() domain.Participant {
	return domain.Participant{
		ID: m.ID, RoomID: m.RoomID, UserID: m.UserID, DisplayName: m.DisplayName,
		IsHost: m.IsHost, JoinedAt: m.JoinedAt.UTC(), LeftAt: utcPtr(m.LeftAt),
	}
}

type responseModel struct {
	bun.BaseModel `bun:"table:responses,alias:resp"`

	ID               string    `bun:"id,pk"`
	ParticipantID    string    `bun:"participant_id"`
	QuizQuestionID   string    `bun:"quiz_question_id"`
	AnswerIDs        []string  `bun:"answer_ids,array"`
	FirstRespondedAt time.Time `bun:"first_responded_at"`
	LastModifiedAt   time.Time `bun:"last_modified_at"`
	TimeTakenMS      int64     `bun:"time_taken_ms"`
}

func (m responseModel) toDomain() domain.Response {
	return domain.Response{
		ID: m.ID, ParticipantID: m.ParticipantID, QuizQuestionID: m.QuizQuestionID,
		AnswerIDs:        append([]string(nil), m.AnswerIDs...),
		FirstRespondedAt: m.FirstRespondedAt.UTC(), LastModifiedAt: m.LastModifiedAt.UTC(),
		TimeTakenMS: m.TimeTakenMS,
	}
}

type scoreModel struct {
	bun.BaseModel `bun:"table:scores,alias:s"`

	ParticipantID       string          `bun:"participant_id,pk"`
	TotalPossiblePoints int             `bun:"total_possible_points"`
	EarnedPoints        int             `bun:"earned_points"`
	Percentage          decimal.Decimal `bun:"percentage,type:numeric"`
	AsOf                time.Time       `bun:"as_of"`
}

func (m scoreModel) toDomain() domain.Score {
	return domain.Score{
		ParticipantID: m.ParticipantID, TotalPossiblePoints: m.TotalPossiblePoints,
		EarnedPoints: m.EarnedPoints, Percentage: m.Percentage, AsOf: m.AsOf.UTC(),
	}
}

// Catalog tables, written by CatalogWriter and read by QuizLoader.

type quizModel struct {
	bun.BaseModel `bun:"table:quizzes,alias:qz"`

	ID               string `bun:"id,pk"`
	Title            string `bun:"title"`
	Description      string `bun:"description"`
	Subject          string `bun:"subject"`
	Level            string `bun:"level"`
	TimeLimitSeconds int    `bun:"time_limit_seconds"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID         string `bun:"id,pk"`
	Text       string `bun:"text"`
	Kind       string `bun:"kind"`
	Difficulty string `bun:"difficulty"`
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID          string `bun:"id,pk"`
	QuestionID  string `bun:"question_id"`
	Text        string `bun:"text"`
	IsCorrect   bool   `bun:"is_correct"`
	Explanation string `bun:"explanation"`
	Position    int    `bun:"position"`
}

type quizQuestionModel struct {
	bun.BaseModel `bun:"table:quiz_questions,alias:qq"`

	ID         string `bun:"id,pk"`
	QuizID     string `bun:"quiz_id"`
	QuestionID string `bun:"question_id"`
	Position   int    `bun:"position"`
	Points     int    `bun:"points"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
