package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuestionKind tags how a question is graded.
type QuestionKind string

const (
	QuestionSingle   QuestionKind = "single"
	QuestionMultiple QuestionKind = "multiple"
)

// Answer is a selectable option for a question.
type Answer struct {
	ID          string `json:"id" yaml:"id"`
	QuestionID  string `json:"questionId" yaml:"-"`
	Text        string `json:"text" yaml:"text"`
	IsCorrect   bool   `json:"isCorrect" yaml:"correct"`
	Explanation string `json:"explanation,omitempty" yaml:"explanation"`
}

// Question is a catalog question with its answers.
type Question struct {
	ID         string       `json:"id" yaml:"id"`
	Text       string       `json:"text" yaml:"text"`
	Kind       QuestionKind `json:"kind" yaml:"kind"`
	Difficulty string       `json:"difficulty,omitempty" yaml:"difficulty"`
	Answers    []Answer     `json:"answers" yaml:"answers"`
}

// QuizQuestion binds a question to a quiz with an order and a point value.
type QuizQuestion struct {
	ID       string   `json:"id" yaml:"id"`
	Order    int      `json:"order" yaml:"order"`
	Points   int      `json:"points" yaml:"points"`
	Question Question `json:"question" yaml:"question"`
}

// Quiz is a published, immutable question list.
type Quiz struct {
	ID          string         `json:"id" yaml:"id"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Subject     string         `json:"subject,omitempty" yaml:"subject"`
	Level       string         `json:"level,omitempty" yaml:"level"`
	TimeLimit   time.Duration  `json:"timeLimit" yaml:"timeLimit"`
	Questions   []QuizQuestion `json:"questions" yaml:"questions"`
}

// Room is one live instance of a quiz.
type Room struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	QuizID    string     `json:"quizId"`
	CreatedBy string     `json:"createdBy"`
	StartsAt  time.Time  `json:"startsAt"`
	EndsAt    time.Time  `json:"endsAt"`
	Capacity  int        `json:"capacity"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Participant is a user's membership in one room.
type Participant struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"roomId"`
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	IsHost      bool       `json:"isHost"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
}

// Active reports whether the participant still holds membership.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// Response is a participant's answer to one quiz question.
type Response struct {
	ID               string    `json:"id"`
	ParticipantID    string    `json:"participantId"`
	QuizQuestionID   string    `json:"quizQuestionId"`
	AnswerIDs        []string  `json:"answerIds"`
	FirstRespondedAt time.Time `json:"firstRespondedAt"`
	LastModifiedAt   time.Time `json:"lastModifiedAt"`
	TimeTakenMS      int64     `json:"timeTakenMs"`
}

// Score is a derived snapshot of a participant's responses.
type Score struct {
	ParticipantID       string          `json:"participantId"`
	TotalPossiblePoints int             `json:"totalPossiblePoints"`
	EarnedPoints        int             `json:"earnedPoints"`
	Percentage          decimal.Decimal `json:"percentage"`
	AsOf                time.Time       `json:"asOf"`
}

// LeaderboardEntry is one ranked row of a room's scores.
type LeaderboardEntry struct {
	ParticipantID string          `json:"participantId"`
	UserID        string          `json:"userId"`
	DisplayName   string          `json:"displayName"`
	EarnedPoints  int             `json:"earnedPoints"`
	Percentage    decimal.Decimal `json:"percentage"`
	AsOf          time.Time       `json:"asOf"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomID  string             `json:"roomId"`
	Entries []LeaderboardEntry `json:"entries"`
}
