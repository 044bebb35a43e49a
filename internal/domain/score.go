package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Percentage returns earned/total*100 rounded to two decimal places.
func Percentage(earned, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(earned) * 100).DivRound(decimal.NewFromInt(int64(total)), 2)
}

// ComputeScore grades responses against the quiz. Unanswered questions earn
// nothing; responses to unknown quiz questions are ignored.
func ComputeScore(participantID string, quiz Quiz, responses []Response, since time.Time) Score {
	byQuestion := make(map[string]Response, len(responses))
	asOf := since
	for _, r := range responses {
		byQuestion[r.QuizQuestionID] = r
		if r.LastModifiedAt.After(asOf) {
			asOf = r.LastModifiedAt
		}
	}

	total, earned := 0, 0
	for _, qq := range quiz.Questions {
		total += qq.Points
		r, ok := byQuestion[qq.ID]
		if !ok {
			continue
		}
		if qq.Question.Grader().IsCorrectGiven(r.AnswerIDs) {
			earned += qq.Points
		}
	}

	return Score{
		ParticipantID:       participantID,
		TotalPossiblePoints: total,
		EarnedPoints:        earned,
		Percentage:          Percentage(earned, total),
		AsOf:                asOf,
	}
}

// Equal compares two scores value by value.
func (s Score) Equal(other Score) bool {
	return s.ParticipantID == other.ParticipantID &&
		s.TotalPossiblePoints == other.TotalPossiblePoints &&
		s.EarnedPoints == other.EarnedPoints &&
		s.Percentage.Equal(other.Percentage) &&
		s.AsOf.Equal(other.AsOf)
}
