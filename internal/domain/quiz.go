package domain

import "fmt"

// Grader decides whether a selection of answer ids is correct.
type Grader interface {
	IsCorrectGiven(selected []string) bool
}

type singleChoice struct {
	correct string
}

func (g singleChoice) IsCorrectGiven(selected []string) bool {
	return len(selected) == 1 && selected[0] == g.correct
}

// multipleChoice requires the exact set of correct answers, no more and no less.
type multipleChoice struct {
	correct map[string]struct{}
}

func (g multipleChoice) IsCorrectGiven(selected []string) bool {
	if len(selected) != len(g.correct) {
		return false
	}
	for _, id := range selected {
		if _, ok := g.correct[id]; !ok {
			return false
		}
	}
	return true
}

// Grader returns the grading capability for the question kind.
func (q Question) Grader() Grader {
	if q.Kind == QuestionMultiple {
		correct := make(map[string]struct{})
		for _, a := range q.Answers {
			if a.IsCorrect {
				correct[a.ID] = struct{}{}
			}
		}
		return multipleChoice{correct: correct}
	}
	for _, a := range q.Answers {
		if a.IsCorrect {
			return singleChoice{correct: a.ID}
		}
	}
	return singleChoice{}
}

// CheckSelection validates chosen answer ids against the question.
func (q Question) CheckSelection(selected []string) error {
	if len(selected) == 0 {
		return ErrInvalidSelection
	}
	if q.Kind != QuestionMultiple && len(selected) > 1 {
		return ErrInvalidSelection
	}
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, dup := seen[id]; dup {
			return ErrInvalidSelection
		}
		seen[id] = struct{}{}
		if !q.hasAnswer(id) {
			return ErrAnswerNotForQuestion
		}
	}
	return nil
}

func (q Question) hasAnswer(answerID string) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return true
		}
	}
	return false
}

// QuizQuestion looks up a quiz question by id.
func (q Quiz) QuizQuestion(id string) (QuizQuestion, bool) {
	for _, qq := range q.Questions {
		if qq.ID == id {
			return qq, true
		}
	}
	return QuizQuestion{}, false
}

// TotalPoints sums the point values of every question.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, qq := range q.Questions {
		total += qq.Points
	}
	return total
}

// Validate enforces the published-quiz invariants.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidQuiz)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %s has no questions", ErrInvalidQuiz, q.ID)
	}
	orders := make(map[int]struct{}, len(q.Questions))
	ids := make(map[string]struct{}, len(q.Questions))
	questions := make(map[string]struct{}, len(q.Questions))
	for _, qq := range q.Questions {
		if qq.ID == "" {
			return fmt.Errorf("%w: quiz question id is required", ErrInvalidQuiz)
		}
		if qq.Points <= 0 {
			return fmt.Errorf("%w: question %s has non-positive points %d", ErrInvalidQuiz, qq.ID, qq.Points)
		}
		if _, dup := orders[qq.Order]; dup {
			return fmt.Errorf("%w: duplicate order %d", ErrInvalidQuiz, qq.Order)
		}
		orders[qq.Order] = struct{}{}
		if _, dup := ids[qq.ID]; dup {
			return fmt.Errorf("%w: duplicate quiz question %s", ErrInvalidQuiz, qq.ID)
		}
		ids[qq.ID] = struct{}{}
		if _, dup := questions[qq.Question.ID]; dup {
			return fmt.Errorf("%w: question %s appears twice", ErrInvalidQuiz, qq.Question.ID)
		}
		questions[qq.Question.ID] = struct{}{}
		if err := qq.Question.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (q Question) validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: question id is required", ErrInvalidQuiz)
	}
	if q.Kind != QuestionSingle && q.Kind != QuestionMultiple {
		return fmt.Errorf("%w: question %s has unknown kind %q", ErrInvalidQuiz, q.ID, q.Kind)
	}
	correct := 0
	for _, a := range q.Answers {
		if a.IsCorrect {
			correct++
		}
	}
	if len(q.Answers) == 0 || correct == 0 {
		return fmt.Errorf("%w: question %s needs a correct answer", ErrInvalidQuiz, q.ID)
	}
	if q.Kind == QuestionSingle && correct != 1 {
		return fmt.Errorf("%w: single choice question %s has %d correct answers", ErrInvalidQuiz, q.ID, correct)
	}
	return nil
}
