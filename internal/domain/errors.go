package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidWindow is returned when a room would start at or after its end.
	ErrInvalidWindow = errors.New("room window must start before it ends")
	// ErrInvalidCapacity is returned when a room is created with capacity below one.
	ErrInvalidCapacity = errors.New("room capacity must be at least 1")
	// ErrRoomNotOpen is returned for joins, leaves and submissions outside the open window.
	ErrRoomNotOpen = errors.New("room is not open")
	// ErrRoomFull is returned when active membership has reached capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyJoined is reported by stores when (room, user) already exists.
	// The admission layer turns it into an idempotent success.
	ErrAlreadyJoined = errors.New("user already joined room")
	// ErrHostCannotLeave is returned when the host leaves while others remain.
	ErrHostCannotLeave = errors.New("host cannot leave while other participants remain")
	// ErrQuestionNotInQuiz indicates the submitted quiz question belongs to another quiz.
	ErrQuestionNotInQuiz = errors.New("question not in quiz")
	// ErrAnswerNotForQuestion indicates a chosen answer belongs to another question.
	ErrAnswerNotForQuestion = errors.New("answer does not belong to question")
	// ErrStoreUnavailable wraps transient storage failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRoomNotFound is returned when a room id or code is unknown.
	ErrRoomNotFound = errors.New("room not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz is returned by Quiz.Validate.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrParticipantNotFound is returned when a user acts without an active membership.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrResponseExists is reported by stores when the insert-if-absent loses to an existing row.
	ErrResponseExists = errors.New("response already recorded")
	// ErrInvalidSelection indicates an empty, duplicated or oversized answer selection.
	ErrInvalidSelection = errors.New("invalid answer selection")
	// ErrScoreNotFound is returned when no score has been computed yet.
	ErrScoreNotFound = errors.New("score not found")
	// ErrRoomCodeTaken is returned when a generated room code is already reserved.
	ErrRoomCodeTaken = errors.New("room code already taken")
	// ErrFinalizationIncomplete matches any *FinalizationError.
	ErrFinalizationIncomplete = errors.New("room finalization incomplete")
)

// Unavailable wraps err so callers can match ErrStoreUnavailable while keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// FinalizationError lists the participants that could not be scored when a room closed.
type FinalizationError struct {
	RoomID string
	Failed map[string]error
}

func (e *FinalizationError) Error() string {
	ids := e.ParticipantIDs()
	return fmt.Sprintf("finalize room %s: %d participant(s) not scored: %s", e.RoomID, len(ids), strings.Join(ids, ", "))
}

// ParticipantIDs returns the failed participant ids in sorted order.
func (e *FinalizationError) ParticipantIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *FinalizationError) Is(target error) bool {
	return target == ErrFinalizationIncomplete
}

func (e *FinalizationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.ParticipantIDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}
