package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"quiz-room-service/internal/domain"

	"github.com/go-playground/validator/v10"
)

type errorPayload struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	ParticipantIDs []string `json:"participantIds,omitempty"`
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrFinalizationIncomplete, http.StatusServiceUnavailable, "finalization_incomplete"},
	{domain.ErrInvalidWindow, http.StatusBadRequest, "invalid_window"},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, "invalid_capacity"},
	{domain.ErrInvalidQuiz, http.StatusBadRequest, "invalid_quiz"},
	{domain.ErrQuestionNotInQuiz, http.StatusBadRequest, "question_not_in_quiz"},
	{domain.ErrAnswerNotForQuestion, http.StatusBadRequest, "answer_not_for_question"},
	{domain.ErrInvalidSelection, http.StatusBadRequest, "invalid_selection"},
	{domain.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
	{domain.ErrQuizNotFound, http.StatusNotFound, "quiz_not_found"},
	{domain.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{domain.ErrScoreNotFound, http.StatusNotFound, "score_not_found"},
	{domain.ErrRoomNotOpen, http.StatusConflict, "room_not_open"},
	{domain.ErrRoomFull, http.StatusConflict, "room_full"},
	{domain.ErrHostCannotLeave, http.StatusConflict, "host_cannot_leave"},
	{domain.ErrRoomCodeTaken, http.StatusConflict, "room_code_taken"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// classify maps a service error to an HTTP status and a stable error code.
func classify(err error) (int, errorPayload) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, errorPayload{Code: "invalid_request", Message: verrs.Error()}
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			payload := errorPayload{Code: e.code, Message: err.Error()}
			var fin *domain.FinalizationError
			if errors.As(err, &fin) {
				payload.ParticipantIDs = fin.ParticipantIDs()
			}
			return e.status, payload
		}
	}
	return http.StatusInternalServerError, errorPayload{Code: "internal", Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
