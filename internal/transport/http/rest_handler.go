package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RESTHandler exposes the room, admission, ledger and scoring use cases over JSON.
type RESTHandler struct {
	service  *app.SessionService
	logger   *zap.Logger
	validate *validator.Validate
}

func NewRESTHandler(service *app.SessionService, logger *zap.Logger) *RESTHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTHandler{service: service, logger: logger, validate: validator.New()}
}

// Register mounts the routes on mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.createRoom)
	mux.HandleFunc("GET /rooms", h.roomByCode)
	mux.HandleFunc("GET /rooms/{id}", h.room)
	mux.HandleFunc("DELETE /rooms/{id}", h.deleteRoom)
	mux.HandleFunc("POST /rooms/{id}/close", h.closeRoom)
	mux.HandleFunc("GET /rooms/{id}/participants", h.participants)
	mux.HandleFunc("POST /rooms/{id}/participants", h.join)
	mux.HandleFunc("DELETE /rooms/{id}/participants/{userID}", h.leave)
	mux.HandleFunc("GET /rooms/{id}/leaderboard", h.leaderboard)
	mux.HandleFunc("POST /participants/{id}/responses", h.submit)
	mux.HandleFunc("POST /participants/{id}/score", h.computeScore)
	mux.HandleFunc("GET /participants/{id}/score", h.score)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

type createRoomRequest struct {
	QuizID      string     `json:"quizId" validate:"required"`
	CreatorID   string     `json:"creatorId" validate:"required"`
	CreatorName string     `json:"creatorName" validate:"max=100"`
	StartsAt    time.Time  `json:"startsAt" validate:"required"`
	EndsAt      *time.Time `json:"endsAt"`
	Capacity    int        `json:"capacity" validate:"required,min=1"`
}

type joinRequest struct {
	UserID      string `json:"userId" validate:"required"`
	DisplayName string `json:"displayName" validate:"max=100"`
}

type submitRequest struct {
	QuizQuestionID string   `json:"quizQuestionId" validate:"required"`
	AnswerIDs      []string `json:"answerIds" validate:"required,min=1,dive,required"`
}

// roomView adds the derived state to a stored room.
type roomView struct {
	domain.Room
	State domain.RoomState `json:"state"`
}

type createRoomResponse struct {
	Room roomView           `json:"room"`
	Host domain.Participant `json:"host"`
}

func (h *RESTHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := app.CreateRoomInput{
		QuizID:      req.QuizID,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
		StartsAt:    req.StartsAt.UTC(),
		Capacity:    req.Capacity,
	}
	if req.EndsAt != nil {
		in.EndsAt = req.EndsAt.UTC()
	}
	room, host, err := h.service.CreateRoom(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Room: h.view(room), Host: host})
}

func (h *RESTHandler) room(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.Room(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(room))
}

func (h *RESTHandler) roomByCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_request", Message: "missing code"})
		return
	}
	room, err := h.service.RoomByCode(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(room))
}

func (h *RESTHandler) closeRoom(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CloseRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *RESTHandler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRoom(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) participants(w http.ResponseWriter, r *http.Request) {
	includeLeft := r.URL.Query().Get("includeLeft") == "true"
	roomID := r.PathValue("id")
	if _, err := h.service.Room(r.Context(), roomID); err != nil {
		h.fail(w, r, err)
		return
	}
	participants, err := h.service.Participants(r.Context(), roomID, includeLeft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

func (h *RESTHandler) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	participant, err := h.service.Join(r.Context(), r.PathValue("id"), req.UserID, req.DisplayName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (h *RESTHandler) leave(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Leave(r.Context(), r.PathValue("id"), r.PathValue("userID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if _, err := h.service.Room(r.Context(), roomID); err != nil {
		h.fail(w, r, err)
		return
	}
	lb, err := h.service.Leaderboard(r.Context(), roomID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *RESTHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Submit(r.Context(), app.Submission{
		ParticipantID:  r.PathValue("id"),
		QuizQuestionID: req.QuizQuestionID,
		AnswerIDs:      req.AnswerIDs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Revision {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *RESTHandler) computeScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.service.ComputeScore(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *RESTHandler) score(w http.ResponseWriter, r *http.Request) {
	score, err := h.service.Score(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *RESTHandler) view(room domain.Room) roomView {
	return roomView{Room: room, State: h.service.Transition(room)}
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_request", Message: "malformed JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

func (h *RESTHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := classify(err)
	fields := []zap.Field{zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err)}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", fields...)
	case errors.Is(err, domain.ErrRoomFull), errors.Is(err, domain.ErrRoomNotOpen):
		h.logger.Info("request rejected", fields...)
	default:
		h.logger.Debug("request rejected", fields...)
	}
	writeJSON(w, status, payload)
}
