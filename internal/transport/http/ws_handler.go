package http

import (
	"encoding/json"
	"net/http"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	service  *app.SessionService
	logger   *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service:  service,
		logger:   logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuizQuestionID string   `json:"quizQuestionId" validate:"required"`
	AnswerIDs      []string `json:"answerIds" validate:"required,min=1,dive,required"`
}

type joinedPayload struct {
	Room        roomView           `json:"room"`
	Participant domain.Participant `json:"participant"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS upgrades the request, joins the room named by roomCode, then serves
// answer, score and leave messages for that participant. Replies go to the
// sender only. Dropping the connection keeps the membership.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("roomCode")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if roomCode == "" || userID == "" || displayName == "" {
		http.Error(w, "missing roomCode, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	room, err := h.service.RoomByCode(ctx, roomCode)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	participant, err := h.service.Join(ctx, room.ID, userID, displayName)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	log := h.logger.With(zap.String("room_id", room.ID), zap.String("participant_id", participant.ID))
	log.Debug("ws session started")

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}()
	defer func() {
		close(send)
		<-writerDone
	}()

	reply := func(typ string, payload any) {
		select {
		case send <- outboundMessage{Type: typ, Payload: payload}:
		case <-writerDone:
		}
	}
	replyErr := func(err error) {
		_, payload := classify(err)
		reply("error", payload)
	}

	reply("joined", joinedPayload{
		Room:        roomView{Room: room, State: h.service.Transition(room)},
		Participant: participant,
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			log.Debug("ws session ended", zap.Error(err))
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply("error", errorPayload{Code: "invalid_request", Message: "invalid answer payload"})
				continue
			}
			if err := h.validate.Struct(payload); err != nil {
				replyErr(err)
				continue
			}
			res, err := h.service.Submit(ctx, app.Submission{
				ParticipantID:  participant.ID,
				QuizQuestionID: payload.QuizQuestionID,
				AnswerIDs:      payload.AnswerIDs,
			})
			if err != nil {
				replyErr(err)
				continue
			}
			reply("answerRecorded", res)
		case "score":
			score, err := h.service.ComputeScore(ctx, participant.ID)
			if err != nil {
				replyErr(err)
				continue
			}
			reply("score", score)
		case "leave":
			if err := h.service.Leave(ctx, room.ID, userID); err != nil {
				replyErr(err)
				continue
			}
			reply("left", participant)
			return
		default:
			reply("error", errorPayload{Code: "unsupported", Message: "unsupported message type"})
		}
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	_, payload := classify(err)
	if werr := conn.WriteJSON(outboundMessage{Type: "error", Payload: payload}); werr != nil {
		h.logger.Debug("ws write failed", zap.Error(werr))
	}
}
