package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex makes every
// method atomic, which stands in for the unique constraints of the SQL stores.
type Store struct {
	mu           sync.RWMutex
	rooms        map[string]domain.Room
	participants map[string]domain.Participant
	membership   map[string]string // roomID/userID -> participant id
	responses    map[string]domain.Response
	scores       map[string]domain.Score
}

func NewStore() *Store {
	return &Store{
		rooms:        make(map[string]domain.Room),
		participants: make(map[string]domain.Participant),
		membership:   make(map[string]string),
		responses:    make(map[string]domain.Response),
		scores:       make(map[string]domain.Score),
	}
}

func memberKey(roomID, userID string) string {
	return roomID + "/" + userID
}

func responseKey(participantID, quizQuestionID string) string {
	return participantID + "/" + quizQuestionID
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rooms {
		if existing.IsActive && existing.Code == room.Code {
			return domain.ErrRoomCodeTaken
		}
	}
	s.rooms[room.ID] = room
	s.participants[host.ID] = host
	s.membership[memberKey(room.ID, host.UserID)] = host.ID
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.Room
		found bool
	)
	for _, room := range s.rooms {
		if room.Code != code {
			continue
		}
		if !found || (room.IsActive && !best.IsActive) ||
			(room.IsActive == best.IsActive && room.CreatedAt.After(best.CreatedAt)) {
			best, found = room, true
		}
	}
	if !found {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return best, nil
}

func (s *Store) DeactivateRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if !room.IsActive {
		return false, nil
	}
	room.IsActive = false
	room.ClosedAt = &at
	s.rooms[roomID] = room
	return true, nil
}

func (s *Store) ListRoomsToClose(ctx context.Context, now time.Time, limit int) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []domain.Room
	for _, room := range s.rooms {
		if room.IsActive && !now.Before(room.EndsAt) {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].EndsAt.Before(rooms[j].EndsAt) })
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return domain.ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	for id, p := range s.participants {
		if p.RoomID != roomID {
			continue
		}
		delete(s.participants, id)
		delete(s.membership, memberKey(roomID, p.UserID))
		delete(s.scores, id)
		for key, r := range s.responses {
			if r.ParticipantID == id {
				delete(s.responses, key)
			}
		}
	}
	return nil
}

// openLocked reports whether roomID is open at now. Callers hold s.mu.
func (s *Store) openLocked(roomID string, now time.Time) (domain.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if domain.StateAt(room, now) != domain.RoomOpen {
		return domain.Room{}, domain.ErrRoomNotOpen
	}
	return room, nil
}

func (s *Store) activeCountLocked(roomID string) int {
	n := 0
	for _, p := range s.participants {
		if p.RoomID == roomID && p.Active() {
			n++
		}
	}
	return n
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant, now time.Time) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.openLocked(p.RoomID, now)
	if err != nil {
		return domain.Participant{}, err
	}

	existingID, exists := s.membership[memberKey(p.RoomID, p.UserID)]
	if exists && s.participants[existingID].Active() {
		return domain.Participant{}, domain.ErrAlreadyJoined
	}
	if s.activeCountLocked(p.RoomID) >= room.Capacity {
		return domain.Participant{}, domain.ErrRoomFull
	}
	if exists {
		rejoined := s.participants[existingID]
		rejoined.LeftAt = nil
		rejoined.JoinedAt = p.JoinedAt
		if p.DisplayName != "" {
			rejoined.DisplayName = p.DisplayName
		}
		s.participants[existingID] = rejoined
		return rejoined, nil
	}
	s.participants[p.ID] = p
	s.membership[memberKey(p.RoomID, p.UserID)] = p.ID
	return p, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.openLocked(roomID, now); err != nil {
		return err
	}
	id, ok := s.membership[memberKey(roomID, userID)]
	if !ok || !s.participants[id].Active() {
		return domain.ErrParticipantNotFound
	}
	p := s.participants[id]
	if p.IsHost && s.activeCountLocked(roomID) > 1 {
		return domain.ErrHostCannotLeave
	}
	left := now
	p.LeftAt = &left
	s.participants[id] = p
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, roomID, userID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.membership[memberKey(roomID, userID)]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return s.participants[id], nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID string, includeLeft bool) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.RoomID == roomID && (includeLeft || p.Active()) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// submittableLocked checks the participant is active and its room open at now.
func (s *Store) submittableLocked(participantID string, now time.Time) error {
	p, ok := s.participants[participantID]
	if !ok || !p.Active() {
		return domain.ErrRoomNotOpen
	}
	_, err := s.openLocked(p.RoomID, now)
	return err
}

func (s *Store) InsertResponse(ctx context.Context, r domain.Response, now time.Time) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey(r.ParticipantID, r.QuizQuestionID)
	if _, exists := s.responses[key]; exists {
		return domain.Response{}, domain.ErrResponseExists
	}
	if err := s.submittableLocked(r.ParticipantID, now); err != nil {
		return domain.Response{}, err
	}
	r.AnswerIDs = append([]string(nil), r.AnswerIDs...)
	s.responses[key] = r
	return copyResponse(r), nil
}

func (s *Store) ReviseResponse(ctx context.Context, participantID, quizQuestionID string, answerIDs []string, now time.Time) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.submittableLocked(participantID, now); err != nil {
		return domain.Response{}, err
	}
	key := responseKey(participantID, quizQuestionID)
	r, ok := s.responses[key]
	if !ok {
		return domain.Response{}, domain.ErrParticipantNotFound
	}
	r.AnswerIDs = append([]string(nil), answerIDs...)
	r.LastModifiedAt = now
	r.TimeTakenMS = app.ElapsedMS(r.FirstRespondedAt, now)
	s.responses[key] = r
	return copyResponse(r), nil
}

func (s *Store) ListResponses(ctx context.Context, participantID string) ([]domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Response
	for _, r := range s.responses {
		if r.ParticipantID == participantID {
			out = append(out, copyResponse(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuizQuestionID < out[j].QuizQuestionID })
	return out, nil
}

func (s *Store) PutScore(ctx context.Context, score domain.Score) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[score.ParticipantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	s.scores[score.ParticipantID] = score
	return nil
}

func (s *Store) GetScore(ctx context.Context, participantID string) (domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return domain.Score{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[participantID]
	if !ok {
		return domain.Score{}, domain.ErrScoreNotFound
	}
	return score, nil
}

func (s *Store) ListScores(ctx context.Context, roomID string) ([]domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Score
	for id, score := range s.scores {
		if s.participants[id].RoomID == roomID {
			out = append(out, score)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// ResponseCount is used by tests to check the one-row-per-slot property.
func (s *Store) ResponseCount(participantID, quizQuestionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.responses {
		if r.ParticipantID == participantID && r.QuizQuestionID == quizQuestionID {
			n++
		}
	}
	return n
}

func copyResponse(r domain.Response) domain.Response {
	r.AnswerIDs = append([]string(nil), r.AnswerIDs...)
	return r
}

var _ app.Store = (*Store)(nil)
