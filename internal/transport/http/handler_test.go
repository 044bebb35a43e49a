package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"

	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := &testClock{now: t0}
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	service := app.NewSessionService(memory.NewStore(), repo,
		app.WithLogger(logger),
		app.WithClock(clock.Now),
		app.WithOptions(app.Options{FinalizeBackoff: time.Millisecond}),
	)

	mux := http.NewServeMux()
	NewRESTHandler(service, logger).Register(mux)
	mux.HandleFunc("/ws", NewWSHandler(service, logger).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, clock
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Arithmetic",
		TimeLimit: 30 * time.Minute,
		Questions: []domain.QuizQuestion{
			{
				ID: "qq1", Order: 1, Points: 1,
				Question: domain.Question{
					ID: "q1", Text: "What is 2 + 2?", Kind: domain.QuestionSingle,
					Answers: []domain.Answer{
						{ID: "a1", Text: "3"},
						{ID: "a2", Text: "4", IsCorrect: true},
					},
				},
			},
			{
				ID: "qq2", Order: 2, Points: 2,
				Question: domain.Question{
					ID: "q2", Text: "Pick the even numbers", Kind: domain.QuestionMultiple,
					Answers: []domain.Answer{
						{ID: "b1", Text: "2", IsCorrect: true},
						{ID: "b2", Text: "4", IsCorrect: true},
						{ID: "b3", Text: "5"},
					},
				},
			},
		},
	}
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

type createdRoom struct {
	Room struct {
		ID    string `json:"id"`
		Code  string `json:"code"`
		State string `json:"state"`
	} `json:"room"`
	Host domain.Participant `json:"host"`
}

func createRoom(t *testing.T, baseURL string, capacity int) createdRoom {
	t.Helper()
	var created createdRoom
	status := doJSON(t, http.MethodPost, baseURL+"/rooms", map[string]any{
		"quizId":      "quiz-1",
		"creatorId":   "teacher",
		"creatorName": "Teacher",
		"startsAt":    t0,
		"capacity":    capacity,
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create room status = %d", status)
	}
	return created
}
