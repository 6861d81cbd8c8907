package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/store"
)

type memoryDocStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{data: make(map[string]string)}
}

func (m *memoryDocStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return "", store.ErrDocNotFound
	}
	return value, nil
}

func (m *memoryDocStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryDocStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingSubmissionWriter struct {
	mu          sync.Mutex
	submissions []models.Submission
}

func (w *recordingSubmissionWriter) CreateSubmission(_ context.Context, submission *models.Submission) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if submission.ID == "" {
		submission.ID = "sub-1"
	}
	w.submissions = append(w.submissions, *submission)
	return nil
}

type recordingPlayRecorder struct {
	mu    sync.Mutex
	plays []float64
}

func (r *recordingPlayRecorder) RecordPlay(_ context.Context, _, _ string, score float64) (*models.SharedQuizSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays = append(r.plays, score)
	return &models.SharedQuizSnapshot{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func threeQuestions() []models.Question {
	qs := make([]models.Question, 3)
	for i := range qs {
		qs[i] = models.Question{
			ID:       []string{"qa", "qb", "qc"}[i],
			Question: "pick the first option",
			Topic:    "Arithmetic",
			Options: []models.QuestionOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		}
	}
	return qs
}

func testConfig(questions []models.Question) (Config, *aggregate.Store) {
	agg := aggregate.NewStore("student-1", newMemoryDocStore(), nil, testLogger())
	return Config{
		Student:   Student{ID: "student-1", Name: "Ada", Email: "ada@example.com"},
		Source:    Source{QuizID: "quiz-1"},
		QuizName:  "Arithmetic Drill",
		Questions: questions,
		Store:     agg,
		Progress:  progress.NewEngine(testLogger(), nil),
		Scheduler: review.NewScheduler(),
		Logger:    testLogger(),
	}, agg
}

func TestEngine_FullRun(t *testing.T) {
	cfg, agg := testConfig(threeQuestions())
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Two correct, one wrong.
	answers := []int{0, 1, 0}
	for i, sel := range answers {
		if err := e.SelectAnswer(sel); err != nil {
			t.Fatalf("select question %d: %v", i, err)
		}
		if err := e.CheckAnswer(); err != nil {
			t.Fatalf("check question %d: %v", i, err)
		}
		if err := e.NextQuestion(ctx); err != nil {
			t.Fatalf("next after question %d: %v", i, err)
		}
	}

	state := e.State()
	if state.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", state.Phase)
	}
	if state.Score != 2 {
		t.Errorf("score = %d, want 2", state.Score)
	}
	if state.EndReason != EndReasonCompleted {
		t.Errorf("end reason = %s", state.EndReason)
	}
	if len(state.Results) != 3 {
		t.Errorf("results = %d, want 3", len(state.Results))
	}

	snap := agg.Snapshot()
	if snap.Progress.QuizzesTaken != 1 {
		t.Errorf("progress not finalized: %+v", snap.Progress)
	}
	if snap.Progress.TopicHistory["Arithmetic"].Total != 3 {
		t.Errorf("topic history wrong: %+v", snap.Progress.TopicHistory)
	}
	for _, id := range []string{"qa", "qb", "qc"} {
		if snap.Progress.QuestionHistory[id] == nil {
			t.Errorf("question %s has no review history", id)
		}
	}
}

func TestEngine_PhaseRules(t *testing.T) {
	cfg, _ := testConfig(threeQuestions())
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.SelectAnswer(0); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("select before start: %v", err)
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := e.CheckAnswer(); !errors.Is(err, ErrNoSelection) {
		t.Errorf("check without selection: %v", err)
	}
	if err := e.NextQuestion(ctx); !errors.Is(err, ErrNotAnswered) {
		t.Errorf("next without answer: %v", err)
	}

	if err := e.SelectAnswer(1); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	// Changing the selection before checking is allowed.
	if err := e.SelectAnswer(0); err != nil {
		t.Fatalf("re-select failed: %v", err)
	}
	if err := e.CheckAnswer(); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if err := e.CheckAnswer(); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("double check: %v", err)
	}
	if err := e.SelectAnswer(1); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("select after check: %v", err)
	}
}

func TestEngine_StartTwice(t *testing.T) {
	cfg, _ := testConfig(threeQuestions())
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Errorf("second start of a running session must be a no-op: %v", err)
	}
}

func TestEngine_TimerExpiry(t *testing.T) {
	cfg, agg := testConfig(threeQuestions())
	cfg.TimeLimit = 3 * time.Second
	cfg.tick = time.Millisecond
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Answer only the first question, then let the clock run out.
	if err := e.SelectAnswer(0); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := e.CheckAnswer(); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.State().Phase != PhaseCompleted && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	state := e.State()
	if state.Phase != PhaseCompleted {
		t.Fatal("session did not complete on timeout")
	}
	if state.EndReason != EndReasonTimeout {
		t.Errorf("end reason = %s, want %s", state.EndReason, EndReasonTimeout)
	}
	if state.Score != 1 {
		t.Errorf("partial score = %d, want 1", state.Score)
	}
	if snap := agg.Snapshot(); snap.Progress.QuizzesTaken != 1 {
		t.Error("timeout must still finalize progress")
	}
}

func TestEngine_InvalidQuestionData(t *testing.T) {
	questions := threeQuestions()
	// No option marked correct: structurally invalid, must not wedge the run.
	questions[1].Options = []models.QuestionOption{{Text: "a"}, {Text: "b"}}
	cfg, _ := testConfig(questions)
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := e.SelectAnswer(0); err != nil {
			t.Fatalf("select question %d: %v", i, err)
		}
		if err := e.CheckAnswer(); err != nil {
			t.Fatalf("check question %d: %v", i, err)
		}
		if err := e.NextQuestion(ctx); err != nil {
			t.Fatalf("next after question %d: %v", i, err)
		}
	}

	state := e.State()
	if state.Phase != PhaseCompleted {
		t.Fatal("session did not complete")
	}
	// The invalid question contributes no result and no score.
	if state.Score != 2 {
		t.Errorf("score = %d, want 2", state.Score)
	}
	if len(state.Results) != 2 {
		t.Errorf("results = %d, want 2", len(state.Results))
	}
}

func TestEngine_AssignmentSubmission(t *testing.T) {
	cfg, agg := testConfig(threeQuestions())
	cfg.Source = Source{AssignmentID: "assign-1"}
	writer := &recordingSubmissionWriter{}
	cfg.Submissions = writer
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := e.SelectAnswer(0); err != nil {
			t.Fatal(err)
		}
		if err := e.CheckAnswer(); err != nil {
			t.Fatal(err)
		}
		if err := e.NextQuestion(ctx); err != nil {
			t.Fatal(err)
		}
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(writer.submissions))
	}
	sub := writer.submissions[0]
	if sub.AssignmentID != "assign-1" || sub.StudentID != "student-1" {
		t.Errorf("submission identity wrong: %+v", sub)
	}
	if sub.Score != 3 || sub.Total != 3 || sub.Percentage != 100 {
		t.Errorf("submission scoring wrong: %+v", sub)
	}
	if got := len(agg.Snapshot().Submissions); got != 1 {
		t.Errorf("submission not mirrored into aggregate, got %d", got)
	}
}

func TestEngine_SharedPlayRecorded(t *testing.T) {
	cfg, _ := testConfig(threeQuestions())
	cfg.Source = Source{ShareID: "share-1"}
	recorder := &recordingPlayRecorder{}
	cfg.Shares = recorder
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := e.SelectAnswer(0); err != nil {
			t.Fatal(err)
		}
		if err := e.CheckAnswer(); err != nil {
			t.Fatal(err)
		}
		if err := e.NextQuestion(ctx); err != nil {
			t.Fatal(err)
		}
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.plays) != 1 || recorder.plays[0] != 100 {
		t.Errorf("plays = %v", recorder.plays)
	}
}

func TestEngine_Exit(t *testing.T) {
	cfg, agg := testConfig(threeQuestions())
	e := NewEngine(cfg)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Exit()

	state := e.State()
	if state.Phase != PhaseCompleted || state.EndReason != EndReasonAbandoned {
		t.Errorf("exit state wrong: %+v", state)
	}
	// Abandoning runs no finalization.
	if snap := agg.Snapshot(); snap.Progress.QuizzesTaken != 0 {
		t.Error("abandoned session must not count as taken")
	}
}
