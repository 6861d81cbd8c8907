package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/store"
)

func testManager(docs *memoryDocStore) *Manager {
	logger := testLogger()
	return NewManager(
		docs,
		nil,
		progress.NewEngine(logger, nil),
		review.NewScheduler(),
		share.NewManager(docs, logger),
		logger,
	)
}

func testAggregate(docs *memoryDocStore) *aggregate.Store {
	agg := aggregate.NewStore("student-1", docs, nil, testLogger())
	quiz := models.Quiz{ID: "quiz-1", Name: "Fractions", Questions: threeQuestions()}
	agg.AddQuiz(quiz)
	return agg
}

func TestManager_StartFromQuiz(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := testAggregate(docs)
	student := Student{ID: "student-1", Name: "Ada"}
	ctx := context.Background()

	engine, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if engine.State().Phase != PhaseInProgress {
		t.Error("session not in progress after start")
	}

	if _, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0); !errors.Is(err, ErrSessionInProgress) {
		t.Errorf("second concurrent session must be rejected, got %v", err)
	}

	if _, err := m.StartFromQuiz(ctx, agg, student, "unknown", 0); !errors.Is(err, aggregate.ErrQuizNotFound) {
		t.Errorf("unknown quiz: %v", err)
	}
}

func TestManager_StartPractice(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := aggregate.NewStore("student-1", docs, nil, testLogger())
	student := Student{ID: "student-1"}
	ctx := context.Background()

	if _, err := m.StartPractice(ctx, agg, student); !errors.Is(err, ErrNothingDue) {
		t.Errorf("empty bank must yield ErrNothingDue, got %v", err)
	}

	agg.SetQuestionBank(threeQuestions())
	engine, err := m.StartPractice(ctx, agg, student)
	if err != nil {
		t.Fatalf("practice start failed: %v", err)
	}
	if got := engine.State().TotalQuestions; got != 3 {
		t.Errorf("practice set size = %d, want 3", got)
	}
}

func TestManager_AbandonAndResume(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := testAggregate(docs)
	student := Student{ID: "student-1", Name: "Ada"}
	ctx := context.Background()

	engine, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Answer the first question, then walk away.
	if err := engine.SelectAnswer(0); err != nil {
		t.Fatal(err)
	}
	if err := engine.CheckAnswer(); err != nil {
		t.Fatal(err)
	}
	if err := engine.NextQuestion(ctx); err != nil {
		t.Fatal(err)
	}

	if err := m.Abandon(ctx, student.ID); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if _, err := m.Active(student.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Error("session still active after abandon")
	}

	cp, err := m.LoadCheckpoint(ctx, student.ID)
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if cp.Cursor != 1 || cp.Score != 1 || len(cp.Answered) != 1 {
		t.Errorf("checkpoint state wrong: %+v", cp)
	}
	if cp.Source.QuizID != "quiz-1" {
		t.Errorf("checkpoint source wrong: %+v", cp.Source)
	}

	quiz, _ := agg.GetQuiz("quiz-1")
	resumed, err := m.Resume(ctx, agg, student, quiz.Questions, cp)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	state := resumed.State()
	if state.CurrentQuestion != 1 || state.Score != 1 || state.AnsweredCount != 1 {
		t.Errorf("resumed state wrong: %+v", state)
	}

	// Resuming consumes the checkpoint.
	if _, err := m.LoadCheckpoint(ctx, student.ID); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("checkpoint should be gone after resume, got %v", err)
	}
}

func TestManager_ExpiredCheckpoint(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	ctx := context.Background()

	stale := Checkpoint{
		Source:  Source{QuizID: "quiz-1"},
		SavedAt: time.Now().Add(-CheckpointTTL - time.Hour),
	}
	data, _ := json.Marshal(stale)
	if err := docs.Set(ctx, store.CheckpointKey("student-1"), string(data), 0); err != nil {
		t.Fatal(err)
	}

	if _, err := m.LoadCheckpoint(ctx, "student-1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expired checkpoint must be discarded, got %v", err)
	}
}

func TestManager_MalformedCheckpoint(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	ctx := context.Background()

	if err := docs.Set(ctx, store.CheckpointKey("student-1"), "{broken", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadCheckpoint(ctx, "student-1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("malformed checkpoint must be discarded, got %v", err)
	}
}

func TestManager_DropClearsCheckpoint(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := testAggregate(docs)
	student := Student{ID: "student-1"}
	ctx := context.Background()

	if _, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Abandon(ctx, student.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0); err != nil {
		t.Fatal(err)
	}
	m.Drop(ctx, student.ID)

	if _, err := m.LoadCheckpoint(ctx, student.ID); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("drop must clear the checkpoint, got %v", err)
	}
	if _, err := m.Active(student.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Error("session still active after drop")
	}
}

func TestManager_ResumeRejectsShrunkQuiz(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := testAggregate(docs)
	student := Student{ID: "student-1", Name: "Ada"}
	ctx := context.Background()

	engine, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Answer two of three questions before walking away.
	for i := 0; i < 2; i++ {
		if err := engine.SelectAnswer(0); err != nil {
			t.Fatal(err)
		}
		if err := engine.CheckAnswer(); err != nil {
			t.Fatal(err)
		}
		if err := engine.NextQuestion(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Abandon(ctx, student.ID); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}

	// The quiz shrinks to a single question while the checkpoint waits.
	if err := agg.UpdateQuizQuestions("quiz-1", threeQuestions()[:1]); err != nil {
		t.Fatal(err)
	}

	cp, err := m.LoadCheckpoint(ctx, student.ID)
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	quiz, _ := agg.GetQuiz("quiz-1")
	if _, err := m.Resume(ctx, agg, student, quiz.Questions, cp); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("resume over a shrunk quiz must discard the checkpoint, got %v", err)
	}
	if _, err := m.LoadCheckpoint(ctx, student.ID); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("stale checkpoint must be deleted, got %v", err)
	}
}

func TestManager_AbandonAfterCompletion(t *testing.T) {
	docs := newMemoryDocStore()
	m := testManager(docs)
	agg := testAggregate(docs)
	student := Student{ID: "student-1", Name: "Ada"}
	ctx := context.Background()

	engine, err := m.StartFromQuiz(ctx, agg, student, "quiz-1", 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := engine.SelectAnswer(0); err != nil {
			t.Fatal(err)
		}
		if err := engine.CheckAnswer(); err != nil {
			t.Fatal(err)
		}
		if err := engine.NextQuestion(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if engine.State().Phase != PhaseCompleted {
		t.Fatal("session should be completed")
	}

	// The finished engine is still registered; abandoning it must not
	// checkpoint a session whose finalization already ran.
	if err := m.Abandon(ctx, student.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("abandon after completion = %v, want ErrNoActiveSession", err)
	}
	if _, err := m.LoadCheckpoint(ctx, student.ID); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("completed session must not leave a checkpoint, got %v", err)
	}

	snap := agg.Snapshot()
	if got := snap.Progress.QuizzesTaken; got != 1 {
		t.Errorf("quizzesTaken = %d, want exactly one finalization", got)
	}
}
