package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/models"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testManager() *Manager {
	return NewManager(newMemoryDocStore(), testLogger())
}

func quizWithQuestions(n int) *models.Quiz {
	quiz := &models.Quiz{ID: "quiz-1", Name: "Cell Biology", Subject: "Biology"}
	for i := 0; i < n; i++ {
		quiz.Questions = append(quiz.Questions, models.Question{
			ID:       fmt.Sprintf("q%d", i),
			Question: fmt.Sprintf("Question %d", i),
			Options: []models.QuestionOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		})
	}
	return quiz
}

func TestManager_GetOrCreateShareID_Idempotent(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	quiz := quizWithQuestions(3)

	first, err := m.GetOrCreateShareID(ctx, quiz, "teacher-1")
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if first == "" {
		t.Fatal("empty share id")
	}
	if quiz.ShareID != first {
		t.Error("share id not stamped on the quiz")
	}

	second, err := m.GetOrCreateShareID(ctx, quiz, "teacher-1")
	if err != nil {
		t.Fatalf("second share failed: %v", err)
	}
	if second != first {
		t.Errorf("re-sharing minted a new id: %s vs %s", first, second)
	}
}

func TestManager_ShareCapsQuestions(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	quiz := quizWithQuestions(models.MaxSharedQuestions + 20)

	shareID, err := m.GetOrCreateShareID(ctx, quiz, "teacher-1")
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}

	snapshot, err := m.Resolve(ctx, shareID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(snapshot.Questions) != models.MaxSharedQuestions {
		t.Errorf("snapshot carries %d questions, want %d", len(snapshot.Questions), models.MaxSharedQuestions)
	}
	if len(quiz.Questions) != models.MaxSharedQuestions+20 {
		t.Error("capping must not truncate the source quiz")
	}
}

func TestManager_ResolveUnknown(t *testing.T) {
	m := testManager()
	if _, err := m.Resolve(context.Background(), "nope"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestManager_RecordPlay(t *testing.T) {
	docs := newMemoryDocStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManagerWithClock(docs, testLogger(), func() time.Time { return now })
	ctx := context.Background()

	quiz := quizWithQuestions(2)
	shareID, err := m.GetOrCreateShareID(ctx, quiz, "teacher-1")
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}

	snapshot, err := m.RecordPlay(ctx, shareID, "Ada", 90)
	if err != nil {
		t.Fatalf("record play failed: %v", err)
	}
	if snapshot.TimesTaken != 1 {
		t.Errorf("times taken = %d", snapshot.TimesTaken)
	}

	// Higher scores sort first; ties go to the earlier play.
	now = now.Add(time.Minute)
	if _, err := m.RecordPlay(ctx, shareID, "Grace", 95); err != nil {
		t.Fatalf("record play failed: %v", err)
	}
	now = now.Add(time.Minute)
	snapshot, err = m.RecordPlay(ctx, shareID, "Edsger", 90)
	if err != nil {
		t.Fatalf("record play failed: %v", err)
	}

	if snapshot.TimesTaken != 3 {
		t.Errorf("times taken = %d", snapshot.TimesTaken)
	}
	names := make([]string, 0, len(snapshot.Leaderboard))
	for _, e := range snapshot.Leaderboard {
		names = append(names, e.Name)
	}
	want := []string{"Grace", "Ada", "Edsger"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("leaderboard order %v, want %v", names, want)
		}
	}
}

func TestManager_LeaderboardCapped(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	quiz := quizWithQuestions(1)
	shareID, err := m.GetOrCreateShareID(ctx, quiz, "teacher-1")
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}

	for i := 0; i < models.LeaderboardSize+5; i++ {
		if _, err := m.RecordPlay(ctx, shareID, fmt.Sprintf("player-%d", i), float64(i)); err != nil {
			t.Fatalf("record play failed: %v", err)
		}
	}

	snapshot, err := m.Resolve(ctx, shareID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(snapshot.Leaderboard) != models.LeaderboardSize {
		t.Errorf("leaderboard has %d entries, want %d", len(snapshot.Leaderboard), models.LeaderboardSize)
	}
	// The lowest scores are the ones evicted.
	if snapshot.Leaderboard[0].Score != float64(models.LeaderboardSize+4) {
		t.Errorf("top score %v", snapshot.Leaderboard[0].Score)
	}
	if snapshot.TimesTaken != models.LeaderboardSize+5 {
		t.Errorf("times taken = %d", snapshot.TimesTaken)
	}
}
