package progress

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	earned []string
}

func (n *recordingNotifier) NotifyAchievement(_ string, a Achievement) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.earned = append(n.earned, a.ID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEngine_RecordAnswer(t *testing.T) {
	e := NewEngine(testLogger(), nil)
	p := models.NewStudentProgress()

	e.RecordAnswer(p, "Algebra", true)
	e.RecordAnswer(p, "Algebra", false)
	e.RecordAnswer(p, "", true)

	if stats := p.TopicHistory["Algebra"]; stats.Correct != 1 || stats.Total != 2 {
		t.Errorf("algebra stats wrong: %+v", stats)
	}
	if stats := p.TopicHistory["General"]; stats == nil || stats.Total != 1 {
		t.Error("empty topic must fall back to General")
	}
}

func TestEngine_UpdateStreak(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("first practice starts at one", func(t *testing.T) {
		e := NewEngineWithClock(testLogger(), nil, fixedClock(day1))
		p := models.NewStudentProgress()
		e.UpdateStreak(p)
		if p.CurrentStreak != 1 || p.LongestStreak != 1 {
			t.Errorf("streak after first practice: %+v", p)
		}
	})

	t.Run("same day leaves streak alone", func(t *testing.T) {
		e := NewEngineWithClock(testLogger(), nil, fixedClock(day1))
		p := models.NewStudentProgress()
		e.UpdateStreak(p)
		e.UpdateStreak(p)
		if p.CurrentStreak != 1 {
			t.Errorf("same-day practice must not increment, got %d", p.CurrentStreak)
		}
	})

	t.Run("consecutive day increments", func(t *testing.T) {
		p := models.NewStudentProgress()
		for i := 0; i < 3; i++ {
			e := NewEngineWithClock(testLogger(), nil, fixedClock(day1.AddDate(0, 0, i)))
			e.UpdateStreak(p)
		}
		if p.CurrentStreak != 3 || p.LongestStreak != 3 {
			t.Errorf("three consecutive days: %+v", p)
		}
	})

	t.Run("gap resets to one but keeps longest", func(t *testing.T) {
		p := models.NewStudentProgress()
		for i := 0; i < 3; i++ {
			e := NewEngineWithClock(testLogger(), nil, fixedClock(day1.AddDate(0, 0, i)))
			e.UpdateStreak(p)
		}
		e := NewEngineWithClock(testLogger(), nil, fixedClock(day1.AddDate(0, 0, 7)))
		e.UpdateStreak(p)
		if p.CurrentStreak != 1 {
			t.Errorf("gap must reset streak, got %d", p.CurrentStreak)
		}
		if p.LongestStreak != 3 {
			t.Errorf("longest streak lost, got %d", p.LongestStreak)
		}
	})
}

func TestEngine_FinalizeSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngineWithClock(testLogger(), nil, fixedClock(now))
	p := models.NewStudentProgress()

	e.FinalizeSession("u1", p, 4, 5)

	if p.QuizzesTaken != 1 || p.TotalScore != 4 || p.TotalQuestions != 5 {
		t.Errorf("counters wrong: %+v", p)
	}
	if len(p.RecentScores) != 1 || p.RecentScores[0] != 80 {
		t.Errorf("recent scores wrong: %v", p.RecentScores)
	}
	if len(p.DailyHistory) != 1 || p.DailyHistory[0].Quizzes != 1 || p.DailyHistory[0].AvgScore != 80 {
		t.Errorf("daily history wrong: %+v", p.DailyHistory)
	}
}

func TestEngine_RecentScoresCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngineWithClock(testLogger(), nil, fixedClock(now))
	p := models.NewStudentProgress()

	for i := 0; i < models.RecentScoresCap+4; i++ {
		e.FinalizeSession("u1", p, i, 20)
	}

	if len(p.RecentScores) != models.RecentScoresCap {
		t.Fatalf("ring not capped: %d", len(p.RecentScores))
	}
	// Oldest entries are evicted first.
	if p.RecentScores[0] != float64(4)/20*100 {
		t.Errorf("unexpected oldest score %v", p.RecentScores[0])
	}
}

func TestEngine_DailyHistoryAveraging(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngineWithClock(testLogger(), nil, fixedClock(now))
	p := models.NewStudentProgress()

	e.FinalizeSession("u1", p, 10, 10) // 100%
	e.FinalizeSession("u1", p, 5, 10)  // 50%

	if len(p.DailyHistory) != 1 {
		t.Fatalf("same-day sessions must share one entry, got %d", len(p.DailyHistory))
	}
	entry := p.DailyHistory[0]
	if entry.Quizzes != 2 || entry.AvgScore != 75 {
		t.Errorf("running average wrong: %+v", entry)
	}
}

func TestEngine_AchievementsFireOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	e := NewEngineWithClock(testLogger(), notifier, fixedClock(now))
	p := models.NewStudentProgress()

	earned := e.FinalizeSession("u1", p, 5, 5)

	ids := make(map[string]bool, len(earned))
	for _, a := range earned {
		ids[a.ID] = true
	}
	if !ids["first_quiz"] || !ids["perfect_score"] {
		t.Errorf("expected first_quiz and perfect_score, got %v", ids)
	}

	// A second perfect run must not re-award anything already earned.
	earned = e.FinalizeSession("u1", p, 5, 5)
	for _, a := range earned {
		if a.ID == "first_quiz" || a.ID == "perfect_score" {
			t.Errorf("achievement %s awarded twice", a.ID)
		}
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	counts := make(map[string]int)
	for _, id := range notifier.earned {
		counts[id]++
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("notifier fired %d times for %s", n, id)
		}
	}
}

func TestEngine_TenQuizzesAchievement(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngineWithClock(testLogger(), nil, fixedClock(now))
	p := models.NewStudentProgress()

	for i := 0; i < 10; i++ {
		e.FinalizeSession("u1", p, 3, 5)
	}
	if !p.HasAchievement("ten_quizzes") {
		t.Error("ten_quizzes not earned after 10 sessions")
	}
	if p.HasAchievement("fifty_quizzes") {
		t.Error("fifty_quizzes earned too early")
	}
}

func TestEngine_WeakTopics(t *testing.T) {
	e := NewEngine(testLogger(), nil)
	p := models.NewStudentProgress()
	p.TopicHistory["Strong"] = &models.TopicStats{Correct: 9, Total: 10}
	p.TopicHistory["Weak"] = &models.TopicStats{Correct: 3, Total: 10}
	p.TopicHistory["Untouched"] = &models.TopicStats{}

	weak := e.WeakTopics(p)
	if len(weak) != 1 || weak[0] != "Weak" {
		t.Errorf("weak topics = %v", weak)
	}
}

func TestEngine_CorrectRate(t *testing.T) {
	e := NewEngine(testLogger(), nil)
	p := models.NewStudentProgress()
	p.QuestionHistory["q1"] = &models.QuestionHistory{CorrectCount: 3, WrongCount: 1}

	rate, err := e.CorrectRate(p, "q1")
	if err != nil {
		t.Fatalf("correct rate failed: %v", err)
	}
	if rate != 0.75 {
		t.Errorf("rate = %v, want 0.75", rate)
	}

	if _, err := e.CorrectRate(p, "missing"); err == nil {
		t.Error("expected error for unattempted question")
	}
}
