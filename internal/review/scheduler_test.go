package review

import (
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/models"
)

func TestNextInterval(t *testing.T) {
	tests := []struct {
		name    string
		correct int
		wrong   int
		want    time.Duration
	}{
		{"no attempts", 0, 0, 0},
		{"high accuracy", 9, 1, intervalHigh},
		{"mid accuracy", 7, 3, intervalMid},
		{"low accuracy", 5, 5, intervalLow},
		{"relearn", 1, 9, intervalRelearn},
		{"boundary 0.8 is mid", 4, 1, intervalMid},
		{"boundary 0.6 is low", 3, 2, intervalLow},
		{"boundary 0.4 is relearn", 2, 3, intervalRelearn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextInterval(tt.correct, tt.wrong); got != tt.want {
				t.Errorf("NextInterval(%d, %d) = %v, want %v", tt.correct, tt.wrong, got, tt.want)
			}
		})
	}
}

func TestScheduler_RecordAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedulerWithClock(func() time.Time { return now })

	history := &models.QuestionHistory{}
	s.RecordAttempt(history, true)

	if history.CorrectCount != 1 || history.WrongCount != 0 {
		t.Errorf("counts wrong: %+v", history)
	}
	if !history.LastSeen.Equal(now) {
		t.Errorf("last seen not stamped: %v", history.LastSeen)
	}
	// 1/1 correct puts the question on the longest interval.
	if want := now.Add(intervalHigh); !history.NextReview.Equal(want) {
		t.Errorf("next review %v, want %v", history.NextReview, want)
	}

	s.RecordAttempt(history, false)
	if history.WrongCount != 1 {
		t.Errorf("wrong count not incremented: %+v", history)
	}
	// 1/2 drops to the relearn interval.
	if want := now.Add(intervalRelearn); !history.NextReview.Equal(want) {
		t.Errorf("next review %v, want %v", history.NextReview, want)
	}
}

func TestScheduler_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedulerWithClock(func() time.Time { return now })

	if !s.IsDue(nil) {
		t.Error("a question with no history must be due")
	}
	if s.IsDue(&models.QuestionHistory{NextReview: now.Add(time.Hour)}) {
		t.Error("future review must not be due")
	}
	if !s.IsDue(&models.QuestionHistory{NextReview: now.Add(-time.Hour)}) {
		t.Error("past review must be due")
	}
	if !s.IsDue(&models.QuestionHistory{NextReview: now}) {
		t.Error("review exactly now must be due")
	}
}

func TestScheduler_DueQuestions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedulerWithClock(func() time.Time { return now })

	bank := []models.Question{
		{ID: "fresh"},
		{ID: "due"},
		{ID: "later"},
	}
	histories := map[string]*models.QuestionHistory{
		"due":   {NextReview: now.Add(-time.Minute)},
		"later": {NextReview: now.Add(time.Minute)},
	}

	due := s.DueQuestions(bank, histories)
	if len(due) != 2 {
		t.Fatalf("expected 2 due questions, got %d", len(due))
	}
	ids := map[string]bool{due[0].ID: true, due[1].ID: true}
	if !ids["fresh"] || !ids["due"] {
		t.Errorf("unexpected due set: %v", ids)
	}
}

func TestScheduler_BuildPracticeSet(t *testing.T) {
	s := NewScheduler()

	var due []models.Question
	for i := 0; i < 25; i++ {
		due = append(due, models.Question{
			ID: string(rune('a' + i)),
			Options: []models.QuestionOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		})
	}

	set := s.BuildPracticeSet(due)
	if len(set) != PracticeSetSize {
		t.Fatalf("expected practice set of %d, got %d", PracticeSetSize, len(set))
	}

	source := make(map[string]bool, len(due))
	for _, q := range due {
		source[q.ID] = true
	}
	for _, q := range set {
		if !source[q.ID] {
			t.Errorf("practice set contains unknown question %q", q.ID)
		}
		if !q.IsWellFormed() {
			t.Errorf("option shuffle broke question %q", q.ID)
		}
	}

	// Input must not be reordered in place.
	if due[0].ID != "a" || due[24].ID != string(rune('a'+24)) {
		t.Error("BuildPracticeSet mutated its input")
	}
}
