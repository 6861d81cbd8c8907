package review

import (
	"math/rand"
	"time"

	"github.com/quizforge/core-service/internal/models"
)

// PracticeSetSize caps how many due questions go into one practice session.
const PracticeSetSize = 10

// Review intervals form a coarse confidence ladder keyed on lifetime
// accuracy. Deliberately not Leitner or SM-2.
const (
	intervalHigh    = 7 * 24 * time.Hour
	intervalMid     = 3 * 24 * time.Hour
	intervalLow     = 24 * time.Hour
	intervalRelearn = 12 * time.Hour
)

// Scheduler decides which questions are due and when each question should
// come back after an attempt.
type Scheduler struct {
	now func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now}
}

// NewSchedulerWithClock is test-only for deterministic timestamps.
func NewSchedulerWithClock(now func() time.Time) *Scheduler {
	return &Scheduler{now: now}
}

// NextInterval maps lifetime accuracy to the next review interval.
func NextInterval(correctCount, wrongCount int) time.Duration {
	total := correctCount + wrongCount
	if total == 0 {
		return 0
	}
	ratio := float64(correctCount) / float64(total)
	switch {
	case ratio > 0.8:
		return intervalHigh
	case ratio > 0.6:
		return intervalMid
	case ratio > 0.4:
		return intervalLow
	default:
		return intervalRelearn
	}
}

// RecordAttempt updates a question's history after one answer and computes
// its next review time.
func (s *Scheduler) RecordAttempt(history *models.QuestionHistory, correct bool) {
	now := s.now()
	if correct {
		history.CorrectCount++
	} else {
		history.WrongCount++
	}
	history.LastSeen = now
	history.NextReview = now.Add(NextInterval(history.CorrectCount, history.WrongCount))
}

// IsDue reports whether a question should be reviewed. A question with no
// history is always due: cold-start bias toward coverage.
func (s *Scheduler) IsDue(history *models.QuestionHistory) bool {
	if history == nil {
		return true
	}
	return !history.NextReview.After(s.now())
}

// DueQuestions selects the questions from the bank whose review time has
// passed, or which were never attempted.
func (s *Scheduler) DueQuestions(bank []models.Question, histories map[string]*models.QuestionHistory) []models.Question {
	var due []models.Question
	for _, q := range bank {
		if s.IsDue(histories[q.ID]) {
			due = append(due, q)
		}
	}
	return due
}

// BuildPracticeSet shuffles the due set, caps it, and shuffles every
// question's options independently so option position never leaks which
// answer is correct.
func (s *Scheduler) BuildPracticeSet(due []models.Question) []models.Question {
	set := make([]models.Question, len(due))
	copy(set, due)
	rand.Shuffle(len(set), func(i, j int) {
		set[i], set[j] = set[j], set[i]
	})
	if len(set) > PracticeSetSize {
		set = set[:PracticeSetSize]
	}
	for i := range set {
		set[i].Options = shuffledOptions(set[i].Options)
	}
	return set
}

func shuffledOptions(options []models.QuestionOption) []models.QuestionOption {
	out := make([]models.QuestionOption, len(options))
	copy(out, options)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
