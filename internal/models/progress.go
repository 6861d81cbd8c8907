package models

import (
	"time"
)

const (
	// RecentScoresCap bounds the recent-scores ring buffer.
	RecentScoresCap = 8
	// DailyHistoryCap bounds the daily history, oldest evicted first.
	DailyHistoryCap = 30
)

type TopicStats struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// QuestionHistory tracks per-question review state for spaced repetition.
type QuestionHistory struct {
	LastSeen     time.Time `json:"last_seen"`
	CorrectCount int       `json:"correct_count"`
	WrongCount   int       `json:"wrong_count"`
	NextReview   time.Time `json:"next_review"`
}

type DailyEntry struct {
	Date     string  `json:"date"` // local calendar date, YYYY-MM-DD
	Quizzes  int     `json:"quizzes"`
	AvgScore float64 `json:"avg_score"`
}

// StudentProgress is the gamification and analytics record, one per user,
// embedded in the aggregate blob.
type StudentProgress struct {
	QuizzesTaken    int                         `json:"quizzes_taken"`
	TotalScore      int                         `json:"total_score"`
	TotalQuestions  int                         `json:"total_questions"`
	TopicHistory    map[string]*TopicStats      `json:"topic_history"`
	RecentScores    []float64                   `json:"recent_scores"`
	CurrentStreak   int                         `json:"current_streak"`
	LongestStreak   int                         `json:"longest_streak"`
	LastPracticeDay string                      `json:"last_practice_date"` // YYYY-MM-DD
	Achievements    []string                    `json:"achievements"`
	DailyHistory    []DailyEntry                `json:"daily_history"`
	QuestionHistory map[string]*QuestionHistory `json:"question_history"`
}

func NewStudentProgress() *StudentProgress {
	return &StudentProgress{
		TopicHistory:    make(map[string]*TopicStats),
		QuestionHistory: make(map[string]*QuestionHistory),
	}
}

// HasAchievement reports whether the achievement has already been earned.
func (p *StudentProgress) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// DayKey formats a time as the local calendar date used throughout the
// progress record.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
