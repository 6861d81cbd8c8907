package models

import (
	"time"
)

const (
	// MaxSharedQuestions caps how many questions a shared snapshot carries.
	MaxSharedQuestions = 50
	// LeaderboardSize is the number of entries kept per shared snapshot.
	LeaderboardSize = 10
)

type LeaderboardEntry struct {
	Name  string    `json:"name"`
	Score float64   `json:"score"`
	Date  time.Time `json:"date"`
}

// SharedQuizSnapshot is an immutable public copy of a quiz. It is created
// once per Quiz.ShareID and only its play counter and leaderboard mutate
// afterwards; edits to the source quiz mint a new snapshot instead.
type SharedQuizSnapshot struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Questions   []Question         `json:"questions"`
	Subject     string             `json:"subject"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	TimesTaken  int                `json:"times_taken"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
