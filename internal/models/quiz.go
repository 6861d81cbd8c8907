package models

import (
	"time"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
)

type DifficultyLevel string

const (
	DifficultyBasic        DifficultyLevel = "Basic"
	DifficultyIntermediate DifficultyLevel = "Intermediate"
	DifficultyAdvanced     DifficultyLevel = "Advanced"
)

type QuestionOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID          string           `json:"id"`
	Question    string           `json:"question"`
	Topic       string           `json:"topic"`
	Difficulty  DifficultyLevel  `json:"difficulty"`
	Type        QuestionType     `json:"type"`
	Options     []QuestionOption `json:"options"`
	Explanation string           `json:"explanation"`
}

// SetCorrectOption marks the option at index as the single correct one,
// clearing every other option. Out-of-range indices are ignored so that
// externally sourced question data cannot corrupt the invariant.
func (q *Question) SetCorrectOption(index int) {
	if index < 0 || index >= len(q.Options) {
		return
	}
	for i := range q.Options {
		q.Options[i].IsCorrect = i == index
	}
}

// CorrectOption returns the index of the correct option, or -1 when the
// question is structurally invalid (no options, none or several correct).
func (q *Question) CorrectOption() int {
	found := -1
	for i, opt := range q.Options {
		if opt.IsCorrect {
			if found >= 0 {
				return -1
			}
			found = i
		}
	}
	return found
}

// IsWellFormed reports whether exactly one option is marked correct.
func (q *Question) IsWellFormed() bool {
	return len(q.Options) > 0 && q.CorrectOption() >= 0
}

type Quiz struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
	Subject   string     `json:"subject"`
	Published bool       `json:"published"`
	Tags      []string   `json:"tags"`
	ShareID   string     `json:"share_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
