package validator

import (
	"time"

	"github.com/quizforge/core-service/internal/models"
)

// QuizCreateRequest creates a quiz from already prepared questions.
type QuizCreateRequest struct {
	Title      string                 `json:"title" validate:"required,quiz_title"`
	Subject    string                 `json:"subject" validate:"required,max=100"`
	Difficulty models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	Questions  []models.Question      `json:"questions" validate:"required,min=1,max=100"`
}

// QuizUpdateRequest edits quiz metadata; question edits go through the
// question endpoints so sharing invalidation stays in one place.
type QuizUpdateRequest struct {
	Title      *string                 `json:"title" validate:"omitempty,quiz_title"`
	Subject    *string                 `json:"subject" validate:"omitempty,max=100"`
	Difficulty *models.DifficultyLevel `json:"difficulty" validate:"omitempty,difficulty_level"`
	Published  *bool                   `json:"published"`
}

type QuestionUpdateRequest struct {
	Question      string              `json:"question" validate:"required,min=1,max=2000"`
	Topic         string              `json:"topic" validate:"omitempty,max=100"`
	Options       []OptionRequest     `json:"options" validate:"required,min=2,max=6,dive"`
	CorrectOption int                 `json:"correct_option" validate:"min=0"`
	Explanation   string              `json:"explanation" validate:"omitempty,max=2000"`
	Type          models.QuestionType `json:"type" validate:"required,question_type"`
}

type OptionRequest struct {
	Text string `json:"text" validate:"required,max=500"`
}

type ClassCreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type ClassJoinRequest struct {
	Code string `json:"code" validate:"required,class_code"`
}

type AssignmentCreateRequest struct {
	QuizID  string     `json:"quiz_id" validate:"required,uuid4"`
	ClassID string     `json:"class_id" validate:"required,uuid4"`
	Weight  int        `json:"weight" validate:"omitempty,min=1,max=100"`
	DueDate *time.Time `json:"due_date" validate:"omitempty,future_date"`
}

type AccountUpdateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type PlanUpdateRequest struct {
	Plan models.PlanID `json:"plan" validate:"required,plan_id"`
}

// SharePlayRequest records a finished run against a shared quiz.
type SharePlayRequest struct {
	PlayerName string  `json:"player_name" validate:"omitempty,max=100"`
	Score      float64 `json:"score" validate:"min=0,max=100"`
}
