package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Assignment links a quiz to a class. QuizQuestions is a snapshot embedded
// at assignment time, so later edits to the source quiz never change what
// students already received.
type Assignment struct {
	ID            string         `json:"id" gorm:"primaryKey;size:64"`
	QuizID        string         `json:"quiz_id" gorm:"not null;index;size:64"`
	QuizName      string         `json:"quiz_name" gorm:"size:200"`
	ClassID       string         `json:"class_id" gorm:"not null;index;size:64"`
	QuizQuestions datatypes.JSON `json:"quiz_questions" gorm:"type:jsonb"`
	Weight        int            `json:"weight" gorm:"not null;default:100"`
	DueDate       *time.Time     `json:"due_date"`
	TeacherID     string         `json:"teacher_id" gorm:"not null;index;size:255"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (Assignment) TableName() string {
	return "assignments"
}

// NewQuestionSnapshot encodes a question set for embedding in an
// assignment row.
func NewQuestionSnapshot(questions []Question) (datatypes.JSON, error) {
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// SnapshotQuestions decodes the embedded question snapshot. A malformed
// snapshot degrades to an empty set rather than failing the read.
func (a *Assignment) SnapshotQuestions() []Question {
	var questions []Question
	if len(a.QuizQuestions) == 0 {
		return questions
	}
	if err := json.Unmarshal(a.QuizQuestions, &questions); err != nil {
		return nil
	}
	return questions
}

// AnswerRecord is one per-question outcome inside a submission or a
// progress log. Selected is the chosen option index.
type AnswerRecord struct {
	Correct  bool `json:"correct"`
	Selected int  `json:"selected"`
}

// Submission is append-only; one row is expected per (assignment, student)
// pair and the unique index enforces it.
type Submission struct {
	ID           string         `json:"id" gorm:"primaryKey;size:64"`
	AssignmentID string         `json:"assignment_id" gorm:"not null;index;uniqueIndex:idx_assignment_student;size:64"`
	StudentID    string         `json:"student_id" gorm:"not null;index;uniqueIndex:idx_assignment_student;size:255"`
	StudentEmail string         `json:"student_email" gorm:"size:255"`
	StudentName  string         `json:"student_name" gorm:"size:100"`
	Score        int            `json:"score" gorm:"not null"`
	Total        int            `json:"total" gorm:"not null"`
	Percentage   float64        `json:"percentage"`
	Answers      datatypes.JSON `json:"answers" gorm:"type:jsonb"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

func (s *Submission) AnswerRecords() []AnswerRecord {
	var records []AnswerRecord
	if len(s.Answers) == 0 {
		return records
	}
	if err := json.Unmarshal(s.Answers, &records); err != nil {
		return nil
	}
	return records
}
