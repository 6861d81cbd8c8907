package models

// QuizAggregate is the single per-user document holding every user-owned
// collection. It persists as one JSON blob, so any mutation anywhere in the
// tree schedules a rewrite of the whole aggregate.
type QuizAggregate struct {
	Quizzes       []Quiz           `json:"quizzes"`
	Classes       []Class          `json:"classes"`
	JoinedClasses []Class          `json:"joined_classes"`
	Assignments   []Assignment     `json:"assignments"`
	Submissions   []Submission     `json:"submissions"`
	QuestionBank  []Question       `json:"question_bank"`
	Progress      *StudentProgress `json:"student_progress"`
}

func NewQuizAggregate() *QuizAggregate {
	return &QuizAggregate{
		Progress: NewStudentProgress(),
	}
}
