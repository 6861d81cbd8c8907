package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
)

type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

// End reasons recorded on completion.
const (
	EndReasonCompleted = "completed"
	EndReasonTimeout   = "time_out"
	EndReasonAbandoned = "abandoned"
)

const affirmationChance = 0.3

var (
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrAlreadyAnswered   = errors.New("current question already answered")
	ErrNotAnswered       = errors.New("current question not answered yet")
	ErrNoSelection       = errors.New("no answer selected")
	ErrSessionCompleted  = errors.New("session already completed")
	ErrSessionNotStarted = errors.New("session not started")
)

// SubmissionWriter is the slice of the collection store the engine needs on
// completion of an assignment-sourced session.
type SubmissionWriter interface {
	CreateSubmission(ctx context.Context, submission *models.Submission) error
}

// PlayRecorder is the slice of the share manager the engine needs on
// completion of a share-sourced session.
type PlayRecorder interface {
	RecordPlay(ctx context.Context, shareID, playerName string, score float64) (*models.SharedQuizSnapshot, error)
}

// Student identifies who is taking the quiz.
type Student struct {
	ID    string
	Name  string
	Email string
}

// Source marks where the session's questions came from, which decides what
// happens at completion.
type Source struct {
	QuizID       string
	AssignmentID string
	ShareID      string
	Practice     bool
}

// Result is one per-question outcome, recorded when the answer is checked.
type Result struct {
	QuestionIndex int  `json:"question_index"`
	Correct       bool `json:"correct"`
	Selected      int  `json:"selected"`
}

// Config wires an engine. Store, Progress and Scheduler are required;
// Submissions and Shares only for the matching sources.
type Config struct {
	Student     Student
	Source      Source
	QuizName    string
	Questions   []models.Question
	TimeLimit   time.Duration // zero means untimed
	Store       *aggregate.Store
	Progress    *progress.Engine
	Scheduler   *review.Scheduler
	Submissions SubmissionWriter
	Shares      PlayRecorder
	Logger      *slog.Logger

	// OnAffirmation fires the cosmetic encouragement on some correct
	// answers. Purely a side effect; never state-relevant.
	OnAffirmation func()

	// tick overrides the countdown granularity in tests.
	tick time.Duration
}

// Engine is the quiz-taking state machine: NotStarted -> InProgress ->
// Completed, with an Unanswered/Answered sub-phase per question.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	phase     Phase
	cursor    int
	selected  int
	answered  map[int]bool
	score     int
	results   []Result
	endReason string

	remaining int // seconds, timed mode only
	timerStop chan struct{}
	timerDone chan struct{}
	rng       *rand.Rand
}

func NewEngine(cfg Config) *Engine {
	if cfg.tick == 0 {
		cfg.tick = time.Second
	}
	return &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		phase:    PhaseNotStarted,
		selected: -1,
		answered: make(map[int]bool),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start moves the session into InProgress and arms the countdown when a
// time limit is set.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseNotStarted {
		e.mu.Unlock()
		if e.phase == PhaseCompleted {
			return ErrSessionCompleted
		}
		return nil
	}
	e.phase = PhaseInProgress
	timed := e.cfg.TimeLimit > 0
	if timed {
		e.remaining = int(e.cfg.TimeLimit / time.Second)
		e.timerStop = make(chan struct{})
		e.timerDone = make(chan struct{})
	}
	e.mu.Unlock()

	if timed {
		go e.runTimer(ctx)
	}

	e.logger.Info("Quiz session started",
		"student_id", e.cfg.Student.ID,
		"quiz_id", e.cfg.Source.QuizID,
		"questions", len(e.cfg.Questions),
		"timed", timed)
	return nil
}

func (e *Engine) runTimer(ctx context.Context) {
	defer close(e.timerDone)
	ticker := time.NewTicker(e.cfg.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			if e.phase != PhaseInProgress {
				e.mu.Unlock()
				return
			}
			e.remaining--
			expired := e.remaining <= 0
			e.mu.Unlock()
			if expired {
				// Reaching zero forces completion no matter how many
				// questions remain unanswered.
				e.complete(ctx, EndReasonTimeout)
				return
			}
		case <-e.timerStop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SelectAnswer records a tentative choice for the current question.
// Re-selecting before checking overwrites the previous choice.
func (e *Engine) SelectAnswer(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseInProgress {
		return ErrSessionNotActive
	}
	if e.answered[e.cursor] {
		return ErrAlreadyAnswered
	}
	e.selected = index
	return nil
}

// CheckAnswer scores the tentative choice and moves the current question
// into its Answered sub-phase. Structurally invalid question data (shared
// snapshots are not validated on ingest) makes this a no-op that still
// unblocks navigation.
func (e *Engine) CheckAnswer() error {
	e.mu.Lock()
	if e.phase != PhaseInProgress {
		e.mu.Unlock()
		return ErrSessionNotActive
	}
	if e.answered[e.cursor] {
		e.mu.Unlock()
		return ErrAlreadyAnswered
	}
	if e.selected < 0 {
		e.mu.Unlock()
		return ErrNoSelection
	}

	question := e.cfg.Questions[e.cursor]
	correctIndex := question.CorrectOption()
	if len(question.Options) == 0 || e.selected >= len(question.Options) || correctIndex < 0 {
		e.answered[e.cursor] = true
		e.mu.Unlock()
		e.logger.Warn("Skipping structurally invalid question",
			"quiz_id", e.cfg.Source.QuizID,
			"question_index", e.cursor)
		return nil
	}

	correct := e.selected == correctIndex
	if correct {
		e.score++
	}
	e.answered[e.cursor] = true
	e.results = append(e.results, Result{
		QuestionIndex: e.cursor,
		Correct:       correct,
		Selected:      e.selected,
	})
	celebrate := correct && e.rng.Float64() < affirmationChance
	topic := question.Topic
	e.mu.Unlock()

	// Per-question topic stats update live; streaks and history wait for
	// completion.
	e.cfg.Store.UpdateProgress(func(p *models.StudentProgress) {
		e.cfg.Progress.RecordAnswer(p, topic, correct)
	})

	if celebrate && e.cfg.OnAffirmation != nil {
		e.cfg.OnAffirmation()
	}
	return nil
}

// NextQuestion advances the cursor, or completes the session after the
// last question. Advancing is the only way out of the Answered sub-phase.
func (e *Engine) NextQuestion(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseInProgress {
		e.mu.Unlock()
		return ErrSessionNotActive
	}
	if !e.answered[e.cursor] {
		e.mu.Unlock()
		return ErrNotAnswered
	}
	if e.cursor+1 < len(e.cfg.Questions) {
		e.cursor++
		e.selected = -1
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.complete(ctx, EndReasonCompleted)
	return nil
}

// Exit abandons the session: the timer is cancelled and no finalization
// runs. The caller may checkpoint first for a later resume.
func (e *Engine) Exit() {
	e.mu.Lock()
	if e.phase != PhaseInProgress {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseCompleted
	e.endReason = EndReasonAbandoned
	e.mu.Unlock()
	e.stopTimer()
}

func (e *Engine) stopTimer() {
	e.mu.Lock()
	stop := e.timerStop
	e.timerStop = nil
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// complete finalizes the session exactly once: progress finalization,
// spaced-repetition updates for every answered question, and the
// source-specific submission or shared-play record.
func (e *Engine) complete(ctx context.Context, reason string) {
	e.mu.Lock()
	if e.phase == PhaseCompleted {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseCompleted
	e.endReason = reason
	score := e.score
	total := len(e.cfg.Questions)
	results := append([]Result(nil), e.results...)
	e.mu.Unlock()

	e.stopTimer()

	e.cfg.Store.UpdateProgress(func(p *models.StudentProgress) {
		if p.QuestionHistory == nil {
			p.QuestionHistory = make(map[string]*models.QuestionHistory)
		}
		for _, r := range results {
			question := e.cfg.Questions[r.QuestionIndex]
			if question.ID == "" {
				continue
			}
			history, ok := p.QuestionHistory[question.ID]
			if !ok {
				history = &models.QuestionHistory{}
				p.QuestionHistory[question.ID] = history
			}
			e.cfg.Scheduler.RecordAttempt(history, r.Correct)
		}
		e.cfg.Progress.FinalizeSession(e.cfg.Student.ID, p, score, total)
	})

	percentage := 0.0
	if total > 0 {
		percentage = float64(score) / float64(total) * 100
	}

	if e.cfg.Source.AssignmentID != "" && e.cfg.Submissions != nil {
		e.submitAssignment(ctx, score, total, percentage, results)
	}

	if e.cfg.Source.ShareID != "" && e.cfg.Shares != nil {
		name := e.cfg.Student.Name
		if name == "" {
			name = "Anonymous"
		}
		if _, err := e.cfg.Shares.RecordPlay(ctx, e.cfg.Source.ShareID, name, percentage); err != nil {
			e.logger.Error("Failed to record shared play",
				"share_id", e.cfg.Source.ShareID, "error", err)
		}
	}

	e.logger.Info("Quiz session completed",
		"student_id", e.cfg.Student.ID,
		"quiz_id", e.cfg.Source.QuizID,
		"score", score,
		"total", total,
		"end_reason", reason)
}

func (e *Engine) submitAssignment(ctx context.Context, score, total int, percentage float64, results []Result) {
	answers := make([]models.AnswerRecord, len(results))
	for i, r := range results {
		answers[i] = models.AnswerRecord{Correct: r.Correct, Selected: r.Selected}
	}
	submission := models.Submission{
		AssignmentID: e.cfg.Source.AssignmentID,
		StudentID:    e.cfg.Student.ID,
		StudentEmail: e.cfg.Student.Email,
		StudentName:  e.cfg.Student.Name,
		Score:        score,
		Total:        total,
		Percentage:   percentage,
		Answers:      mustJSON(answers),
		SubmittedAt:  time.Now(),
	}
	if err := e.cfg.Submissions.CreateSubmission(ctx, &submission); err != nil {
		e.logger.Error("Failed to create submission",
			"assignment_id", e.cfg.Source.AssignmentID,
			"student_id", e.cfg.Student.ID,
			"error", err)
		return
	}
	e.cfg.Store.AddSubmission(submission)
}

// ===== READ SIDE =====

type State struct {
	Phase            Phase    `json:"phase"`
	CurrentQuestion  int      `json:"current_question"`
	SelectedAnswer   int      `json:"selected_answer"`
	AnsweredCount    int      `json:"answered_count"`
	Score            int      `json:"score"`
	TotalQuestions   int      `json:"total_questions"`
	RemainingSeconds int      `json:"remaining_seconds,omitempty"`
	Results          []Result `json:"results"`
	EndReason        string   `json:"end_reason,omitempty"`
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Phase:            e.phase,
		CurrentQuestion:  e.cursor,
		SelectedAnswer:   e.selected,
		AnsweredCount:    len(e.answered),
		Score:            e.score,
		TotalQuestions:   len(e.cfg.Questions),
		RemainingSeconds: e.remaining,
		Results:          append([]Result(nil), e.results...),
		EndReason:        e.endReason,
	}
}

func (e *Engine) CurrentQuestion() (models.Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor >= len(e.cfg.Questions) {
		return models.Question{}, false
	}
	return e.cfg.Questions[e.cursor], true
}
