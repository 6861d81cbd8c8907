package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/store"
)

// CheckpointTTL bounds how long an interrupted session stays resumable.
const CheckpointTTL = 24 * time.Hour

var (
	ErrNoActiveSession   = errors.New("no active quiz session")
	ErrSessionInProgress = errors.New("another quiz session is already in progress")
	ErrNoCheckpoint      = errors.New("no resumable checkpoint")
	ErrNothingDue        = errors.New("no questions due for review")
)

// Checkpoint is the local-only resume state for an interrupted session.
type Checkpoint struct {
	Source           Source    `json:"source"`
	QuizName         string    `json:"quiz_name"`
	Cursor           int       `json:"cursor"`
	Selected         int       `json:"selected"`
	Score            int       `json:"score"`
	Answered         []int     `json:"answered"`
	Results          []Result  `json:"results"`
	RemainingSeconds int       `json:"remaining_seconds"`
	SavedAt          time.Time `json:"saved_at"`
}

// Manager owns at most one active session per user plus the checkpoint
// lifecycle.
type Manager struct {
	docs        store.DocumentStore
	collections *store.CollectionStore
	progress    *progress.Engine
	scheduler   *review.Scheduler
	shares      *share.Manager
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Engine
}

func NewManager(
	docs store.DocumentStore,
	collections *store.CollectionStore,
	progressEngine *progress.Engine,
	scheduler *review.Scheduler,
	shares *share.Manager,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		docs:        docs,
		collections: collections,
		progress:    progressEngine,
		scheduler:   scheduler,
		shares:      shares,
		logger:      logger,
		sessions:    make(map[string]*Engine),
	}
}

// StartFromQuiz begins a session over one of the user's own quizzes.
func (m *Manager) StartFromQuiz(ctx context.Context, agg *aggregate.Store, student Student, quizID string, timeLimit time.Duration) (*Engine, error) {
	quiz, ok := agg.GetQuiz(quizID)
	if !ok {
		return nil, aggregate.ErrQuizNotFound
	}
	return m.start(ctx, agg, Config{
		Student:   student,
		Source:    Source{QuizID: quizID},
		QuizName:  quiz.Name,
		Questions: quiz.Questions,
		TimeLimit: timeLimit,
	})
}

// StartFromAssignment begins a session over the question snapshot embedded
// in an assignment, so later quiz edits never reach the student.
func (m *Manager) StartFromAssignment(ctx context.Context, agg *aggregate.Store, student Student, assignmentID string, timeLimit time.Duration) (*Engine, error) {
	assignment, err := m.collections.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	questions := assignment.SnapshotQuestions()
	if len(questions) == 0 {
		return nil, fmt.Errorf("assignment %s has no questions", assignmentID)
	}
	return m.start(ctx, agg, Config{
		Student:   student,
		Source:    Source{QuizID: assignment.QuizID, AssignmentID: assignmentID},
		QuizName:  assignment.QuizName,
		Questions: questions,
		TimeLimit: timeLimit,
	})
}

// StartFromShare begins a session over a public shared snapshot.
func (m *Manager) StartFromShare(ctx context.Context, agg *aggregate.Store, student Student, shareID string) (*Engine, error) {
	snapshot, err := m.shares.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, agg, Config{
		Student:   student,
		Source:    Source{ShareID: shareID},
		QuizName:  snapshot.Name,
		Questions: snapshot.Questions,
	})
}

// StartPractice builds a spaced-repetition session from the due subset of
// the question bank: shuffled, capped, options reshuffled.
func (m *Manager) StartPractice(ctx context.Context, agg *aggregate.Store, student Student) (*Engine, error) {
	snapshot := agg.Snapshot()
	histories := map[string]*models.QuestionHistory{}
	if snapshot.Progress != nil {
		histories = snapshot.Progress.QuestionHistory
	}
	due := m.scheduler.DueQuestions(snapshot.QuestionBank, histories)
	if len(due) == 0 {
		return nil, ErrNothingDue
	}
	return m.start(ctx, agg, Config{
		Student:   student,
		Source:    Source{Practice: true},
		QuizName:  "Practice",
		Questions: m.scheduler.BuildPracticeSet(due),
	})
}

func (m *Manager) start(ctx context.Context, agg *aggregate.Store, cfg Config) (*Engine, error) {
	cfg.Store = agg
	cfg.Progress = m.progress
	cfg.Scheduler = m.scheduler
	if m.collections != nil {
		cfg.Submissions = m.collections
	}
	cfg.Shares = m.shares
	cfg.Logger = m.logger

	m.mu.Lock()
	if existing, ok := m.sessions[cfg.Student.ID]; ok {
		if existing.State().Phase == PhaseInProgress {
			m.mu.Unlock()
			return nil, ErrSessionInProgress
		}
	}
	engine := NewEngine(cfg)
	m.sessions[cfg.Student.ID] = engine
	m.mu.Unlock()

	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// Assignment looks up an assignment row; resume flows need it to rebuild
// the question snapshot a checkpoint ran over.
func (m *Manager) Assignment(ctx context.Context, id string) (*models.Assignment, error) {
	return m.collections.GetAssignment(ctx, id)
}

// Active returns the user's current session.
func (m *Manager) Active(userID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return engine, nil
}

// Abandon exits the user's session, writing a resume checkpoint first.
// A session that already finished has nothing to resume; checkpointing it
// would let Resume replay its finalization.
func (m *Manager) Abandon(ctx context.Context, userID string) error {
	m.mu.Lock()
	engine, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoActiveSession
	}
	if engine.State().Phase != PhaseInProgress {
		return ErrNoActiveSession
	}

	if err := m.saveCheckpoint(ctx, userID, engine); err != nil {
		m.logger.Error("Failed to save checkpoint", "user_id", userID, "error", err)
	}
	engine.Exit()
	return nil
}

// Drop removes a completed session without checkpointing.
func (m *Manager) Drop(ctx context.Context, userID string) {
	m.mu.Lock()
	engine, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if ok {
		engine.Exit()
	}
	if err := m.docs.Delete(ctx, store.CheckpointKey(userID)); err != nil && !errors.Is(err, store.ErrDocNotFound) {
		m.logger.Debug("Checkpoint delete failed", "user_id", userID, "error", err)
	}
}

func (m *Manager) saveCheckpoint(ctx context.Context, userID string, engine *Engine) error {
	engine.mu.Lock()
	answered := make([]int, 0, len(engine.answered))
	for idx := range engine.answered {
		answered = append(answered, idx)
	}
	cp := Checkpoint{
		Source:           engine.cfg.Source,
		QuizName:         engine.cfg.QuizName,
		Cursor:           engine.cursor,
		Selected:         engine.selected,
		Score:            engine.score,
		Answered:         answered,
		Results:          append([]Result(nil), engine.results...),
		RemainingSeconds: engine.remaining,
		SavedAt:          time.Now(),
	}
	engine.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return m.docs.Set(ctx, store.CheckpointKey(userID), string(data), CheckpointTTL)
}

// LoadCheckpoint returns the resumable state for a user, if any. Expired
// checkpoints (the store's TTL is the backstop) are discarded.
func (m *Manager) LoadCheckpoint(ctx context.Context, userID string) (*Checkpoint, error) {
	raw, err := m.docs.Get(ctx, store.CheckpointKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		// A malformed checkpoint is not worth surfacing; drop it.
		_ = m.docs.Delete(ctx, store.CheckpointKey(userID))
		return nil, ErrNoCheckpoint
	}
	if time.Since(cp.SavedAt) > CheckpointTTL {
		_ = m.docs.Delete(ctx, store.CheckpointKey(userID))
		return nil, ErrNoCheckpoint
	}
	return &cp, nil
}

// fits reports whether every index in the checkpoint still addresses a
// question set of the given size. A quiz edited down between abandon and
// resume invalidates the recorded positions.
func (cp *Checkpoint) fits(total int) bool {
	if total == 0 || cp.Cursor < 0 || cp.Cursor >= total {
		return false
	}
	for _, idx := range cp.Answered {
		if idx < 0 || idx >= total {
			return false
		}
	}
	for _, r := range cp.Results {
		if r.QuestionIndex < 0 || r.QuestionIndex >= total {
			return false
		}
	}
	return true
}

// Resume rebuilds a session from a checkpoint over the same source. A
// checkpoint whose positions no longer fit the re-derived question set is
// discarded like an expired one.
func (m *Manager) Resume(ctx context.Context, agg *aggregate.Store, student Student, questions []models.Question, cp *Checkpoint) (*Engine, error) {
	if !cp.fits(len(questions)) {
		if err := m.docs.Delete(ctx, store.CheckpointKey(student.ID)); err != nil && !errors.Is(err, store.ErrDocNotFound) {
			m.logger.Debug("Checkpoint delete failed", "user_id", student.ID, "error", err)
		}
		return nil, ErrNoCheckpoint
	}

	var timeLimit time.Duration
	if cp.RemainingSeconds > 0 {
		timeLimit = time.Duration(cp.RemainingSeconds) * time.Second
	}
	engine, err := m.start(ctx, agg, Config{
		Student:   student,
		Source:    cp.Source,
		QuizName:  cp.QuizName,
		Questions: questions,
		TimeLimit: timeLimit,
	})
	if err != nil {
		return nil, err
	}

	engine.mu.Lock()
	engine.cursor = cp.Cursor
	engine.selected = cp.Selected
	engine.score = cp.Score
	for _, idx := range cp.Answered {
		engine.answered[idx] = true
	}
	engine.results = append([]Result(nil), cp.Results...)
	engine.mu.Unlock()

	if err := m.docs.Delete(ctx, store.CheckpointKey(student.ID)); err != nil && !errors.Is(err, store.ErrDocNotFound) {
		m.logger.Debug("Checkpoint delete failed", "user_id", student.ID, "error", err)
	}
	return engine, nil
}

// Shutdown abandons every active session, checkpointing each one.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Engine)
	m.mu.Unlock()

	for userID, engine := range sessions {
		if engine.State().Phase == PhaseInProgress {
			if err := m.saveCheckpoint(ctx, userID, engine); err != nil {
				m.logger.Error("Failed to checkpoint session during shutdown",
					"user_id", userID, "error", err)
			}
		}
		engine.Exit()
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}
