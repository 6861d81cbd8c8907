package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/store"
)

// DefaultDebounce is how long mutations coalesce before the aggregate blob
// is rewritten.
const DefaultDebounce = 500 * time.Millisecond

var (
	ErrQuizNotFound  = errors.New("quiz not found in aggregate")
	ErrHydrating     = errors.New("aggregate hydration in flight")
	ErrStoreClosed   = errors.New("aggregate store closed")
	ErrHydrateFailed = errors.New("aggregate hydration failed")
)

// Store is the single source of truth for one user's state. Mutations are
// synchronous in-memory updates; each schedules, but does not perform, a
// debounced whole-blob write to the document store. The debounced writer is
// the only writer of the per-user blob.
type Store struct {
	userID      string
	docs        store.DocumentStore
	collections *store.CollectionStore
	logger      *slog.Logger
	debounce    time.Duration

	mu          sync.RWMutex
	agg         *models.QuizAggregate
	hydrating   bool
	hydrated    bool
	deferred    []func(agg *models.QuizAggregate)
	dirty       bool
	pending     *time.Timer
	closed      bool
	subscribers map[chan struct{}]struct{}
}

func NewStore(userID string, docs store.DocumentStore, collections *store.CollectionStore, logger *slog.Logger) *Store {
	return &Store{
		userID:      userID,
		docs:        docs,
		collections: collections,
		logger:      logger,
		debounce:    DefaultDebounce,
		agg:         models.NewQuizAggregate(),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// NewStoreWithDebounce creates a store with a custom write coalescing
// window. Tests use short windows; production uses the configured one.
func NewStoreWithDebounce(userID string, docs store.DocumentStore, collections *store.CollectionStore, logger *slog.Logger, debounce time.Duration) *Store {
	s := NewStore(userID, docs, collections, logger)
	s.debounce = debounce
	return s
}

func (s *Store) UserID() string { return s.userID }

// ===== HYDRATION =====

// Hydrate loads the per-user blob and the cross-referenced collections.
// Persistence is suppressed for the duration so a half-initialized default
// aggregate can never stomp freshly loaded remote state. Only a failed core
// blob read is fatal; every cross-reference fetch degrades to the locally
// cached copy of that slice.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.hydrating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.hydrating = false
		s.hydrated = true
		s.deferred = nil
		if s.dirty && !s.closed {
			s.scheduleWriteLocked()
		}
		s.mu.Unlock()
	}()

	agg, err := s.loadBlob(ctx)
	if err != nil {
		return err
	}

	s.syncClassesOnLogin(ctx, agg)
	s.hydrateCrossReferences(ctx, agg)

	s.mu.Lock()
	// Mutations that landed mid-hydration were applied to the aggregate
	// being replaced; replay them onto the loaded state.
	for _, fn := range s.deferred {
		fn(agg)
	}
	s.deferred = nil
	s.agg = agg
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) loadBlob(ctx context.Context) (*models.QuizAggregate, error) {
	raw, err := s.docs.Get(ctx, store.AggregateKey(s.userID))
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			return models.NewQuizAggregate(), nil
		}
		// No safe default exists for a network failure on the core read;
		// surface it and block the session.
		return nil, fmt.Errorf("%w: %v", ErrHydrateFailed, err)
	}

	agg := models.NewQuizAggregate()
	if err := json.Unmarshal([]byte(raw), agg); err != nil {
		// Malformed persisted data is never fatal: degrade to defaults.
		s.logger.Error("Malformed aggregate blob, falling back to defaults",
			"user_id", s.userID, "error", err)
		return models.NewQuizAggregate(), nil
	}
	if agg.Progress == nil {
		agg.Progress = models.NewStudentProgress()
	}
	return agg, nil
}

// syncClassesOnLogin reconciles each locally known class with the canonical
// collection document: remote wins for shared fields like the roster, and a
// class the collection has never seen is pushed up. All-settled semantics:
// one class failing must not block the others.
func (s *Store) syncClassesOnLogin(ctx context.Context, agg *models.QuizAggregate) {
	if len(agg.Classes) == 0 || s.collections == nil {
		return
	}

	type outcome struct {
		class *models.Class
		err   error
	}
	results := make([]outcome, len(agg.Classes))

	g, gctx := errgroup.WithContext(ctx)
	for i := range agg.Classes {
		i := i
		local := agg.Classes[i]
		g.Go(func() error {
			remote, err := s.collections.GetClass(gctx, local.ID)
			if err == nil {
				results[i] = outcome{class: remote}
				return nil
			}
			if errors.Is(err, store.ErrClassNotFound) {
				if pushErr := s.collections.SaveClass(gctx, &local); pushErr != nil {
					results[i] = outcome{err: pushErr}
					return nil
				}
				results[i] = outcome{class: &local}
				return nil
			}
			results[i] = outcome{err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res.err != nil {
			s.logger.Error("Class sync failed, keeping cached copy",
				"user_id", s.userID,
				"class_id", agg.Classes[i].ID,
				"error", res.err)
			continue
		}
		agg.Classes[i] = mergeClass(agg.Classes[i], *res.class)
	}
}

// hydrateCrossReferences loads the slices that are not embedded in the
// per-user blob: assignments for joined classes and submissions for owned
// assignments. A teacher sees new student submissions without re-reading
// their own aggregate.
func (s *Store) hydrateCrossReferences(ctx context.Context, agg *models.QuizAggregate) {
	if s.collections == nil {
		return
	}
	joinedIDs := make([]string, 0, len(agg.JoinedClasses))
	for _, c := range agg.JoinedClasses {
		joinedIDs = append(joinedIDs, c.ID)
	}
	if len(joinedIDs) > 0 {
		assignments, err := s.collections.GetAssignmentsByClassIDs(ctx, joinedIDs)
		if err != nil {
			s.logger.Error("Assignment hydration failed, keeping cached copy",
				"user_id", s.userID, "error", err)
		} else {
			agg.Assignments = mergeAssignments(agg.Assignments, assignments)
		}
	}

	owned, err := s.collections.GetAssignmentsByTeacher(ctx, s.userID)
	if err != nil {
		s.logger.Error("Owned-assignment hydration failed, keeping cached copy",
			"user_id", s.userID, "error", err)
		return
	}
	if len(owned) == 0 {
		return
	}
	agg.Assignments = mergeAssignments(agg.Assignments, owned)

	ownedIDs := make([]string, 0, len(owned))
	for _, a := range owned {
		ownedIDs = append(ownedIDs, a.ID)
	}
	submissions, err := s.collections.GetSubmissionsByAssignmentIDs(ctx, ownedIDs)
	if err != nil {
		s.logger.Error("Submission hydration failed, keeping cached copy",
			"user_id", s.userID, "error", err)
		return
	}
	for _, sub := range submissions {
		agg.Submissions = appendSubmissionIfAbsent(agg.Submissions, sub)
	}
}

// ===== MUTATIONS =====

func (s *Store) AddQuiz(quiz models.Quiz) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.Quizzes = append(agg.Quizzes, quiz)
	})
}

// UpdateQuizQuestions replaces a quiz's question set. Editing questions
// invalidates any existing share link: shared snapshots are immutable
// copies, so the next share must mint a fresh one.
func (s *Store) UpdateQuizQuestions(quizID string, questions []models.Question) error {
	return s.mutateQuiz(quizID, func(q *models.Quiz) {
		q.Questions = questions
		q.ShareID = ""
	})
}

// UpdateQuestion edits a single question in place, enforcing the
// exactly-one-correct invariant, and clears the quiz's share id. Attempt
// history and review scheduling are keyed by question id, so the edit
// keeps the existing identity unless the caller supplies a new one.
func (s *Store) UpdateQuestion(quizID string, index int, question models.Question, correctOption int) error {
	return s.mutateQuiz(quizID, func(q *models.Quiz) {
		if index < 0 || index >= len(q.Questions) {
			return
		}
		if question.ID == "" {
			question.ID = q.Questions[index].ID
		}
		if question.Difficulty == "" {
			question.Difficulty = q.Questions[index].Difficulty
		}
		question.SetCorrectOption(correctOption)
		q.Questions[index] = question
		q.ShareID = ""
	})
}

// RenameQuiz updates quiz metadata without touching its questions, so the
// share link survives the edit.
func (s *Store) RenameQuiz(quizID, name, subject string) error {
	return s.mutateQuiz(quizID, func(q *models.Quiz) {
		if name != "" {
			q.Name = name
		}
		if subject != "" {
			q.Subject = subject
		}
	})
}

func (s *Store) SetQuizPublished(quizID string, published bool) error {
	return s.mutateQuiz(quizID, func(q *models.Quiz) {
		q.Published = published
	})
}

// SetShareID stamps a freshly minted share id onto the owning quiz.
func (s *Store) SetShareID(quizID, shareID string) error {
	return s.mutateQuiz(quizID, func(q *models.Quiz) {
		q.ShareID = shareID
	})
}

func (s *Store) DeleteQuiz(quizID string) error {
	found := false
	s.mutate(func(agg *models.QuizAggregate) {
		for i := range agg.Quizzes {
			if agg.Quizzes[i].ID == quizID {
				agg.Quizzes = append(agg.Quizzes[:i], agg.Quizzes[i+1:]...)
				found = true
				return
			}
		}
	})
	if !found {
		return ErrQuizNotFound
	}
	return nil
}

func (s *Store) GetQuiz(quizID string) (models.Quiz, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.agg.Quizzes {
		if q.ID == quizID {
			return cloneQuiz(q), true
		}
	}
	return models.Quiz{}, false
}

func (s *Store) AddClass(class models.Class) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.Classes = append(agg.Classes, class)
	})
}

// MergeClass applies an incoming class delta: a shallow field merge into
// the existing local object, so concurrent local-only state is preserved.
// Unknown classes are appended.
func (s *Store) MergeClass(remote models.Class) {
	s.mutate(func(agg *models.QuizAggregate) {
		for i := range agg.Classes {
			if agg.Classes[i].ID == remote.ID {
				agg.Classes[i] = mergeClass(agg.Classes[i], remote)
				return
			}
		}
		for i := range agg.JoinedClasses {
			if agg.JoinedClasses[i].ID == remote.ID {
				agg.JoinedClasses[i] = mergeClass(agg.JoinedClasses[i], remote)
				return
			}
		}
		agg.Classes = append(agg.Classes, remote)
	})
}

func (s *Store) AddJoinedClass(class models.Class) {
	s.mutate(func(agg *models.QuizAggregate) {
		for i := range agg.JoinedClasses {
			if agg.JoinedClasses[i].ID == class.ID {
				agg.JoinedClasses[i] = class
				return
			}
		}
		agg.JoinedClasses = append(agg.JoinedClasses, class)
	})
}

func (s *Store) RemoveJoinedClass(classID string) {
	s.mutate(func(agg *models.QuizAggregate) {
		for i := range agg.JoinedClasses {
			if agg.JoinedClasses[i].ID == classID {
				agg.JoinedClasses = append(agg.JoinedClasses[:i], agg.JoinedClasses[i+1:]...)
				return
			}
		}
	})
}

func (s *Store) AddAssignment(assignment models.Assignment) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.Assignments = mergeAssignments(agg.Assignments, []models.Assignment{assignment})
	})
}

// AddSubmission appends a submission if its id is not already present. The
// idempotence guards against the same submission arriving through both the
// initial fetch and a live event.
func (s *Store) AddSubmission(submission models.Submission) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.Submissions = appendSubmissionIfAbsent(agg.Submissions, submission)
	})
}

func (s *Store) SetQuestionBank(questions []models.Question) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.QuestionBank = questions
	})
}

func (s *Store) AppendToQuestionBank(questions []models.Question) {
	s.mutate(func(agg *models.QuizAggregate) {
		agg.QuestionBank = append(agg.QuestionBank, questions...)
	})
}

// UpdateProgress runs fn against the progress record under the store lock
// and schedules persistence.
func (s *Store) UpdateProgress(fn func(p *models.StudentProgress)) {
	s.mutate(func(agg *models.QuizAggregate) {
		if agg.Progress == nil {
			agg.Progress = models.NewStudentProgress()
		}
		fn(agg.Progress)
	})
}

// Snapshot returns a value copy of the aggregate for readers. Mutating the
// copy never touches store state.
func (s *Store) Snapshot() models.QuizAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAggregate(s.agg)
}

// PendingAssignments returns the joined-class assignments the student has
// not submitted yet. This filter, together with the collection-level
// uniqueness constraint, prevents duplicate submissions.
func (s *Store) PendingAssignments() []models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	submitted := make(map[string]bool, len(s.agg.Submissions))
	for _, sub := range s.agg.Submissions {
		if sub.StudentID == s.userID {
			submitted[sub.AssignmentID] = true
		}
	}

	joined := make(map[string]bool, len(s.agg.JoinedClasses))
	for _, c := range s.agg.JoinedClasses {
		joined[c.ID] = true
	}

	var pending []models.Assignment
	for _, a := range s.agg.Assignments {
		if joined[a.ClassID] && !submitted[a.ID] {
			pending = append(pending, a)
		}
	}
	return pending
}

// ===== PERSISTENCE =====

func (s *Store) mutate(fn func(agg *models.QuizAggregate)) {
	s.mu.Lock()
	fn(s.agg)
	if s.hydrating {
		s.deferred = append(s.deferred, fn)
	}
	s.scheduleWriteLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) mutateQuiz(quizID string, fn func(q *models.Quiz)) error {
	found := false
	s.mutate(func(agg *models.QuizAggregate) {
		for i := range agg.Quizzes {
			if agg.Quizzes[i].ID == quizID {
				fn(&agg.Quizzes[i])
				found = true
				return
			}
		}
	})
	if !found {
		return ErrQuizNotFound
	}
	return nil
}

// scheduleWriteLocked coalesces mutations inside one debounce window into a
// single blob write. Writes are skipped entirely while hydration is in
// flight.
func (s *Store) scheduleWriteLocked() {
	s.dirty = true
	if s.hydrating || s.closed {
		return
	}
	if s.pending != nil {
		return
	}
	s.pending = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Error("Debounced aggregate write failed",
				"user_id", s.userID, "error", err)
		}
	})
}

// Flush performs any pending write immediately. Used by the debounce timer
// and at session teardown.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if !s.dirty || s.hydrating {
		s.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(s.agg)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode aggregate: %w", err)
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.docs.Set(ctx, store.AggregateKey(s.userID), string(data), 0); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("persist aggregate: %w", err)
	}
	return nil
}

// Close flushes pending state and releases subscribers. The store must not
// be used afterwards.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan struct{}]struct{})
	s.mu.Unlock()
	return err
}

// ===== OBSERVERS =====

// Subscribe returns a channel pulsed after every mutation, plus a cancel
// function. Consumers read the new state via Snapshot.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ===== MERGE HELPERS =====

// mergeClass keeps remote as the winner for shared fields (name, teacher,
// roster) while preserving local identity fields.
func mergeClass(local, remote models.Class) models.Class {
	merged := local
	if remote.Name != "" {
		merged.Name = remote.Name
	}
	if remote.Code != "" {
		merged.Code = remote.Code
	}
	if remote.TeacherID != "" {
		merged.TeacherID = remote.TeacherID
	}
	if remote.TeacherName != "" {
		merged.TeacherName = remote.TeacherName
	}
	if remote.Students != nil {
		merged.Students = remote.Students
	}
	if !remote.CreatedAt.IsZero() {
		merged.CreatedAt = remote.CreatedAt
	}
	return merged
}

func mergeAssignments(existing []models.Assignment, incoming []models.Assignment) []models.Assignment {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.ID] = true
	}
	for _, a := range incoming {
		if !seen[a.ID] {
			existing = append(existing, a)
			seen[a.ID] = true
		}
	}
	return existing
}

func appendSubmissionIfAbsent(existing []models.Submission, submission models.Submission) []models.Submission {
	for _, s := range existing {
		if s.ID == submission.ID {
			return existing
		}
	}
	return append(existing, submission)
}

func cloneQuiz(q models.Quiz) models.Quiz {
	out := q
	out.Questions = make([]models.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]models.QuestionOption(nil), question.Options...)
		out.Questions[i] = question
	}
	out.Tags = append([]string(nil), q.Tags...)
	return out
}

func cloneAggregate(agg *models.QuizAggregate) models.QuizAggregate {
	data, err := json.Marshal(agg)
	if err != nil {
		return *models.NewQuizAggregate()
	}
	out := models.NewQuizAggregate()
	if err := json.Unmarshal(data, out); err != nil {
		return *models.NewQuizAggregate()
	}
	return *out
}
