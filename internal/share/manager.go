package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/store"
)

var ErrSnapshotNotFound = errors.New("shared snapshot not found")

// Manager creates and resolves immutable shared quiz snapshots and appends
// leaderboard entries. Snapshots are never deleted by the service; old
// links keep resolving after the source quiz moves on.
type Manager struct {
	docs   store.DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(docs store.DocumentStore, logger *slog.Logger) *Manager {
	return &Manager{docs: docs, logger: logger, now: time.Now}
}

// NewManagerWithClock is test-only for deterministic leaderboard dates.
func NewManagerWithClock(docs store.DocumentStore, logger *slog.Logger, now func() time.Time) *Manager {
	return &Manager{docs: docs, logger: logger, now: now}
}

// GetOrCreateShareID returns the quiz's share id, minting a snapshot on
// first use. Calling it again on an unmodified quiz returns the existing id
// without creating a second snapshot. The caller is responsible for
// persisting the stamped quiz back into its aggregate.
func (m *Manager) GetOrCreateShareID(ctx context.Context, quiz *models.Quiz, createdBy string) (string, error) {
	if quiz.ShareID != "" {
		return quiz.ShareID, nil
	}

	shareID := uuid.New().String()
	questions := quiz.Questions
	if len(questions) > models.MaxSharedQuestions {
		questions = questions[:models.MaxSharedQuestions]
	}
	snapshot := models.SharedQuizSnapshot{
		ID:        shareID,
		Name:      quiz.Name,
		Questions: append([]models.Question(nil), questions...),
		Subject:   quiz.Subject,
		CreatedBy: createdBy,
		CreatedAt: m.now(),
	}

	if err := m.writeSnapshot(ctx, &snapshot); err != nil {
		return "", err
	}

	quiz.ShareID = shareID
	m.logger.Info("Shared snapshot created",
		"share_id", shareID,
		"quiz_id", quiz.ID,
		"questions", len(snapshot.Questions))
	return shareID, nil
}

// Resolve loads a snapshot by share id.
func (m *Manager) Resolve(ctx context.Context, shareID string) (*models.SharedQuizSnapshot, error) {
	raw, err := m.docs.Get(ctx, store.ShareKey(shareID))
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("resolve snapshot: %w", err)
	}

	var snapshot models.SharedQuizSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", shareID, err)
	}
	return &snapshot, nil
}

// RecordPlay increments the play counter and inserts a leaderboard entry,
// keeping the top entries sorted by score descending with earlier dates
// winning ties.
func (m *Manager) RecordPlay(ctx context.Context, shareID, playerName string, score float64) (*models.SharedQuizSnapshot, error) {
	snapshot, err := m.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}

	snapshot.TimesTaken++
	snapshot.Leaderboard = insertEntry(snapshot.Leaderboard, models.LeaderboardEntry{
		Name:  playerName,
		Score: score,
		Date:  m.now(),
	})

	if err := m.writeSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (m *Manager) writeSnapshot(ctx context.Context, snapshot *models.SharedQuizSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.docs.Set(ctx, store.ShareKey(snapshot.ID), string(data), 0); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func insertEntry(board []models.LeaderboardEntry, entry models.LeaderboardEntry) []models.LeaderboardEntry {
	board = append(board, entry)
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].Date.Before(board[j].Date)
	})
	if len(board) > models.LeaderboardSize {
		board = board[:models.LeaderboardSize]
	}
	return board
}
