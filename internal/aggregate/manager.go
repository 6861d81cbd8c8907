package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quizforge/core-service/internal/store"
)

// Manager tracks one Store per signed-in user. Stores are created on
// session start, hydrated once, and closed (flushing pending writes) on
// session end.
type Manager struct {
	docs        store.DocumentStore
	collections *store.CollectionStore
	logger      *slog.Logger
	debounce    time.Duration

	mu     sync.RWMutex
	stores map[string]*Store
}

func NewManager(docs store.DocumentStore, collections *store.CollectionStore, logger *slog.Logger) *Manager {
	return &Manager{
		docs:        docs,
		collections: collections,
		logger:      logger,
		debounce:    DefaultDebounce,
		stores:      make(map[string]*Store),
	}
}

// SetDebounce overrides the write coalescing window for stores created
// after the call. Must be set before the first session starts.
func (m *Manager) SetDebounce(d time.Duration) {
	if d > 0 {
		m.debounce = d
	}
}

// GetOrCreate returns the user's store, hydrating a fresh one when the
// user has no active session state yet.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*Store, error) {
	m.mu.RLock()
	s, ok := m.stores[userID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	if s, ok = m.stores[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s = NewStoreWithDebounce(userID, m.docs, m.collections, m.logger, m.debounce)
	m.stores[userID] = s
	m.mu.Unlock()

	if err := s.Hydrate(ctx); err != nil {
		m.mu.Lock()
		delete(m.stores, userID)
		m.mu.Unlock()
		return nil, err
	}
	return s, nil
}

func (m *Manager) Get(userID string) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[userID]
	return s, ok
}

// Remove closes and drops a user's store, flushing pending writes.
func (m *Manager) Remove(ctx context.Context, userID string) {
	m.mu.Lock()
	s, ok := m.stores[userID]
	if ok {
		delete(m.stores, userID)
	}
	m.mu.Unlock()

	if ok {
		if err := s.Close(ctx); err != nil {
			m.logger.Error("Failed to close aggregate store",
				"user_id", userID, "error", err)
		}
	}
}

// Shutdown flushes and closes every active store.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*Store)
	m.mu.Unlock()

	for userID, s := range stores {
		if err := s.Close(ctx); err != nil {
			m.logger.Error("Failed to close aggregate store during shutdown",
				"user_id", userID, "error", err)
		}
	}
}
