package realtime

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/events"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/store"
)

type memoryDocStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{data: make(map[string]string)}
}

func (m *memoryDocStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return "", store.ErrDocNotFound
	}
	return value, nil
}

func (m *memoryDocStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryDocStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinator_ClassDelta(t *testing.T) {
	bus := events.NewBus(testLogger())
	defer bus.Close()

	agg := aggregate.NewStore("teacher-1", newMemoryDocStore(), nil, testLogger())
	agg.AddClass(models.Class{ID: "class-1", Name: "Bio 101", TeacherID: "teacher-1"})

	c := NewCoordinator(bus, agg, testLogger())
	c.Start()
	defer c.Stop()

	// The subscription for class-1 comes up asynchronously; give it a beat.
	time.Sleep(50 * time.Millisecond)

	delta := models.Class{
		ID:        "class-1",
		Name:      "Bio 101 (renamed)",
		TeacherID: "teacher-1",
		Students:  []models.ClassStudent{{StudentID: "student-9", Name: "Ada"}},
	}
	event, err := events.NewEvent(events.TopicClassUpdated, delta)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(context.Background(), events.ClassTopic("class-1"), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		snap := agg.Snapshot()
		return len(snap.Classes) == 1 &&
			snap.Classes[0].Name == "Bio 101 (renamed)" &&
			len(snap.Classes[0].Students) == 1
	}, "class delta never merged into the aggregate")
}

func TestCoordinator_SubmissionDelta(t *testing.T) {
	bus := events.NewBus(testLogger())
	defer bus.Close()

	agg := aggregate.NewStore("teacher-1", newMemoryDocStore(), nil, testLogger())
	agg.AddAssignment(models.Assignment{ID: "assign-1", TeacherID: "teacher-1", ClassID: "class-1"})

	c := NewCoordinator(bus, agg, testLogger())
	c.Start()
	defer c.Stop()

	time.Sleep(50 * time.Millisecond)

	submission := models.Submission{
		ID:           "sub-1",
		AssignmentID: "assign-1",
		StudentID:    "student-9",
		Score:        8,
		Total:        10,
	}
	event, err := events.NewEvent(events.TopicSubmissionCreated, submission)
	if err != nil {
		t.Fatal(err)
	}

	// Duplicate delivery must land exactly once.
	for i := 0; i < 2; i++ {
		if err := bus.Publish(context.Background(), events.AssignmentTopic("assign-1"), event); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	waitFor(t, func() bool {
		return len(agg.Snapshot().Submissions) == 1
	}, "submission delta never merged into the aggregate")

	// Hold briefly to catch a duplicate sneaking in after the first merge.
	time.Sleep(50 * time.Millisecond)
	if got := len(agg.Snapshot().Submissions); got != 1 {
		t.Errorf("duplicate event landed, submissions = %d", got)
	}
}

func TestRegistry_AttachDetach(t *testing.T) {
	bus := events.NewBus(testLogger())
	defer bus.Close()

	registry := NewRegistry(bus, testLogger())
	agg := aggregate.NewStore("u1", newMemoryDocStore(), nil, testLogger())

	registry.Attach(agg)
	registry.Attach(agg) // idempotent

	registry.mu.Lock()
	count := len(registry.coordinators)
	registry.mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 coordinator, got %d", count)
	}

	registry.Detach("u1")
	registry.Detach("u1") // second detach is a no-op

	registry.mu.Lock()
	count = len(registry.coordinators)
	registry.mu.Unlock()
	if count != 0 {
		t.Errorf("expected 0 coordinators after detach, got %d", count)
	}
}
