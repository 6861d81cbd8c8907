package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/events"
	"github.com/quizforge/core-service/internal/models"
)

// Coordinator maintains the live subscriptions for one user: one per owned
// class (roster changes) and one per owned assignment (incoming
// submissions), merging deltas into the aggregate store. Resubscription
// happens only when the count of classes or assignments changes, never on
// plain field mutations, to avoid subscription thrashing.
type Coordinator struct {
	bus    *events.Bus
	store  *aggregate.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	classCancels      map[string]context.CancelFunc
	assignmentCancels map[string]context.CancelFunc
	started           bool
}

func NewCoordinator(bus *events.Bus, store *aggregate.Store, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		bus:               bus,
		store:             store,
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
		classCancels:      make(map[string]context.CancelFunc),
		assignmentCancels: make(map[string]context.CancelFunc),
	}
}

// Start establishes the initial subscription set and keeps it aligned with
// the aggregate as classes and assignments come and go.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.refresh()

	changes, cancelChanges := c.store.Subscribe()
	go func() {
		defer cancelChanges()
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
				c.refresh()
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop tears down every subscription. Called on session end.
func (c *Coordinator) Stop() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.classCancels {
		cancel()
		delete(c.classCancels, id)
	}
	for id, cancel := range c.assignmentCancels {
		cancel()
		delete(c.assignmentCancels, id)
	}
}

// refresh realigns subscriptions with the owned collections. A class rename
// does not resubscribe; a new or removed class rebuilds the class set.
func (c *Coordinator) refresh() {
	snapshot := c.store.Snapshot()
	userID := c.store.UserID()

	classIDs := make(map[string]bool)
	for _, class := range snapshot.Classes {
		if class.TeacherID == "" || class.TeacherID == userID {
			classIDs[class.ID] = true
		}
	}

	assignmentIDs := make(map[string]bool)
	for _, assignment := range snapshot.Assignments {
		if assignment.TeacherID == userID {
			assignmentIDs[assignment.ID] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}

	if len(classIDs) != len(c.classCancels) {
		for id, cancel := range c.classCancels {
			cancel()
			delete(c.classCancels, id)
		}
		for id := range classIDs {
			c.subscribeClassLocked(id)
		}
	}

	if len(assignmentIDs) != len(c.assignmentCancels) {
		for id, cancel := range c.assignmentCancels {
			cancel()
			delete(c.assignmentCancels, id)
		}
		for id := range assignmentIDs {
			c.subscribeAssignmentLocked(id)
		}
	}
}

func (c *Coordinator) subscribeClassLocked(classID string) {
	ctx, cancel := context.WithCancel(c.ctx)
	eventsCh, err := c.bus.Subscribe(ctx, events.ClassTopic(classID))
	if err != nil {
		cancel()
		c.logger.Error("Class subscription failed", "class_id", classID, "error", err)
		return
	}
	c.classCancels[classID] = cancel

	go func() {
		for event := range eventsCh {
			var class models.Class
			if err := event.Decode(&class); err != nil {
				c.logger.Error("Malformed class delta", "class_id", classID, "error", err)
				continue
			}
			c.store.MergeClass(class)
		}
	}()
}

func (c *Coordinator) subscribeAssignmentLocked(assignmentID string) {
	ctx, cancel := context.WithCancel(c.ctx)
	eventsCh, err := c.bus.Subscribe(ctx, events.AssignmentTopic(assignmentID))
	if err != nil {
		cancel()
		c.logger.Error("Assignment subscription failed", "assignment_id", assignmentID, "error", err)
		return
	}
	c.assignmentCancels[assignmentID] = cancel

	go func() {
		for event := range eventsCh {
			var submission models.Submission
			if err := event.Decode(&submission); err != nil {
				c.logger.Error("Malformed submission delta", "assignment_id", assignmentID, "error", err)
				continue
			}
			// AddSubmission is idempotent by id, so a submission arriving
			// through both the initial fetch and a live event lands once.
			c.store.AddSubmission(submission)
		}
	}()
}

// Registry holds one coordinator per signed-in user, torn down with the
// session.
type Registry struct {
	bus    *events.Bus
	logger *slog.Logger

	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		bus:          bus,
		logger:       logger,
		coordinators: make(map[string]*Coordinator),
	}
}

func (r *Registry) Attach(store *aggregate.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coordinators[store.UserID()]; ok {
		return
	}
	coordinator := NewCoordinator(r.bus, store, r.logger)
	r.coordinators[store.UserID()] = coordinator
	coordinator.Start()
}

func (r *Registry) Detach(userID string) {
	r.mu.Lock()
	coordinator, ok := r.coordinators[userID]
	if ok {
		delete(r.coordinators, userID)
	}
	r.mu.Unlock()
	if ok {
		coordinator.Stop()
	}
}

func (r *Registry) Shutdown() {
	r.mu.Lock()
	coordinators := r.coordinators
	r.coordinators = make(map[string]*Coordinator)
	r.mu.Unlock()
	for _, coordinator := range coordinators {
		coordinator.Stop()
	}
}
