package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Topics carried on the event bus. Collection writers publish, the realtime
// coordinator and the websocket layer subscribe.
const (
	TopicClassUpdated        = "class.updated"
	TopicSubmissionCreated   = "submission.created"
	TopicNotificationCreated = "notification.created"
)

const eventSource = "quizforge-core"

// ClassTopic scopes class updates so one subscription covers exactly one
// class roster.
func ClassTopic(classID string) string {
	return TopicClassUpdated + "." + classID
}

// AssignmentTopic scopes submission events to a single assignment.
func AssignmentTopic(assignmentID string) string {
	return TopicSubmissionCreated + "." + assignmentID
}

// UserTopic scopes notification delivery to a single user.
func UserTopic(userID string) string {
	return TopicNotificationCreated + "." + userID
}

// Event is the envelope for every message on the bus.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps a payload into an envelope.
func NewEvent(eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// Decode unmarshals the event payload into dest.
func (e *Event) Decode(dest interface{}) error {
	return json.Unmarshal(e.Data, dest)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
	Close() error
}

// Bus is the in-process pub/sub used for realtime synchronization. It wraps
// a watermill GoChannel so per-class and per-assignment subscriptions get
// independent delivery without an external broker.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
		logger: logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for a topic. Cancel the
// context to release the subscription.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan *Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Error("Dropping malformed event", "topic", topic, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// KafkaPublisher mirrors events onto a Kafka topic for cross-instance
// deployments. The in-process bus stays authoritative for local delivery.
type KafkaPublisher struct {
	publisher message.Publisher
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return &KafkaPublisher{publisher: publisher}, nil
}

func (p *KafkaPublisher) Publish(_ context.Context, topic string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.publisher.Publish(topic, message.NewMessage(event.ID, payload))
}

func (p *KafkaPublisher) Close() error {
	return p.publisher.Close()
}

// FanOutPublisher delivers each event to every wrapped publisher. Used to
// mirror the in-process bus onto Kafka when brokers are configured.
type FanOutPublisher struct {
	publishers []EventPublisher
}

func NewFanOutPublisher(publishers ...EventPublisher) *FanOutPublisher {
	return &FanOutPublisher{publishers: publishers}
}

func (f *FanOutPublisher) Publish(ctx context.Context, topic string, event *Event) error {
	var firstErr error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, topic, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FanOutPublisher) Close() error {
	var firstErr error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MockEventPublisher records events for assertions in tests.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*Event
	logger *slog.Logger
}

func NewMockEventPublisher(logger *slog.Logger) *MockEventPublisher {
	return &MockEventPublisher{logger: logger}
}

func (m *MockEventPublisher) Publish(_ context.Context, topic string, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.logger != nil {
		m.logger.Debug("Mock publish", "topic", topic, "type", event.Type)
	}
	return nil
}

func (m *MockEventPublisher) GetPublishedEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockEventPublisher) ClearEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *MockEventPublisher) Close() error { return nil }
