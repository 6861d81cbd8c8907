package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type classDelta struct {
	ClassID string `json:"class_id"`
	Name    string `json:"name"`
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received, err := bus.Subscribe(ctx, ClassTopic("class-1"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	event, err := NewEvent(TopicClassUpdated, classDelta{ClassID: "class-1", Name: "Algebra"})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	if err := bus.Publish(ctx, ClassTopic("class-1"), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.Type != TopicClassUpdated {
			t.Errorf("event type = %q, want %q", got.Type, TopicClassUpdated)
		}
		if got.ID != event.ID {
			t.Errorf("event id = %q, want %q", got.ID, event.ID)
		}
		var delta classDelta
		if err := got.Decode(&delta); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if delta.Name != "Algebra" {
			t.Errorf("decoded name = %q, want Algebra", delta.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TopicScoping(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := bus.Subscribe(ctx, ClassTopic("class-2"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	event, err := NewEvent(TopicClassUpdated, classDelta{ClassID: "class-1"})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	if err := bus.Publish(ctx, ClassTopic("class-1"), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-other:
		t.Fatalf("class-2 subscriber received %v, want nothing", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTopicNames(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"class", ClassTopic("c1"), "class.updated.c1"},
		{"assignment", AssignmentTopic("a1"), "submission.created.a1"},
		{"user", UserTopic("u1"), "notification.created.u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("topic = %q, want %q", tc.got, tc.want)
			}
		})
	}
}

func TestNewEvent_Envelope(t *testing.T) {
	event, err := NewEvent(TopicSubmissionCreated, map[string]int{"score": 4})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	if event.ID == "" {
		t.Error("event id is empty")
	}
	if event.Source != eventSource {
		t.Errorf("source = %q, want %q", event.Source, eventSource)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp is zero")
	}
}

func TestNewEvent_UnmarshalablePayload(t *testing.T) {
	if _, err := NewEvent(TopicClassUpdated, make(chan int)); err == nil {
		t.Fatal("NewEvent() error = nil, want marshal failure")
	}
}

type failingPublisher struct {
	err    error
	closed bool
}

func (f *failingPublisher) Publish(context.Context, string, *Event) error { return f.err }
func (f *failingPublisher) Close() error {
	f.closed = true
	return f.err
}

func TestFanOutPublisher(t *testing.T) {
	first := NewMockEventPublisher(nil)
	second := NewMockEventPublisher(nil)
	fan := NewFanOutPublisher(first, second)

	event, err := NewEvent(TopicClassUpdated, classDelta{ClassID: "c1"})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	if err := fan.Publish(context.Background(), ClassTopic("c1"), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := len(first.GetPublishedEvents()); got != 1 {
		t.Errorf("first publisher got %d events, want 1", got)
	}
	if got := len(second.GetPublishedEvents()); got != 1 {
		t.Errorf("second publisher got %d events, want 1", got)
	}
}

func TestFanOutPublisher_KeepsDelivering(t *testing.T) {
	broken := &failingPublisher{err: errors.New("broker down")}
	healthy := NewMockEventPublisher(nil)
	fan := NewFanOutPublisher(broken, healthy)

	event, err := NewEvent(TopicClassUpdated, classDelta{ClassID: "c1"})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	if err := fan.Publish(context.Background(), ClassTopic("c1"), event); !errors.Is(err, broken.err) {
		t.Fatalf("Publish() error = %v, want first failure surfaced", err)
	}
	if got := len(healthy.GetPublishedEvents()); got != 1 {
		t.Errorf("healthy publisher got %d events, want delivery despite sibling failure", got)
	}

	if err := fan.Close(); !errors.Is(err, broken.err) {
		t.Errorf("Close() error = %v, want first failure surfaced", err)
	}
	if !broken.closed {
		t.Error("broken publisher was not closed")
	}
}
