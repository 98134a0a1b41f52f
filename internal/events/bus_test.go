package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskAssignedEvent{
		ID:        "task-1",
		Title:     "Test Task",
		AgentID:   "agent-1",
		Timestamp: time.Now(),
	})

	select {
	case received := <-sub.C:
		if received.EntityID() != "task-1" {
			t.Errorf("expected entity 'task-1', got '%s'", received.EntityID())
		}
		if received.EventType() != EventTypeTaskAssigned {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskAssigned, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when buffers are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicAgent, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicAgent, AgentStatusEvent{ID: "a", Status: "idle"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
	select {
	case <-sub.C:
	default:
		t.Error("expected one buffered event")
	}
}

// TestTopicIsolationAndSubscribeAll verifies topic routing.
func TestTopicIsolationAndSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskSub := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Publish(TopicAgent, AgentCreatedEvent{ID: "a"})
	bus.Publish(TopicTask, TaskCreatedEvent{ID: "t"})

	if got := len(taskSub.C); got != 1 {
		t.Errorf("task subscriber got %d events, want 1", got)
	}
	if got := len(all.C); got != 2 {
		t.Errorf("SubscribeAll got %d events, want 2", got)
	}
}

// TestUnsubscribe verifies an unsubscribed channel is closed and skipped.
func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	keep := bus.Subscribe(TopicTask, 10)
	drop := bus.Subscribe(TopicTask, 10)
	bus.Unsubscribe(drop)

	bus.Publish(TopicTask, TaskDeletedEvent{ID: "t"})

	if _, ok := <-drop.C; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if len(keep.C) != 1 {
		t.Error("remaining subscriber should still receive events")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(TopicTask, 10)
	bus.Close()
	bus.Close()

	bus.Publish(TopicTask, TaskDeletedEvent{ID: "t"})

	if _, ok := <-sub.C; ok {
		t.Error("received event after bus was closed")
	}

	late := bus.Subscribe(TopicTask, 1)
	if _, ok := <-late.C; ok {
		t.Error("subscription after close should be closed")
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic.
	Discard.Publish(TopicPool, PoolProgressEvent{})
}
