package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventUserMessage)

	bus.Publish(NewTypedEvent(SourceWS, UserMessagePayload{Content: "hello"}))
	bus.Publish(NewTypedEvent(SourceAgent, AssistantStreamPayload{Phase: StreamPhaseStart}))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventUserMessage {
		t.Errorf("expected user.message, got %s", received[0].Type)
	}
}

func TestBusPreservesOrder(t *testing.T) {
	bus := NewBus(64)

	var got []int
	bus.Subscribe(func(e Event) {
		p, _ := ExtractPayload[AssistantStreamPayload](e)
		got = append(got, p.Index)
	})

	for i := 0; i < 20; i++ {
		bus.Publish(NewTypedEvent(SourceAgent, AssistantStreamPayload{Phase: StreamPhaseDelta, Index: i}))
	}
	bus.Close()

	if len(got) != 20 {
		t.Fatalf("expected 20 events, got %d", len(got))
	}
	for i, idx := range got {
		if idx != i {
			t.Fatalf("event %d has index %d", i, idx)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(8)
	count := 0
	unsub := bus.Subscribe(func(Event) { count++ })
	unsub()
	unsub()
	bus.Publish(NewTypedEvent(SourceWS, UserMessagePayload{Content: "x"}))
	bus.Close()
	if count != 0 {
		t.Errorf("handler called %d times after unsubscribe", count)
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(8)
	bus.Close()
	bus.Close()
	bus.Publish(NewTypedEvent(SourceWS, UserMessagePayload{Content: "late"}))
	if n := len(bus.History(10)); n != 0 {
		t.Errorf("history has %d events", n)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewEvent(EventUserMessage, SourceWS, map[string]any{"i": i}))
	}

	events := rb.Get(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Payload["i"] != 2 || events[2].Payload["i"] != 4 {
		t.Errorf("unexpected order: %v, %v", events[0].Payload, events[2].Payload)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch := make(chan Event, 8)
	unsub := bus.Subscribe(func(e Event) { ch <- e }, EventReminderOverdue)
	defer unsub()

	bus.Publish(NewTypedEvent(SourceWS, UserMessagePayload{Content: "hello"}))
	bus.Publish(NewTypedEvent(SourceReminders, ReminderPayload{Overdue: []string{"taxes"}, Total: 1}))

	select {
	case e := <-ch:
		if e.Type != EventReminderOverdue {
			t.Errorf("expected reminder.overdue, got %s", e.Type)
		}
		p, ok := ExtractPayload[ReminderPayload](e)
		if !ok || len(p.Overdue) != 1 || p.Overdue[0] != "taxes" {
			t.Errorf("payload = %+v, %v", p, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestExtractPayloadWrongType(t *testing.T) {
	e := NewTypedEvent(SourceAgent, AssistantMessagePayload{Content: "hi", Outcome: "answered"})
	if _, ok := ExtractPayload[ToolCallPayload](e); ok {
		t.Error("expected false for mismatched payload type")
	}
	got, ok := ExtractPayload[AssistantMessagePayload](e)
	if !ok || got.Content != "hi" || got.Outcome != "answered" {
		t.Errorf("got %+v, %v", got, ok)
	}
}
