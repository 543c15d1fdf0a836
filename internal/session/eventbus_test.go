package session

import (
	"testing"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := NewEventBus(8)
	ch, cancel := bus.Subscribe(nil)
	defer cancel()

	bus.Publish(EventStats, map[string]int{"total_chunks": 3})

	e := <-ch
	if e.Type != EventStats {
		t.Errorf("event type = %q, want %q", e.Type, EventStats)
	}
	if e.ID == "" || e.Timestamp == "" {
		t.Errorf("event missing ID or timestamp: %+v", e)
	}
}

func TestEventBusTypeFilter(t *testing.T) {
	bus := NewEventBus(8)
	ch, cancel := bus.Subscribe([]string{EventSegment})
	defer cancel()

	bus.Publish(EventStats, 1)
	bus.Publish(EventSegment, "hello")

	e := <-ch
	if e.Type != EventSegment {
		t.Errorf("filtered subscriber got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %q", e.Type)
	default:
	}
}

func TestEventBusReplaySince(t *testing.T) {
	bus := NewEventBus(8)
	bus.Publish(EventStatus, "a")
	bus.Publish(EventStatus, "b")

	all := bus.ReplaySince("", nil)
	if len(all) != 2 {
		t.Fatalf("replay returned %d events, want 2", len(all))
	}

	after := bus.ReplaySince(all[0].ID, nil)
	if len(after) != 1 || string(after[0].Data) != `"b"` {
		t.Errorf("replay after first = %v", after)
	}
}

func TestEventBusSubscriberCount(t *testing.T) {
	bus := NewEventBus(8)
	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
	_, cancel1 := bus.Subscribe(nil)
	_, cancel2 := bus.Subscribe(nil)
	if got := bus.SubscriberCount(); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
	cancel1()
	cancel2()
	cancel2() // cancel is safe to call twice
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("count after cancel = %d, want 0", got)
	}
}
