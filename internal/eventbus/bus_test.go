package eventbus

import (
	"testing"
	"time"

	"pkt.systems/syncrelay/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	event := schema.RecordEvent{Session: "s1", Record: schema.Record{Session: "s1", Revision: 1}}
	bus.OnRecord(event)

	select {
	case got := <-ch:
		if got.Type != EventRecord {
			t.Fatalf("expected record event, got %v", got.Type)
		}
		if got.Record.Session != event.Session || got.Record.Record.Revision != 1 {
			t.Fatalf("unexpected payload: %+v", got.Record)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishIsScopedToSession(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnCommand(schema.CommandEvent{Session: "other", Token: "invalid_password"})
	select {
	case got := <-ch:
		t.Fatalf("unexpected event for foreign session: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("s1")
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs["s1"] {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventRecord}
	done := make(chan struct{})
	go func() {
		bus.OnRecord(schema.RecordEvent{Session: "s1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
