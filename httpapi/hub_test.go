package httpapi

import (
	"testing"

	"pkt.systems/syncrelay/schema"
)

func TestHubPublishesToSessionAndOperatorFeeds(t *testing.T) {
	hub := NewHub(16)
	sessionCh, sessionUnsub, _, _ := hub.Subscribe("s1")
	defer sessionUnsub()
	allCh, allUnsub, _, _ := hub.Subscribe(feedAll)
	defer allUnsub()

	hub.OnRecord(schema.RecordEvent{
		Session: "s1",
		Record:  schema.Record{Session: "s1", Revision: 1},
		Source:  schema.SourceRemote,
	})

	event := <-sessionCh
	if event.Type != "record" || event.Session != "s1" || event.Record == nil {
		t.Fatalf("unexpected session feed event: %+v", event)
	}
	event = <-allCh
	if event.Type != "record" || event.Session != "s1" {
		t.Fatalf("unexpected operator feed event: %+v", event)
	}
}

func TestHubScopesSessionFeeds(t *testing.T) {
	hub := NewHub(16)
	ch, unsub, _, _ := hub.Subscribe("a")
	defer unsub()

	hub.OnCommand(schema.CommandEvent{Session: "b", Token: "advance_next"})
	hub.OnCommand(schema.CommandEvent{Session: "a", Token: "invalid_code"})

	event := <-ch
	if event.Session != "a" || event.Token != "invalid_code" {
		t.Fatalf("expected only session a events, got %+v", event)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestHubReplayAfterSeq(t *testing.T) {
	hub := NewHub(16)
	for i := 0; i < 5; i++ {
		hub.OnSession(schema.SessionEvent{Session: "s", Type: schema.SessionCreated})
	}
	events := hub.Replay("s", 3)
	if len(events) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(events))
	}
	if events[0].Seq != 4 || events[1].Seq != 5 {
		t.Fatalf("unexpected replay seqs: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 10; i++ {
		hub.OnSession(schema.SessionEvent{Session: "s", Type: schema.SessionCreated})
	}
	events := hub.Replay("s", 0)
	if len(events) != 3 {
		t.Fatalf("expected bounded history of 3, got %d", len(events))
	}
	if events[0].Seq != 8 {
		t.Fatalf("expected oldest retained seq 8, got %d", events[0].Seq)
	}
}
